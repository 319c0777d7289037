// Package healthcheck implements periodic health probing for backend servers.
// A Supervisor polls each backend's /health endpoint and toggles its health
// flag, which strategies pick up through the next healthy snapshot.
package healthcheck
