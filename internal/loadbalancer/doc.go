// Package loadbalancer dispatches inbound requests: it takes a healthy
// snapshot from the registry, asks the selected strategy for a backend,
// forwards the request over HTTP, and records the outcome exactly once.
package loadbalancer
