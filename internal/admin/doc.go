// Package admin exposes the backend registry over HTTP: listing backends
// with live metrics, runtime registration and removal, and mapping
// prediction for the hashing strategies.
package admin
