// Package handler implements the main HTTP request handler for the load balancer.
// It coordinates per-request algorithm selection, backend dispatch, and the
// mapping of dispatch errors onto response status codes.
package handler
