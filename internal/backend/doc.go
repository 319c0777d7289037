// Package backend defines the runtime record for a single upstream server.
// It provides identity, weight, health status, atomic connection tracking,
// and a bounded window of recent response times.
package backend
