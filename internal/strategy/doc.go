// Package strategy defines the load balancing strategy interface and
// implements the six algorithms:
//
//   - Round Robin: Sequential distribution across backends
//   - Weighted Round Robin: Distribution proportional to backend weights
//   - Least Connections: Routes to backend with fewest active connections
//   - Least Response Time: Routes by combined recent-window and EWMA response times
//   - IP Hash: Client IP hashing with a stickiness cache for session affinity
//   - Consistent Hashing: MD5 hash ring with virtual nodes
//
// Callers pass only healthy backends; strategies reserve the chosen backend
// by incrementing its connection count before returning.
package strategy
