// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Frame throughput and dispatch latency per header
//   - Party operation and migration outcomes
//   - Relay delivery results
//   - Connected channels, online users, active parties, pending migrations
//   - Peers dropped for falling behind
package metrics
