// Package monitoring provides Prometheus metrics for the daemon, plus
// a JSON snapshot for clients that do not scrape.
package monitoring
