// Package logging provides structured logging using uber/zap.
//
// Production mode emits JSON for machine parsing; development mode emits
// colored console output. Device-scoped loggers carry the derived device
// name on every entry, which is the only tag the daemon's log consumers
// key on.
package logging
