// Package device implements the virtual character device core: identity
// derivation, the three-phase registration state machine with ordered
// rollback, session accounting, and the bounded-buffer chunked write
// ingestion path.
//
// Registration acquires a major number, a device class and a device
// node in that order from a registry.Provider, and releases them in
// exact reverse order on teardown. A phase failure during Initialize
// rolls back every handle an earlier phase set, so a failed load leaves
// nothing allocated.
package device
