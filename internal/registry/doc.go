// Package registry hands out the resources a device registration
// acquires: major numbers, device classes and device nodes. The FS
// provider backs classes with directories and nodes with unix socket
// files; Mem is the in-memory provider used to test rollback.
package registry
