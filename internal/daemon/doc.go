// Package daemon coordinates the offline queue, the syncer, and the
// trigger sources, and enforces single-instance execution.
package daemon
