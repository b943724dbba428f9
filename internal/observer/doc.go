// Package observer maintains a live view of the daemon's queue for the
// watch UI: periodic polls, push events, and debounced refreshes merged
// into one snapshot stream.
package observer
