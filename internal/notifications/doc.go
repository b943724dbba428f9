// Package notifications delivers sync alerts via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Alerts cover the cases that need a human: an item exhausting its
// replay attempts and the queue falling back to degraded storage. Routine
// successful passes stay quiet.
package notifications
