// Package queue persists deferred mutations captured while the API is
// unreachable. The primary engine is SQLite; a JSON snapshot file store
// takes over permanently if the primary fails. Items carry a form or photo
// payload and move through pending, syncing, and failed states; successful
// replay removes the item entirely.
package queue
