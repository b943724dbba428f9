// Package ipc exposes daemon control over a Unix domain socket using
// JSON-RPC, plus a second socket that streams sync events as
// newline-delimited JSON.
package ipc
