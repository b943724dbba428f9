// Command fieldsync is the control CLI for the fieldsync daemon.
package main
