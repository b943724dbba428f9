// Package trigger decides when a sync pass should run: on a timer, and
// on the connectivity edge when the API origin becomes reachable again.
package trigger
