// Package syncer replays queued mutations when connectivity allows and
// publishes outcome events to interested observers.
package syncer
