// Package interceptor captures failed API mutations into the offline
// queue and answers for them so callers see an accepted submission.
package interceptor
