package queue

import "errors"

// ErrNotFound indicates a lookup for an item id that is not stored.
var ErrNotFound = errors.New("queue item not found")

// ErrStorageUnavailable indicates both the primary and the fallback storage
// engines rejected an operation. Callers must surface this rather than
// silently dropping the capture.
var ErrStorageUnavailable = errors.New("queue storage unavailable")
