package vo

import "errors"

var ErrOrderNotFound = errors.New("order not found")

// ErrCaptureFailed wraps the last provider error once the retry budget is
// exhausted or the provider rejected the charge terminally.
var ErrCaptureFailed = errors.New("capture failed")
