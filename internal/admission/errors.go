package admission

import "errors"

// ErrQueueTimeout is returned by Queue.Acquire when no permit becomes
// available before the queue timeout (or ctx) elapses.
var ErrQueueTimeout = errors.New("admission: queue timeout")
