package rag

import "sync"

// CancelToken is the out-of-band stop signal for answer streaming. It is
// scoped to one request: the transport layer cancels it when the user hits
// stop, and the streaming loop checks it before forwarding each fragment.
// A nil token is valid and never cancels.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

// NewCancelToken builds an uncancelled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel signals the token. Safe to call more than once and from any
// goroutine.
func (t *CancelToken) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.done) })
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed on cancellation. For a nil token it returns
// a nil channel, which never becomes ready in a select.
func (t *CancelToken) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.done
}
