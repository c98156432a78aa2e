package auth

import "sync/atomic"

type capture struct {
	artifact Artifact // bearer captures are complete as-is
	cookie   string
	source   string
}

// handoff is a single-slot mailbox shared by the request listener and the
// poller. Only the first Offer lands; later offers are dropped without
// blocking.
type handoff struct {
	filled atomic.Bool
	ch     chan capture
}

func newHandoff() *handoff {
	return &handoff{ch: make(chan capture, 1)}
}

func (h *handoff) Offer(c capture) bool {
	if !h.filled.CompareAndSwap(false, true) {
		return false
	}
	h.ch <- c
	return true
}

func (h *handoff) C() <-chan capture { return h.ch }

func (h *handoff) Take() (capture, bool) {
	select {
	case c := <-h.ch:
		return c, true
	default:
		return capture{}, false
	}
}
