package http

import "time"

// chatLimiter caps chat appends per minute on one connection. It is only
// touched from that connection's read loop, so it needs no locking; the
// window resets lazily on the next allow call.
type chatLimiter struct {
	limit   int
	counter int
	window  time.Time
}

func newChatLimiter(limit int) *chatLimiter {
	return &chatLimiter{limit: limit}
}

func (r *chatLimiter) allow() bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	now := time.Now()
	if now.Sub(r.window) >= time.Minute {
		r.window = now
		r.counter = 0
	}
	r.counter++
	return r.counter <= r.limit
}
