package pcopy

import "context"

// mailbox is an unbounded FIFO channel pair owned by one sender and one
// receiver. A forwarding goroutine buffers values so Send never waits on the
// receiver, only on the forwarder picking the value up.
type mailbox[T any] struct {
	ctx context.Context
	in  chan T
	out chan T
}

func newMailbox[T any](ctx context.Context) *mailbox[T] {
	m := &mailbox[T]{
		ctx: ctx,
		in:  make(chan T),
		out: make(chan T),
	}
	go m.forward()
	return m
}

// Send queues v. It returns false if the mailbox context is done.
func (m *mailbox[T]) Send(v T) bool {
	select {
	case m.in <- v:
		return true
	case <-m.ctx.Done():
		return false
	}
}

// Close stops accepting values. Values already queued are still delivered
// unless the context is done first. Close must be called once, by the sender.
func (m *mailbox[T]) Close() {
	close(m.in)
}

// Out is closed after Close once every queued value has been delivered, or as
// soon as the context is done.
func (m *mailbox[T]) Out() <-chan T {
	return m.out
}

func (m *mailbox[T]) forward() {
	defer close(m.out)

	var buf []T
	in := m.in
	for in != nil || len(buf) > 0 {
		var out chan T
		var next T
		if len(buf) > 0 {
			out = m.out
			next = buf[0]
		}

		select {
		case v, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			buf = append(buf, v)
		case out <- next:
			var zero T
			buf[0] = zero
			buf = buf[1:]
		case <-m.ctx.Done():
			return
		}
	}
}
