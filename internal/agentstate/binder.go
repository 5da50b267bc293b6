package agentstate

import "sync"

// Binder holds the single live channel. Binding a new thread id closes the
// previous channel before the new one is returned.
type Binder struct {
	opts []Option

	mu      sync.Mutex
	current *Channel
}

func NewBinder(opts ...Option) *Binder {
	return &Binder{opts: opts}
}

func (b *Binder) Bind(threadID string) *Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current != nil {
		b.current.Close()
	}
	b.current = NewChannel(threadID, b.opts...)
	return b.current
}

func (b *Binder) Current() *Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}
