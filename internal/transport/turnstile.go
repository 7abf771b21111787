package transport

// Turnstile is a counting semaphore bounding concurrent connections:
// blocking acquire, non-blocking release.
type Turnstile struct {
	slots chan struct{}
}

// NewTurnstile creates a turnstile admitting up to capacity holders.
// A capacity of zero or less means unbounded.
func NewTurnstile(capacity int) *Turnstile {
	if capacity <= 0 {
		return &Turnstile{}
	}
	return &Turnstile{slots: make(chan struct{}, capacity)}
}

// Acquire blocks until a slot is free.
func (t *Turnstile) Acquire() {
	if t.slots != nil {
		t.slots <- struct{}{}
	}
}

// Release frees a slot without blocking. Releasing more than was
// acquired is ignored.
func (t *Turnstile) Release() {
	if t.slots == nil {
		return
	}
	select {
	case <-t.slots:
	default:
	}
}

// InUse returns the number of held slots.
func (t *Turnstile) InUse() int {
	if t.slots == nil {
		return 0
	}
	return len(t.slots)
}
