package provider

import "sync"

// tailBuffer keeps the last capacity bytes written to it and notifies an
// optional activity callback on every write. Safe for concurrent use; the
// subprocess stdout and stderr pipes write from separate goroutines.
type tailBuffer struct {
	mu       sync.Mutex
	buf      []byte
	capacity int
	onWrite  func()
}

func newTailBuffer(capacity int, onWrite func()) *tailBuffer {
	return &tailBuffer{capacity: capacity, onWrite: onWrite}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.capacity {
		t.buf = t.buf[len(t.buf)-t.capacity:]
	}
	t.mu.Unlock()

	if t.onWrite != nil && len(p) > 0 {
		t.onWrite()
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
