package register

import (
	"context"
	"sync"
)

// fakeMessenger is an in-memory Messenger test double: Send routes the
// request to a handler function supplied by the test, which computes
// a response and arranges for it to be delivered back through the
// listener callback — exactly as a real socket's receive task would,
// but synchronously and deterministically.
type fakeMessenger struct {
	mu       sync.Mutex
	running  bool
	handler  func(destId, tag int, payload []byte) (resp []byte, deliver bool)
	callback func(tag int, payload []byte, err error) (quit bool)
}

func newFakeMessenger(handler func(destId, tag int, payload []byte) (resp []byte, deliver bool)) *fakeMessenger {
	return &fakeMessenger{handler: handler}
}

func (m *fakeMessenger) Start(ctx context.Context) error {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
	return nil
}

func (m *fakeMessenger) Stop(block bool) error {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	return nil
}

func (m *fakeMessenger) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *fakeMessenger) Send(ctx context.Context, destId, tag int, payload []byte) error {
	resp, deliver := m.handler(destId, tag, payload)
	if !deliver {
		return nil
	}
	m.mu.Lock()
	cb := m.callback
	m.mu.Unlock()
	if cb != nil {
		cb(tag, resp, nil)
	}
	return nil
}

func (m *fakeMessenger) Listen(ctx context.Context, callback func(tag int, payload []byte, err error) (quit bool)) (detach func()) {
	m.mu.Lock()
	m.callback = callback
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.callback = nil
		m.mu.Unlock()
	}
}
