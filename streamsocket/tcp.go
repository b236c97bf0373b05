// Package streamsocket provides a TCP Messenger: a reference
// implementation of the register.Messenger interface over a plain
// net.Conn, framing length-prefixed (tag, payload) messages and
// broadcasting received frames to every attached listener.
package streamsocket

import (
	"container/list"
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gep-client/register"
)

// frameHeaderLen is the fixed prefix before a frame's payload: a
// uint16 length (covering everything after the length field itself),
// a uint16 tag, and a one-byte registryId.
const frameHeaderLen = 2 + 2 + 1

const maxFrameLen = 0xFFFF

// TCP is a register.Messenger backed by a TCP connection. The zero
// value is not usable; construct with New.
type TCP struct {
	addr string
	dial net.Dialer

	mu   mutex
	conn net.Conn

	listenersMu sync.Mutex
	listeners   list.List // of *receiver

	running sync.Mutex // held iff a read loop is active
	isUp    boolFlag
}

type receiver struct {
	done     chan struct{}
	callback func(tag int, payload []byte, err error) (quit bool)
}

// New builds a TCP Messenger that will dial addr (host:port) on
// Start.
func New(addr string) *TCP {
	return &TCP{addr: addr, mu: newMutex()}
}

// Start dials the configured address and begins the background read
// loop that demultiplexes frames to Listen callbacks.
func (t *TCP) Start(ctx context.Context) error {
	if err := t.mu.lock(ctx); err != nil {
		return err
	}
	defer t.mu.unlock()
	if t.conn != nil {
		return nil
	}
	d := t.dial
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		log.Println("streamsocket: connection failed")
		return fmt.Errorf("streamsocket: dial %s: %w", t.addr, err)
	}
	t.conn = conn
	t.isUp.set(true)
	go t.readLoop(conn)
	return nil
}

// Stop closes the underlying connection. If block is true, Stop waits
// for the read loop to observe the close before returning.
func (t *TCP) Stop(block bool) error {
	t.mu.lock(context.Background())
	conn := t.conn
	t.conn = nil
	t.isUp.set(false)
	t.mu.unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	if block {
		t.running.Lock()
		t.running.Unlock()
	}
	return err
}

// Running reports whether the connection is currently up.
func (t *TCP) Running() bool { return t.isUp.get() }

// Send writes one framed message: length, tag, destId, payload.
func (t *TCP) Send(ctx context.Context, destId, tag int, payload []byte) error {
	if len(payload) > maxFrameLen-frameHeaderLen+2 {
		return fmt.Errorf("streamsocket: %w: payload too large", register.ErrInvalidArgument)
	}
	if err := t.mu.lock(ctx); err != nil {
		return err
	}
	conn := t.conn
	t.mu.unlock()
	if conn == nil {
		return register.ErrGatewayNotRunning
	}

	frame := make([]byte, frameHeaderLen+len(payload))
	binary.BigEndian.PutUint16(frame[0:], uint16(frameHeaderLen-2+len(payload)))
	binary.BigEndian.PutUint16(frame[2:], uint16(tag))
	frame[4] = byte(destId)
	copy(frame[frameHeaderLen:], payload)

	if dl, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(dl)
		defer conn.SetWriteDeadline(time.Time{})
	}
	_, err := conn.Write(frame)
	return err
}

// Listen attaches callback to every frame received until ctx is
// canceled, callback returns true, or detach is called.
func (t *TCP) Listen(ctx context.Context, callback func(tag int, payload []byte, err error) (quit bool)) (detach func()) {
	r := &receiver{done: make(chan struct{}), callback: callback}

	t.listenersMu.Lock()
	e := t.listeners.PushFront(r)
	t.listenersMu.Unlock()

	remove := func() {
		t.listenersMu.Lock()
		defer t.listenersMu.Unlock()
		select {
		case <-r.done:
		default:
			t.listeners.Remove(e)
			close(r.done)
		}
	}

	go func() {
		select {
		case <-r.done:
		case <-ctx.Done():
			remove()
		}
	}()

	return remove
}

func (t *TCP) broadcast(tag int, payload []byte, err error) {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	var next *list.Element
	for e := t.listeners.Front(); e != nil; e = next {
		next = e.Next()
		r := e.Value.(*receiver)
		if r.callback(tag, payload, err) {
			t.listeners.Remove(e)
			close(r.done)
		}
	}
}

// readLoop reads length-prefixed frames off conn until it errors,
// then broadcasts the terminal error to every listener so in-flight
// Gateway requests unblock instead of hanging forever.
func (t *TCP) readLoop(conn net.Conn) {
	t.running.Lock()
	defer t.running.Unlock()

	header := make([]byte, frameHeaderLen)
	for {
		if _, err := readFull(conn, header); err != nil {
			log.Println("streamsocket: read loop terminated:", err)
			t.isUp.set(false)
			t.broadcast(0, nil, err)
			return
		}
		frameLen := binary.BigEndian.Uint16(header[0:])
		tag := int(binary.BigEndian.Uint16(header[2:]))
		payloadLen := int(frameLen) - (frameHeaderLen - 2)
		if payloadLen < 0 {
			t.isUp.set(false)
			t.broadcast(0, nil, register.ErrInvalidMessage)
			return
		}
		payload := make([]byte, payloadLen)
		if payloadLen > 0 {
			if _, err := readFull(conn, payload); err != nil {
				t.isUp.set(false)
				t.broadcast(0, nil, err)
				return
			}
		}
		t.broadcast(tag, payload, nil)
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
