package register

import (
	"context"
	"sync"
	"time"

	"github.com/GoAethereal/cancel"
)

// Opcodes for the GEP wire protocol.
const (
	opReadInt     = 0x01
	opWriteInt    = 0x02
	opReadBinary  = 0x03
	opWriteBinary = 0x04
	opGetHint     = 0x05
)

// Gateway owns one Messenger and serializes every request/response
// exchange over it. At most one request is outstanding across the
// whole Gateway at any time: a coarse serial-order lock forces callers
// to queue, and a fine request lock guards the single in-flight tag
// against the messenger's receive callback.
type Gateway struct {
	messenger Messenger
	serial    serialLock

	mu          sync.Mutex
	tagCounter  int
	openTag     int
	openWaiting bool
	received    []byte
	receivedErr error
	notify      chan struct{}

	running      bool
	cancelListen func()

	stats RequestStatistics
}

// NewGateway constructs a Gateway over the given Messenger. The
// Messenger must not be started yet; call Start to open it.
func NewGateway(m Messenger) *Gateway {
	return &Gateway{messenger: m, serial: newSerialLock()}
}

// Start opens the Gateway's messenger and attaches the Gateway's
// lifetime-long receive callback.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	if err := g.messenger.Start(ctx); err != nil {
		return err
	}
	detach := g.messenger.Listen(context.Background(), g.onMessage)

	g.mu.Lock()
	g.running = true
	g.cancelListen = detach
	g.mu.Unlock()
	return nil
}

// Stop closes the Gateway's messenger. If block is false, shutdown is
// requested but not waited on.
func (g *Gateway) Stop(block bool) error {
	g.mu.Lock()
	running := g.running
	detach := g.cancelListen
	g.running = false
	g.cancelListen = nil
	g.mu.Unlock()

	if detach != nil {
		detach()
	}
	if !running {
		return nil
	}
	return g.messenger.Stop(block)
}

// IsRunning reports whether the Gateway's messenger is usable.
func (g *Gateway) IsRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Stats returns a snapshot of every request issued through this
// Gateway, across all collections.
func (g *Gateway) Stats() StatsSnapshot { return g.stats.Snapshot() }

// onMessage is the messenger's receive callback. It must not block: it
// only matches the tag and wakes the waiting caller, if any. Messages
// whose tag doesn't match the single open request belong to nobody and
// are dropped. An error delivery (the messenger's terminal read
// failure) fails whichever request is open, whatever its tag.
func (g *Gateway) onMessage(tag int, payload []byte, err error) (quit bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.openWaiting || (err == nil && tag != g.openTag) {
		return false
	}
	g.received = payload
	g.receivedErr = err
	g.openWaiting = false
	if g.notify != nil {
		close(g.notify)
		g.notify = nil
	}
	return false
}

// SendRequest is the internal request/response primitive every public
// wrapper below is built on. It serializes against any other in-flight
// request, assigns the next tag (wrapping mod 1000), sends, and waits
// for the matching reply, the timeout, or cancellation.
func (g *Gateway) SendRequest(ctx cancel.Context, destId int, payload []byte, timeout time.Duration) (res []byte, err error) {
	if lockErr := g.serial.lock(ctx); lockErr != nil {
		return nil, lockErr
	}
	defer g.serial.unlock()

	defer func() { g.stats.countRequest(err != nil) }()

	if !g.IsRunning() {
		return nil, ErrGatewayNotRunning
	}

	g.mu.Lock()
	g.tagCounter = (g.tagCounter + 1) % 1000
	tag := g.tagCounter
	g.openTag = tag
	g.openWaiting = true
	g.received = nil
	g.receivedErr = nil
	notify := make(chan struct{})
	g.notify = notify
	g.mu.Unlock()

	cleanup := func() {
		g.mu.Lock()
		if g.openTag == tag {
			g.openWaiting = false
			g.notify = nil
		}
		g.mu.Unlock()
	}

	sig := cancel.New().Propagate(ctx)
	defer sig.Cancel()

	if sendErr := g.messenger.Send(sig, destId, tag, payload); sendErr != nil {
		cleanup()
		return nil, sendErr
	}

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case <-notify:
		g.mu.Lock()
		res, err = g.received, g.receivedErr
		g.mu.Unlock()
		return res, err
	case <-timeoutC:
		cleanup()
		return nil, ErrNoResponse
	case <-sig.Done():
		cleanup()
		return nil, sig.Err()
	}
}

// ReadInt issues opcode 0x01 and decodes the variable-length int result
// at offset 1.
func (g *Gateway) ReadInt(ctx cancel.Context, registryId, registerId int, timeout time.Duration) (int32, error) {
	idb, err := encodeRegisterID(registerId)
	if err != nil {
		return 0, err
	}
	req := append([]byte{opReadInt}, idb...)
	res, err := g.SendRequest(ctx, registryId, req, timeout)
	if err != nil {
		return 0, err
	}
	if len(res) < 1 || Status(res[0]) != StatusOK {
		return 0, statusError(res)
	}
	value, _, err := decodeVarint(res[1:])
	if err != nil {
		return 0, err
	}
	return value, nil
}

// WriteInt issues opcode 0x02.
func (g *Gateway) WriteInt(ctx cancel.Context, registryId, registerId int, value int32, timeout time.Duration) error {
	idb, err := encodeRegisterID(registerId)
	if err != nil {
		return err
	}
	enc := encodeVarint(value)
	req := make([]byte, 0, 1+len(idb)+len(enc))
	req = append(req, opWriteInt)
	req = append(req, idb...)
	req = append(req, enc...)
	res, err := g.SendRequest(ctx, registryId, req, timeout)
	if err != nil {
		return err
	}
	if len(res) < 1 || Status(res[0]) != StatusOK {
		return statusError(res)
	}
	return nil
}

// ReadBinary issues opcode 0x03 and returns the raw payload from
// offset 1.
func (g *Gateway) ReadBinary(ctx cancel.Context, registryId, registerId int, timeout time.Duration) ([]byte, error) {
	idb, err := encodeRegisterID(registerId)
	if err != nil {
		return nil, err
	}
	req := append([]byte{opReadBinary}, idb...)
	res, err := g.SendRequest(ctx, registryId, req, timeout)
	if err != nil {
		return nil, err
	}
	if len(res) < 1 || Status(res[0]) != StatusOK {
		return nil, statusError(res)
	}
	return res[1:], nil
}

// WriteBinary issues opcode 0x04.
func (g *Gateway) WriteBinary(ctx cancel.Context, registryId, registerId int, value []byte, timeout time.Duration) error {
	idb, err := encodeRegisterID(registerId)
	if err != nil {
		return err
	}
	req := make([]byte, 0, 1+len(idb)+len(value))
	req = append(req, opWriteBinary)
	req = append(req, idb...)
	req = append(req, value...)
	res, err := g.SendRequest(ctx, registryId, req, timeout)
	if err != nil {
		return err
	}
	if len(res) < 1 || Status(res[0]) != StatusOK {
		return statusError(res)
	}
	return nil
}

// GetChangeHint issues opcode 0x05. A negative confirmedRegisterId
// sends the bare probe; a non-negative one confirms that id was
// consumed. A negative hint is normalized to "no hint", reported as
// (-1, nil); a transport, status or decode error is returned as
// (-1, err) so the caller (RegisterCollection) can count it as a
// failure.
func (g *Gateway) GetChangeHint(ctx cancel.Context, registryId, confirmedRegisterId int, timeout time.Duration) (int, error) {
	var req []byte
	if confirmedRegisterId < 0 {
		req = []byte{opGetHint}
	} else {
		idb, err := encodeRegisterID(confirmedRegisterId)
		if err != nil {
			return -1, err
		}
		req = append([]byte{opGetHint}, idb...)
	}

	res, err := g.SendRequest(ctx, registryId, req, timeout)
	if err != nil {
		return -1, err
	}
	if len(res) < 1 || Status(res[0]) != StatusOK {
		return -1, statusError(res)
	}
	hint, _, err := decodeVarint(res[1:])
	if err != nil {
		return -1, err
	}
	if hint < 0 {
		return -1, nil
	}
	return int(hint), nil
}
