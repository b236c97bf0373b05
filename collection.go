package register

import (
	"fmt"
	"sync"
	"time"

	"github.com/GoAethereal/cancel"
)

// RegisterCollection is a thin per-device facade over a Gateway: every
// device hosting registers is identified by a 4-bit registryId, and a
// collection groups the Registers living at that id, forwarding their
// requests to the shared Gateway and counting its own
// RequestStatistics independent of any other collection on the same
// Gateway.
type RegisterCollection struct {
	gateway    *Gateway
	registryId int
	clk        Clock

	mu        sync.Mutex
	registers map[int]*Register

	stats RequestStatistics
}

// CollectionOption configures a RegisterCollection at construction.
type CollectionOption func(*RegisterCollection)

// WithClock overrides the collection's time source; intended for
// tests.
func WithClock(c Clock) CollectionOption {
	return func(rc *RegisterCollection) { rc.clk = c }
}

// NewRegisterCollection builds a collection of registers addressed
// through gateway at the given registryId (0..15).
func NewRegisterCollection(gateway *Gateway, registryId int, opts ...CollectionOption) (*RegisterCollection, error) {
	if registryId < 0 || registryId > 15 {
		return nil, fmt.Errorf("%w: registryId must be in [0,15]", ErrInvalidArgument)
	}
	rc := &RegisterCollection{
		gateway:    gateway,
		registryId: registryId,
		clk:        DefaultClock,
		registers:  make(map[int]*Register),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc, nil
}

func (rc *RegisterCollection) clock() Clock { return rc.clk }

// RegistryId is the 4-bit destination this collection's requests are
// addressed to.
func (rc *RegisterCollection) RegistryId() int { return rc.registryId }

// Gateway is the transport this collection's registers issue requests
// through.
func (rc *RegisterCollection) Gateway() *Gateway { return rc.gateway }

// Stats reports the requests issued on behalf of this collection —
// register reads/writes and change-hint probes alike — separate from
// any other collection sharing the same Gateway.
func (rc *RegisterCollection) Stats() StatsSnapshot { return rc.stats.Snapshot() }

// AddRegister creates and registers a new Register at id with codec
// and settings. It fails with ErrInvalidArgument if id is out of
// range or already registered.
func (rc *RegisterCollection) AddRegister(id int, readOnly bool, codec Codec, settings ConnectionSettings) (*Register, error) {
	if id < 0 || id >= 128*256 {
		return nil, fmt.Errorf("%w: register id out of range", ErrInvalidArgument)
	}
	if codec == nil {
		return nil, fmt.Errorf("%w: codec must not be nil", ErrInvalidArgument)
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, exists := rc.registers[id]; exists {
		return nil, fmt.Errorf("%w: register id already registered", ErrInvalidArgument)
	}
	r := newRegister(rc, id, readOnly, codec, settings)
	rc.registers[id] = r
	return r, nil
}

// Register looks up a previously added Register by id.
func (rc *RegisterCollection) Register(id int) (*Register, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	r, ok := rc.registers[id]
	return r, ok
}

// Registers returns a snapshot slice of every Register currently in
// this collection, in no particular order.
func (rc *RegisterCollection) Registers() []*Register {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]*Register, 0, len(rc.registers))
	for _, r := range rc.registers {
		out = append(out, r)
	}
	return out
}

// RemoveRegister drops id from the collection.
func (rc *RegisterCollection) RemoveRegister(id int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.registers, id)
}

// GetChangeHintId forwards to the Gateway's change-hint call with this
// collection's registryId, counting the result in the collection's
// own statistics.
func (rc *RegisterCollection) GetChangeHintId(ctx cancel.Context, confirmedRegisterId int, timeout time.Duration) (int, error) {
	hint, err := rc.gateway.GetChangeHint(ctx, rc.registryId, confirmedRegisterId, timeout)
	rc.stats.countRequest(err != nil)
	return hint, err
}

func (rc *RegisterCollection) readInt(ctx cancel.Context, registerId int, timeout time.Duration) (int32, error) {
	v, err := rc.gateway.ReadInt(ctx, rc.registryId, registerId, timeout)
	rc.stats.countRequest(err != nil)
	return v, err
}

func (rc *RegisterCollection) writeInt(ctx cancel.Context, registerId int, value int32, timeout time.Duration) error {
	err := rc.gateway.WriteInt(ctx, rc.registryId, registerId, value, timeout)
	rc.stats.countRequest(err != nil)
	return err
}

func (rc *RegisterCollection) readBinary(ctx cancel.Context, registerId int, timeout time.Duration) ([]byte, error) {
	v, err := rc.gateway.ReadBinary(ctx, rc.registryId, registerId, timeout)
	rc.stats.countRequest(err != nil)
	return v, err
}

func (rc *RegisterCollection) writeBinary(ctx cancel.Context, registerId int, value []byte, timeout time.Duration) error {
	err := rc.gateway.WriteBinary(ctx, rc.registryId, registerId, value, timeout)
	rc.stats.countRequest(err != nil)
	return err
}
