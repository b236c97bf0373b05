package register

import (
	"fmt"
	"sync"
	"time"

	"github.com/GoAethereal/cancel"
)

// ConnectionSettings controls one Register's retry/backoff behavior.
// It is an immutable value object, freely cloneable by copy.
type ConnectionSettings struct {
	// Timeout bounds a single read or write's Gateway round trip.
	// Zero or negative means no timeout.
	Timeout time.Duration
	// RetryReadAfter is the backoff base applied after the first read
	// failure. Zero or negative disables retry backoff (the register
	// simply keeps polling at UpdateInterval even while failing).
	RetryReadAfter time.Duration
	// AttemptsToPromoteReadFail is the number of consecutive read
	// failures after which the cached value is invalidated.
	AttemptsToPromoteReadFail int
	// RetryReadAfterFactor multiplies the backoff on each additional
	// consecutive failure, capped at UpdateInterval. Must be >= 1.0.
	RetryReadAfterFactor float64
}

// DefaultConnectionSettings returns the standard backoff profile: 2s
// request timeout, 250ms initial backoff doubling on each consecutive
// failure, invalidating the cached value after 2 consecutive misses.
func DefaultConnectionSettings() ConnectionSettings {
	return ConnectionSettings{
		Timeout:                   2000 * time.Millisecond,
		RetryReadAfter:            250 * time.Millisecond,
		AttemptsToPromoteReadFail: 2,
		RetryReadAfterFactor:      2.0,
	}
}

// ChangeListener is notified, outside of any Register lock, whenever
// updateValue observes a value transition: a successful read that
// differs from the previous cached value, or a run of failures that
// invalidates the cache (newValue == nil in that case).
type ChangeListener func(r *Register, oldValue, newValue Value)

// Register is the state machine for one addressable value: it caches
// the last successfully decoded Value, tracks polling/backoff timing,
// and exposes the value to callers without blocking them on a network
// round trip directly — UpdateValue performs the round trip and the
// rest of the API reads cached state.
type Register struct {
	collection *RegisterCollection
	id         int
	readOnly   bool
	codec      Codec

	mu               sync.Mutex
	name             string
	description      string
	updateIntervalMs int64
	settings         ConnectionSettings
	value            Value
	lastValidValue   Value
	updateTimeMillis int64
	readFailsInRow   int
	listener         ChangeListener
}

func newRegister(c *RegisterCollection, id int, readOnly bool, codec Codec, settings ConnectionSettings) *Register {
	return &Register{
		collection:       c,
		id:               id,
		readOnly:         readOnly,
		codec:            codec,
		updateIntervalMs: 1000,
		settings:         settings,
	}
}

// ID is this register's address within its collection's registry
// (0 ≤ id < 32768).
func (r *Register) ID() int { return r.id }

// ReadOnly reports whether SetValue is rejected for this register.
func (r *Register) ReadOnly() bool { return r.readOnly }

// Codec is the decode/encode contract this register was created with.
func (r *Register) Codec() Codec { return r.codec }

// Name returns the register's user-facing name.
func (r *Register) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

// SetName sets the register's user-facing name.
func (r *Register) SetName(name string) {
	r.mu.Lock()
	r.name = name
	r.mu.Unlock()
}

// Description returns the register's user-facing description.
func (r *Register) Description() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.description
}

// SetDescription sets the register's user-facing description.
func (r *Register) SetDescription(desc string) {
	r.mu.Lock()
	r.description = desc
	r.mu.Unlock()
}

// UpdateInterval is the steady-state polling period.
func (r *Register) UpdateInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.updateIntervalMs) * time.Millisecond
}

// SetUpdateInterval changes the steady-state polling period. d must be
// positive.
func (r *Register) SetUpdateInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: update interval must be positive", ErrInvalidArgument)
	}
	r.mu.Lock()
	r.updateIntervalMs = d.Milliseconds()
	r.mu.Unlock()
	return nil
}

// ConnectionSettings returns the register's current connection
// settings.
func (r *Register) ConnectionSettings() ConnectionSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// SetConnectionSettings replaces the register's connection settings.
func (r *Register) SetConnectionSettings(s ConnectionSettings) {
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
}

// SetChangeListener installs l as the register's sole change listener,
// replacing any previous one. A nil l removes it.
func (r *Register) SetChangeListener(l ChangeListener) {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()
}

// Value returns the last successfully decoded value, or nil if the
// register has never succeeded or has been invalidated by repeated
// failures.
func (r *Register) Value() Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// LastValidValue returns the most recent non-invalid value ever
// observed, even if the current Value has since been invalidated.
func (r *Register) LastValidValue() Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastValidValue
}

// ReadFailsInRow is the current count of consecutive read failures.
func (r *Register) ReadFailsInRow() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readFailsInRow
}

// MillisToNextUpdate reports how many milliseconds remain until this
// register's next scheduled poll, clamped to zero if already due. If
// the clock appears to have jumped backward since the last poll
// attempt, it is also reported as due immediately.
func (r *Register) MillisToNextUpdate() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.collection.clock().NowMillis()
	if now-r.updateTimeMillis < 0 {
		return 0
	}
	due := r.updateTimeMillis + r.effectiveIntervalMillisLocked()
	remain := due - now
	if remain < 0 {
		return 0
	}
	return remain
}

// UpdateValue performs one read round trip through the collection,
// decodes it via the codec, and updates cached state, backoff timers,
// and the change listener. It never returns an observable failure to
// the caller: all transport/decode errors are absorbed into the
// register's own counters, so the scheduler never sees an error from
// this call.
func (r *Register) UpdateValue(ctx cancel.Context) {
	r.mu.Lock()
	codec := r.codec
	timeout := r.settings.Timeout
	r.mu.Unlock()

	decoded, readErr := r.read(ctx, codec, timeout)

	now := r.collection.clock().NowMillis()

	r.mu.Lock()
	r.updateTimeMillis = now
	if readErr != nil {
		r.readFailsInRow++
		wasValid := r.value != nil
		oldValue := r.value
		if r.readFailsInRow >= r.settings.AttemptsToPromoteReadFail {
			r.value = nil
		}
		listener := r.listener
		newlyInvalid := wasValid && r.value == nil
		r.mu.Unlock()
		if newlyInvalid && listener != nil {
			listener(r, oldValue, nil)
		}
		return
	}

	oldValue := r.value
	wasValid := r.value != nil
	r.readFailsInRow = 0
	r.value = decoded
	r.lastValidValue = decoded
	listener := r.listener
	changed := !wasValid || !valueEqual(oldValue, decoded)
	r.mu.Unlock()

	if changed && listener != nil {
		listener(r, oldValue, decoded)
	}
}

func (r *Register) read(ctx cancel.Context, codec Codec, timeout time.Duration) (Value, error) {
	switch c := codec.(type) {
	case IntCodec:
		wire, err := r.collection.readInt(ctx, r.id, timeout)
		if err != nil {
			return nil, err
		}
		decoded, err := c.DecodeInt(wire)
		if err != nil {
			return nil, err
		}
		if decoded == nil {
			return nil, ErrCodecInvalid
		}
		return decoded, nil
	case BinaryCodec:
		wire, err := r.collection.readBinary(ctx, r.id, timeout)
		if err != nil {
			return nil, err
		}
		decoded, err := c.DecodeBinary(wire)
		if err != nil {
			return nil, err
		}
		if decoded == nil {
			return nil, ErrCodecInvalid
		}
		return decoded, nil
	default:
		return nil, ErrCodecInvalid
	}
}

// SetValue encodes local via the codec and performs a write round
// trip, then always runs a recovery UpdateValue so the cache reflects
// the device's actual state afterward, even if the write itself
// failed.
func (r *Register) SetValue(ctx cancel.Context, local Value) error {
	r.mu.Lock()
	readOnly := r.readOnly
	codec := r.codec
	timeout := r.settings.Timeout
	r.mu.Unlock()

	if readOnly {
		return ErrWriteOnReadOnly
	}

	var writeErr error
	switch c := codec.(type) {
	case IntCodec:
		wire, err := c.EncodeInt(local)
		if err != nil {
			writeErr = err
		} else {
			writeErr = r.collection.writeInt(ctx, r.id, wire, timeout)
		}
	case BinaryCodec:
		wire, err := c.EncodeBinary(local)
		if err != nil {
			writeErr = err
		} else {
			writeErr = r.collection.writeBinary(ctx, r.id, wire, timeout)
		}
	default:
		writeErr = ErrCodecInvalid
	}

	r.UpdateValue(ctx)

	if writeErr != nil {
		return fmt.Errorf("register %d: set value: %w", r.id, writeErr)
	}
	return nil
}

// effectiveIntervalMillisLocked computes the delay before the next
// poll: updateIntervalMs normally, or while failing, a backoff of
// retryReadAfter * retryReadAfterFactor^(readFailsInRow-1), capped at
// updateIntervalMs and only grown while still below it. Caller must
// hold r.mu.
func (r *Register) effectiveIntervalMillisLocked() int64 {
	if r.readFailsInRow == 0 || r.settings.RetryReadAfter <= 0 {
		return r.updateIntervalMs
	}
	backoff := float64(r.settings.RetryReadAfter.Milliseconds())
	for i := 1; i < r.readFailsInRow; i++ {
		if backoff >= float64(r.updateIntervalMs) {
			break
		}
		backoff *= r.settings.RetryReadAfterFactor
	}
	if backoff > float64(r.updateIntervalMs) {
		return r.updateIntervalMs
	}
	return int64(backoff)
}

// valueEqual compares two decoded Values for the purpose of deciding
// whether a ChangeListener should fire. []byte isn't comparable with
// ==, so it gets special-cased; everything else relies on ordinary
// comparable-value equality.
func valueEqual(a, b Value) bool {
	if ab, ok := a.([]byte); ok {
		bb, ok2 := b.([]byte)
		if !ok2 || len(ab) != len(bb) {
			return false
		}
		for i := range ab {
			if ab[i] != bb[i] {
				return false
			}
		}
		return true
	}
	return a == b
}
