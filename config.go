package register

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The types below describe the XML configuration shape a registry/
// register loader would parse. They describe the wire format a
// configuration loader would parse; this package does not ship a
// loader, since the concrete file format and templating engine are
// left to the embedding application.

// CodecConfig names a concrete codec and its construction parameters,
// as they would appear in a <codec> element.
type CodecConfig struct {
	Type   string            `xml:"type,attr"`
	Params map[string]string `xml:"-"`
}

// RegisterConfig describes one <register> element within a
// <collection>.
type RegisterConfig struct {
	ID             int         `xml:"id,attr"`
	Name           string      `xml:"name,attr"`
	ReadOnly       bool        `xml:"read-only,attr"`
	Codec          CodecConfig `xml:"codec"`
	UpdateInterval string      `xml:"update-interval,attr"`
}

// ResolveUpdateInterval parses this register's update-interval
// attribute: a bare integer is milliseconds, a value suffixed "s" is
// seconds. An empty attribute resolves to the Register default of
// 1000ms.
func (rc RegisterConfig) ResolveUpdateInterval() (time.Duration, error) {
	if rc.UpdateInterval == "" {
		return 1000 * time.Millisecond, nil
	}
	s := strings.TrimSpace(rc.UpdateInterval)
	if strings.HasSuffix(s, "s") {
		secs, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
		if err != nil {
			return 0, fmt.Errorf("update-interval: %w", ErrInvalidArgument)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("update-interval: %w", ErrInvalidArgument)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// CollectionConfig describes one <collection> element: a registryId
// (config key `gepid`), its registers, an optional per-collection
// request timeout override, and an optional hint configuration.
type CollectionConfig struct {
	RegistryId   int              `xml:"gepid,attr"`
	Timeout      string           `xml:"timeout,attr"`
	HintInterval string           `xml:"hints,attr"`
	HintStrategy string           `xml:"strategy,attr"`
	Registers    []RegisterConfig `xml:"register"`
}

// ResolveConnectionSettings applies this collection's timeout override
// (if any) on top of base, leaving every other field untouched —
// configuration only lets the request timeout be overridden; retry/
// backoff tuning is left to the embedding application.
func (cc CollectionConfig) ResolveConnectionSettings(base ConnectionSettings) (ConnectionSettings, error) {
	out := base
	if cc.Timeout == "" {
		return out, nil
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(cc.Timeout), 10, 64)
	if err != nil {
		return ConnectionSettings{}, fmt.Errorf("timeout: %w", ErrInvalidArgument)
	}
	out.Timeout = time.Duration(ms) * time.Millisecond
	return out, nil
}

// ResolveHintSettings builds a HintSettings from this collection's
// `hints`/`strategy` attributes, or reports ok=false if hinting isn't
// configured (the `hints` attribute left blank). defaultTimeout is
// used as the probe's request timeout — there is no separate hint
// timeout key.
func (cc CollectionConfig) ResolveHintSettings(defaultTimeout time.Duration) (settings HintSettings, ok bool, err error) {
	if cc.HintInterval == "" {
		return HintSettings{}, false, nil
	}
	intervalMs, err := strconv.ParseInt(strings.TrimSpace(cc.HintInterval), 10, 64)
	if err != nil {
		return HintSettings{}, false, fmt.Errorf("hints: %w", ErrInvalidArgument)
	}
	strategy := HintSemiGreedy
	if cc.HintStrategy != "" {
		strategy, err = ParseHintStrategy(cc.HintStrategy)
		if err != nil {
			return HintSettings{}, false, err
		}
	}
	settings, err = NewHintSettings(strategy, time.Duration(intervalMs)*time.Millisecond, defaultTimeout)
	return settings, err == nil, err
}
