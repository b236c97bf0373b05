// Package register is a client for the GEP request/response protocol:
// it maintains a local, periodically refreshed view of named registers
// hosted on a remote device reachable over a full-duplex stream socket,
// lets callers write values back, notifies a per-register listener on
// change, and can follow a device's change-hint channel instead of
// blindly polling.
//
// A Gateway owns one Messenger (the framing layer over a socket; see
// the streamsocket package for a TCP reference implementation) and
// serializes all request/response exchanges over it. One or more
// RegisterCollection values sit in front of a Gateway, each scoped to a
// device's 4-bit registryId. Register values are polled and cached by
// an AutoUpdater, which also runs the optional change-hint probes.
package register
