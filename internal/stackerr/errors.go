// Package stackerr defines the closed error taxonomy shared by every
// protocol layer of the netstack. Each kind is a sentinel error; call
// sites wrap it with context via fmt.Errorf("%s: %w", op, stackerr.ErrX)
// and callers test for a specific kind with errors.Is.
package stackerr

import "errors"

// Framing errors.
var (
	ErrPacketTooShort    = errors.New("packet too short")
	ErrPacketTooLarge    = errors.New("packet too large")
	ErrPacketTruncated   = errors.New("packet truncated")
	ErrInvalidLength     = errors.New("invalid length")
	ErrInvalidHeaderLen  = errors.New("invalid header length")
	ErrInvalidVersion    = errors.New("invalid version")
	ErrChecksumError     = errors.New("checksum error")
	ErrUnsupportedProto  = errors.New("unsupported protocol")
)

// Addressing errors.
var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrUnaddressable  = errors.New("unaddressable")
	ErrNoSuchNode     = errors.New("no such node")
)

// Device errors.
var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrUnsupportedDevice = errors.New("unsupported device")
	ErrNotConnected     = errors.New("not connected")
)

// Resource errors.
var (
	ErrStorageFull        = errors.New("storage full")
	ErrNoBufferSpace      = errors.New("no buffer space")
	ErrNoSocketAvailable  = errors.New("no socket available")
	ErrNoPortAvailable    = errors.New("no port available")
	ErrPortInUse          = errors.New("port in use")
	ErrInvalidSocketIndex = errors.New("invalid socket index")
	ErrInvalidSocketState = errors.New("invalid socket state")
	ErrNoMatchingSocket   = errors.New("no matching socket")
	ErrBufferFull         = errors.New("buffer full")
)

// Lifecycle errors.
var (
	ErrSocketAlreadyOpen = errors.New("socket already open")
	ErrSocketNotOpen     = errors.New("socket not open")
	ErrWouldBlock        = errors.New("would block")
	ErrTimeout           = errors.New("timeout")
)
