// Package camerr holds the error values shared by the parameter store and the cache engines.
//
// Callers should test with errors.Is; every error produced by this module wraps
// exactly one of the sentinels below.
package camerr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is generated when a symbolic name or hash does not resolve
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is generated for out of range ports, sub-channels, colors,
	// indices or malformed tables
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidChannel is generated when a sub-channel selector is out of range
	// or names a parameter that has no per-channel variants in strict mode
	ErrInvalidChannel = fmt.Errorf("%w: invalid channel", ErrInvalidArgument)

	// ErrInvalidAddress is generated when a resolved bank index overflows the address space
	ErrInvalidAddress = fmt.Errorf("%w: invalid address", ErrInvalidArgument)

	// ErrPending is returned for a frame that has not been committed yet.  Ask again later.
	ErrPending = errors.New("frame not yet committed")

	// ErrExpired is returned for a frame that rotated out of both rings
	ErrExpired = errors.New("frame expired")

	// ErrCacheMiss is returned when a gamma table or histogram is not present in the cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrChannelFailure is the sentinel matched by every *ChannelError
	ErrChannelFailure = errors.New("channel failure")
)

// ChannelError is an I/O level failure of an external channel, carrying the
// errno-like code reported by the driver
type ChannelError struct {
	// Op is the protocol step that failed, e.g. "commit" or "hist request"
	Op string

	// Code is the (positive) errno-like code, 0 if unknown
	Code int

	// Err is the underlying error, if any
	Err error
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: channel failure (code %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: channel failure (code %d)", e.Op, e.Code)
}

// Is makes errors.Is(err, ErrChannelFailure) true for any ChannelError
func (e *ChannelError) Is(target error) bool {
	return target == ErrChannelFailure
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Channel builds a ChannelError
func Channel(op string, code int, err error) error {
	return &ChannelError{Op: op, Code: code, Err: err}
}

// Code extracts the channel error code from err, or 0 if err is not a ChannelError
func Code(err error) int {
	var ce *ChannelError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

// Kind is a compact numeric form of the taxonomy, used on the wire
type Kind byte

const (
	// KindNone is no error
	KindNone Kind = iota
	KindNotFound
	KindInvalidArgument
	KindInvalidChannel
	KindInvalidAddress
	KindPending
	KindExpired
	KindCacheMiss
	KindChannelFailure
	// KindOther is anything outside the taxonomy
	KindOther
)

// KindOf classifies err.  Order matters: the specific argument errors are
// checked before ErrInvalidArgument, which they wrap.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidChannel):
		return KindInvalidChannel
	case errors.Is(err, ErrInvalidAddress):
		return KindInvalidAddress
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrPending):
		return KindPending
	case errors.Is(err, ErrExpired):
		return KindExpired
	case errors.Is(err, ErrCacheMiss):
		return KindCacheMiss
	case errors.Is(err, ErrChannelFailure):
		return KindChannelFailure
	default:
		return KindOther
	}
}

// FromKind rebuilds an error of the given kind.  msg is the text of the
// original error and becomes the text of the new one.  code is only used for
// KindChannelFailure.
func FromKind(k Kind, code int, msg string) error {
	var base error
	switch k {
	case KindNone:
		return nil
	case KindNotFound:
		base = ErrNotFound
	case KindInvalidArgument:
		base = ErrInvalidArgument
	case KindInvalidChannel:
		base = ErrInvalidChannel
	case KindInvalidAddress:
		base = ErrInvalidAddress
	case KindPending:
		base = ErrPending
	case KindExpired:
		base = ErrExpired
	case KindCacheMiss:
		base = ErrCacheMiss
	case KindChannelFailure:
		return &ChannelError{Op: "remote", Code: code, Err: errors.New(msg)}
	default:
		return errors.New(msg)
	}
	if msg == "" || msg == base.Error() {
		return base
	}
	return &relayed{msg: msg, base: base}
}

// relayed is an error rebuilt from its kind and text
type relayed struct {
	msg  string
	base error
}

func (e *relayed) Error() string { return e.msg }

func (e *relayed) Unwrap() error { return e.base }
