// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package bittide

import "github.com/pkg/errors"

// Code classifies the outcome of a tick.
//
type Code uint32

// Tick result codes. The numeric values are stable: they are used to pass
// results across word sized boundaries.
//
const (
	OK Code = iota
	DecodeError
	SyncMessageFromUserCode
	InvalidNeighbor
	TideFifoFull
	FrequencyControllerError
)

var codeNames = [...]string{
	OK:                       "ok",
	DecodeError:              "decode error",
	SyncMessageFromUserCode:  "sync message from user code",
	InvalidNeighbor:          "invalid neighbor",
	TideFifoFull:             "tide fifo full",
	FrequencyControllerError: "frequency controller error",
}

func (c Code) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return "unknown error"
}

// Error is the error type returned by ChannelControl.Interrupt.
//
type Error struct {
	Code Code
	Err  error // underlying error, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "bittide: " + e.Code.String() + ": " + e.Err.Error()
	}
	return "bittide: " + e.Code.String()
}

// Tick errors.
//
var (
	ErrDecode          = &Error{Code: DecodeError}
	ErrSyncFromUser    = &Error{Code: SyncMessageFromUserCode}
	ErrInvalidNeighbor = &Error{Code: InvalidNeighbor}
	ErrFifoFull        = &Error{Code: TideFifoFull}
)

// ErrTickOverrun is the value Interrupt panics with when called while a
// previous tick is still in progress.
//
var ErrTickOverrun = errors.New("bittide: tick overrun")

// CodeOf returns the Code of err. A nil error has code OK, errors not
// originating from this package are reported as DecodeError.
//
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	if e, ok := errors.Cause(err).(*Error); ok {
		return e.Code
	}
	return DecodeError
}

// IsFatal returns true if err leaves the controller in a state where it
// cannot continue (an elastic buffer overflow).
//
func IsFatal(err error) bool {
	return CodeOf(err) == TideFifoFull
}

// EncodeResult encodes the result of a tick into a word.
//
func EncodeResult(err error) uint32 {
	return uint32(CodeOf(err))
}

// DecodeResult is the reverse of EncodeResult. Unknown values, including the
// encoded DecodeError, yield ErrDecode.
//
func DecodeResult(w uint32) error {
	switch Code(w) {
	case OK:
		return nil
	case SyncMessageFromUserCode:
		return ErrSyncFromUser
	case InvalidNeighbor:
		return ErrInvalidNeighbor
	case TideFifoFull:
		return ErrFifoFull
	case FrequencyControllerError:
		return &Error{Code: FrequencyControllerError}
	}
	return ErrDecode
}
