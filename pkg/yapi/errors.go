// ABOUTME: Status codes, invalid-value sentinels and the registry error type
// ABOUTME: Codes match the vendor API so callers can compare them directly
package yapi

import (
	"errors"
	"fmt"
)

// Status is a vendor API result code. Zero is success, failures are negative.
type Status int

const (
	Success         Status = 0
	NotInitialized  Status = -1
	InvalidArgument Status = -2
	NotSupported    Status = -3
	DeviceNotFound  Status = -4
	VersionMismatch Status = -5
	DeviceBusy      Status = -6
	Timeout         Status = -7
	IOError         Status = -8
	NoMoreData      Status = -9
	Exhausted       Status = -10
	DoubleAccess    Status = -11
	Unauthorized    Status = -12
	RTCNotReady     Status = -13
	FileNotFound    Status = -14
)

// Reserved "unknown" values returned by sentinel getters.
const (
	InvalidUint   = -1
	InvalidInt    = -2147483648
	InvalidString = "!INVALID!"
)

var statusNames = map[Status]string{
	Success:         "success",
	NotInitialized:  "not initialized",
	InvalidArgument: "invalid argument",
	NotSupported:    "not supported",
	DeviceNotFound:  "device not found",
	VersionMismatch: "version mismatch",
	DeviceBusy:      "device busy",
	Timeout:         "timeout",
	IOError:         "I/O error",
	NoMoreData:      "no more data",
	Exhausted:       "exhausted",
	DoubleAccess:    "double access",
	Unauthorized:    "unauthorized",
	RTCNotReady:     "RTC not ready",
	FileNotFound:    "file not found",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// IsErr reports whether s is a failure code.
func (s Status) IsErr() bool {
	return s < 0
}

// Error is returned by every registry and hub operation that fails.
type Error struct {
	Code Status
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinel errors for errors.Is comparisons.
var (
	ErrNotInitialized  = &Error{Code: NotInitialized}
	ErrInvalidArgument = &Error{Code: InvalidArgument}
	ErrNotSupported    = &Error{Code: NotSupported}
	ErrDeviceNotFound  = &Error{Code: DeviceNotFound}
	ErrTimeout         = &Error{Code: Timeout}
	ErrIO              = &Error{Code: IOError}
	ErrUnauthorized    = &Error{Code: Unauthorized}
)

func newError(code Status, op, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// StatusOf maps an error to the status code a compatibility caller expects.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return IOError
}
