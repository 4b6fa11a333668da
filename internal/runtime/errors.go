package runtime

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates every failure class of the host runtime.
type ErrorKind int

const (
	// KindNodeNotSupported: no backend accepts a given operator kind.
	KindNodeNotSupported ErrorKind = iota
	// KindPartitionMemoryExceeded: a partition exceeds backend memory after
	// all merges.
	KindPartitionMemoryExceeded
	// KindInsufficientPhysicalDevices: logical-device count exceeds the
	// physical devices of a backend.
	KindInsufficientPhysicalDevices
	// KindLoadBalanceInfeasible: no partition can take an operator under its
	// remaining budget.
	KindLoadBalanceInfeasible
	// KindInvalidPartitionConfig: malformed user-defined partition config.
	KindInvalidPartitionConfig
	// KindFunctionNotFound: a named function is absent from the module.
	KindFunctionNotFound
	// KindNetworkNameCollision: partitioning produced a name that already
	// exists on the host.
	KindNetworkNameCollision
	// KindCompileContextMalformed: profiling/quantization preconditions are
	// not met.
	KindCompileContextMalformed
	// KindProvisioningFailed: compile or device-load error.
	KindProvisioningFailed
	// KindNetworkNotFound: RunNetwork on an unknown network.
	KindNetworkNotFound
	// KindQueueFull: the inference queue is at capacity.
	KindQueueFull
	// KindNetworkInUse: RemoveNetwork while requests are in flight.
	KindNetworkInUse
	// KindDeviceError: opaque DeviceManager failure.
	KindDeviceError
)

var kindMessages = map[ErrorKind]string{
	KindNodeNotSupported:            "node not supported",
	KindPartitionMemoryExceeded:     "partition memory exceeded",
	KindInsufficientPhysicalDevices: "insufficient physical devices",
	KindLoadBalanceInfeasible:       "load balance infeasible",
	KindInvalidPartitionConfig:      "invalid partition config",
	KindFunctionNotFound:            "function not found",
	KindNetworkNameCollision:        "network name collision",
	KindCompileContextMalformed:     "compilation context malformed",
	KindProvisioningFailed:          "provisioning failed",
	KindNetworkNotFound:             "network not found",
	KindQueueFull:                   "queue full",
	KindNetworkInUse:                "network in use",
	KindDeviceError:                 "device error",
}

func (k ErrorKind) String() string {
	if m, ok := kindMessages[k]; ok {
		return m
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is a runtime failure with a kind and optional wrapped cause.
type Error struct {
	kind ErrorKind
	msg  string
	err  error
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind to an underlying error.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

// Kind returns the failure class.
func (e *Error) Kind() ErrorKind { return e.kind }

func (e *Error) Error() string {
	s := e.kind.String()
	if e.msg != "" {
		s += ": " + e.msg
	}
	if e.err != nil {
		s += ": " + e.err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.err }

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind ErrorKind) bool {
	var re *Error
	for errors.As(err, &re) {
		if re.kind == kind {
			return true
		}
		err = re.err
		if err == nil {
			return false
		}
	}
	return false
}
