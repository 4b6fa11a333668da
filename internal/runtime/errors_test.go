package runtime

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	err := NewError(KindQueueFull, "host has %d queued requests", 100)
	if !IsKind(err, KindQueueFull) {
		t.Error("IsKind should match the error's own kind")
	}
	if IsKind(err, KindNetworkNotFound) {
		t.Error("IsKind matched the wrong kind")
	}
	if err.Kind() != KindQueueFull {
		t.Errorf("Kind() = %v", err.Kind())
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("socket closed")
	err := WrapError(KindDeviceError, cause, "device %d", 3)
	if !errors.Is(err, cause) {
		t.Error("wrapped cause lost")
	}
	if !IsKind(err, KindDeviceError) {
		t.Error("kind lost through wrap")
	}

	// A kind deeper in a chain of plain wraps is still found.
	outer := fmt.Errorf("dispatch: %w", err)
	if !IsKind(outer, KindDeviceError) {
		t.Error("kind not found through fmt wrap")
	}

	// Nested runtime errors: outermost kind and inner kind both match.
	nested := WrapError(KindProvisioningFailed, err, "loading")
	if !IsKind(nested, KindProvisioningFailed) || !IsKind(nested, KindDeviceError) {
		t.Error("nested kinds should both be visible")
	}
}

func TestErrorMessage(t *testing.T) {
	err := NewError(KindNetworkInUse, "network %q has %d requests in flight", "resnet", 2)
	msg := err.Error()
	for _, want := range []string{"network in use", "resnet", "2"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}
