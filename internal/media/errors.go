package media

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied = errors.New("media permission denied")
	ErrDeviceNotFound   = errors.New("media device not found")
	ErrDeviceBusy       = errors.New("media device busy")
	ErrMedia            = errors.New("media error")

	ErrNoTrack = errors.New("no local track of that kind")
)

// IsDeviceUnavailable reports whether err means the device is missing or in
// use.
func IsDeviceUnavailable(err error) bool {
	return errors.Is(err, ErrDeviceNotFound) || errors.Is(err, ErrDeviceBusy)
}

func isOverconstrained(err error) bool {
	var ce *CaptureError
	return errors.As(err, &ce) && ce.Name == NameOverconstrained
}

func mapCaptureError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrMedia, err)
	}

	var ce *CaptureError
	if !errors.As(err, &ce) {
		return fmt.Errorf("%w: %v", ErrMedia, err)
	}
	switch ce.Name {
	case NameNotAllowed, NameSecurity:
		return fmt.Errorf("%w: %s", ErrPermissionDenied, ce)
	case NameNotFound, NameOverconstrained:
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, ce)
	case NameNotReadable, NameAbort:
		return fmt.Errorf("%w: %s", ErrDeviceBusy, ce)
	default:
		return fmt.Errorf("%w: %s", ErrMedia, ce)
	}
}
