package elevation

import (
	"errors"
	"fmt"
	"strings"

	"symdeploy/internal/ipc"
)

var (
	// ErrConsentDeclined means the user refused the elevation prompt.
	ErrConsentDeclined = errors.New("elevation declined")
	// ErrMarshal means a bound argument could not be encoded for transport.
	ErrMarshal = errors.New("cannot marshal argument")
	// ErrElevationFailed covers every other refusal by the OS to start the helper.
	ErrElevationFailed = errors.New("elevation failed")
	// ErrUnsupportedPlatform means this build cannot request elevation.
	ErrUnsupportedPlatform = errors.New("elevation not supported on this platform")
	// ErrHelperDisconnected marks operations orphaned by a vanished helper.
	ErrHelperDisconnected = errors.New("elevated helper disconnected")
	// ErrProtocol marks wire contract violations on the helper channel.
	ErrProtocol = ipc.ErrProtocol
)

// Wrap builds an error message that includes the failing operation while
// tagging it with marker for errors.Is classification. marker should be one
// of the sentinels above.
func Wrap(marker error, operation, message string, err error) error {
	detail := buildDetail(operation, message)
	if marker == nil {
		marker = ErrElevationFailed
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(operation, message string) string {
	parts := make([]string, 0, 2)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "elevation failure"
	}
	return strings.Join(parts, ": ")
}
