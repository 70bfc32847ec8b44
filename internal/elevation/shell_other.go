//go:build !windows

package elevation

import (
	"context"
	"runtime"
)

func shellExecute(context.Context, string, []string, string) error {
	return Wrap(ErrUnsupportedPlatform, "shell execute", runtime.GOOS+" has no elevation prompt", nil)
}
