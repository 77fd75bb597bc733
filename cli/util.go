package cli

import (
	"fmt"
	"strconv"

	"github.com/mandelsoft/vfs/pkg/vfs"

	actx "go.hackfix.me/wgfence/app/context"
	aerrors "go.hackfix.me/wgfence/app/errors"
)

func fsExists(appCtx *actx.Context, path string) (bool, error) {
	return vfs.Exists(appCtx.FS, path) //nolint:wrapcheck // This is wrapped by the caller.
}

// printf writes to stdout.
func printf(appCtx *actx.Context, format string, args ...any) error {
	if _, err := fmt.Fprintf(appCtx.Stdout, format, args...); err != nil {
		return aerrors.NewRuntimeError("failed writing to stdout", err, "")
	}
	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func idStr(id uint64) string {
	return strconv.FormatUint(id, 10)
}
