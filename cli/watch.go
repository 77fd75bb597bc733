package cli

import (
	"context"
	"fmt"
	"time"

	actx "go.hackfix.me/wgfence/app/context"
	aerrors "go.hackfix.me/wgfence/app/errors"
	"go.hackfix.me/wgfence/watch"
)

// The Watch command refreshes the egress routing of an interface whenever
// exit node definitions are added, changed or removed.
type Watch struct {
	Interface string        `arg:"" help:"Interface name."`
	Debounce  time.Duration `help:"Wait this long after the last change before refreshing. Defaults to the configured value."`
}

// Run the watch command.
func (c *Watch) Run(appCtx *actx.Context, g *Globals) error {
	svc, err := newService(appCtx, g)
	if err != nil {
		return err
	}

	// Converge once before waiting for changes.
	if _, err = svc.RefreshEgress(appCtx.DB.NewContext(), c.Interface); err != nil {
		return aerrors.NewRuntimeError(
			fmt.Sprintf("failed refreshing egress routing of %s", c.Interface), err, "")
	}

	w := watch.New(svc.ExitNodeDir(), c.Debounce, appCtx.Logger)
	err = w.Run(appCtx.Ctx, func(ctx context.Context) error {
		_, rerr := svc.RefreshEgress(ctx, c.Interface)
		return rerr
	})
	if err != nil {
		return aerrors.NewRuntimeError("failed watching exit node definitions", err, "")
	}

	return nil
}
