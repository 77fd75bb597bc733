package cli

import (
	"fmt"
	"strings"

	actx "go.hackfix.me/wgfence/app/context"
	aerrors "go.hackfix.me/wgfence/app/errors"
)

// The Hooks command compiles the scripts of an interface, and prints the
// lines to add to its wg-quick configuration.
type Hooks struct {
	Interface string `arg:"" help:"Interface name."`
}

// Run the hooks command.
func (c *Hooks) Run(appCtx *actx.Context, g *Globals) error {
	svc, err := newService(appCtx, g)
	if err != nil {
		return err
	}

	hooks, err := svc.Hooks(appCtx.DB.NewContext(), c.Interface)
	if err != nil {
		return aerrors.NewRuntimeError(fmt.Sprintf("failed compiling scripts of %s", c.Interface), err, "")
	}

	var sb strings.Builder
	for _, cmd := range hooks.PostUp {
		fmt.Fprintf(&sb, "PostUp = %s\n", cmd)
	}
	for _, cmd := range hooks.PreDown {
		fmt.Fprintf(&sb, "PreDown = %s\n", cmd)
	}
	if sb.Len() == 0 {
		appCtx.Logger.Info("nothing to configure", "interface", c.Interface)
		return nil
	}

	return printf(appCtx, "%s", sb.String())
}

// The Apply command reconciles, compiles and applies the rules of an
// interface.
type Apply struct {
	Interface string `arg:"" help:"Interface name."`
}

// Run the apply command.
func (c *Apply) Run(appCtx *actx.Context, g *Globals) error {
	svc, err := newService(appCtx, g)
	if err != nil {
		return err
	}

	if err = svc.Apply(appCtx.DB.NewContext(), c.Interface); err != nil {
		return aerrors.NewRuntimeError(fmt.Sprintf("failed applying rules of %s", c.Interface), err, "")
	}

	return nil
}

// The Teardown command removes the rules and policy routing applied for an
// interface.
type Teardown struct {
	Interface string `arg:"" help:"Interface name."`
}

// Run the teardown command.
func (c *Teardown) Run(appCtx *actx.Context, g *Globals) error {
	svc, err := newService(appCtx, g)
	if err != nil {
		return err
	}

	if err = svc.Teardown(appCtx.DB.NewContext(), c.Interface); err != nil {
		return aerrors.NewRuntimeError(fmt.Sprintf("failed tearing down rules of %s", c.Interface), err, "")
	}

	return nil
}
