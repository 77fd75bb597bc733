package cli

import (
	"fmt"

	actx "go.hackfix.me/wgfence/app/context"
	aerrors "go.hackfix.me/wgfence/app/errors"
)

// The Init command creates the wgfence database, and writes the configuration
// file if it doesn't exist.
type Init struct{}

// Run the init command.
func (c *Init) Run(appCtx *actx.Context) error {
	if appCtx.VersionInit != "" {
		return aerrors.NewRuntimeError(
			fmt.Sprintf("wgfence is already initialized with version %s", appCtx.VersionInit), nil, "")
	}

	err := appCtx.DB.Init(appCtx.Version.Semantic, appCtx.Logger)
	if err != nil {
		return aerrors.NewRuntimeError("failed initializing database", err, "")
	}

	ok, err := fsExists(appCtx, appCtx.Config.Path())
	if err != nil {
		return aerrors.NewRuntimeError("failed checking configuration file", err, "")
	}
	if !ok {
		if err = appCtx.Config.Save(); err != nil {
			return aerrors.NewRuntimeError("failed writing configuration file", err, "")
		}
	}

	_, err = fmt.Fprintf(appCtx.Stdout, "Initialized wgfence %s\n", appCtx.Version.Semantic)
	if err != nil {
		return aerrors.NewRuntimeError("failed writing to stdout", err, "")
	}

	return nil
}
