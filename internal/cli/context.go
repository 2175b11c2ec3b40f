// Package cli provides the command-line interface for the khoj application.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Loopxo/khoj/internal/app"
)

type appKey struct{}

// SetApp stores the Application in the command's context
func SetApp(cmd *cobra.Command, a *app.Application) {
	if cmd == nil {
		return
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, appKey{}, a))
}

// GetApp retrieves the Application stored by SetApp, or nil
func GetApp(cmd *cobra.Command) *app.Application {
	if cmd == nil || cmd.Context() == nil {
		return nil
	}
	a, _ := cmd.Context().Value(appKey{}).(*app.Application)
	return a
}
