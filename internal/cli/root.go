// Package cli implements relayctl, the operator CLI for running single jobs
// and checking storage from a shell.
package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"comfyrelay/internal/config"
	"comfyrelay/internal/pkg/logger"
)

type contextKey string

const envContextKey contextKey = "relayctl"

type env struct {
	cfg *config.Config
	log *logger.Logger
}

// NewRootCmd builds the relayctl command tree. Configuration comes from the
// same environment variables as the services.
func NewRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "relayctl",
		Short: "Operate the ComfyUI job relay from a shell",
		Long: `relayctl runs the relay's job pipeline and storage providers outside the
API and worker processes. It reads the same environment (.env outside
production) as cmd/api and cmd/worker. Use run to execute one job file
end to end, upload to check the configured storage provider, and
gdrive-auth to obtain a Drive refresh token.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			level := cfg.Log.Level
			if verbose {
				level = "debug"
			}
			log := logger.New(logger.Config{
				Level:       level,
				Format:      "text",
				Output:      cmd.ErrOrStderr(),
				ServiceName: "relayctl",
			})

			cmd.SetContext(context.WithValue(cmd.Context(), envContextKey, &env{cfg: cfg, log: log}))
			return nil
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(newRunCmd(), newUploadCmd(), newGDriveAuthCmd())
	return root
}

func getEnv(cmd *cobra.Command) (*env, error) {
	e, ok := cmd.Context().Value(envContextKey).(*env)
	if !ok {
		return nil, errors.New("no configuration in context")
	}
	return e, nil
}
