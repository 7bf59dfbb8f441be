// Package cli implements cruxctl, the operator command line for Crux.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Vielheim/crux/internal/cli/client"
	"github.com/Vielheim/crux/internal/cli/output"
	"github.com/Vielheim/crux/internal/cli/version"
)

const (
	envAPIURL     = "CRUX_API_URL"
	defaultAPIURL = "http://localhost:8000"
)

// app is the state shared by every command of one invocation.
type app struct {
	jsonOutput bool
	quietMode  bool
	apiURL     string

	printer *output.Printer
	client  *client.Client
}

func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "cruxctl",
		Short: "Crux operator CLI - upload climbs, inspect analysis, run recovery",
		Long: `cruxctl operates a Crux deployment.

API commands talk to the HTTP service at --api-url. Recovery commands
(migrate, requeue, sweep) connect to Postgres and Redis directly using
the same environment as the services.

Get started:
  cruxctl migrate up                   # Create the schema
  cruxctl users create alex alex@x.com # Create a climber
  cruxctl upload 1 send.mp4 --wait     # Upload and wait for analysis`,
		Version: version.Full(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.printer = output.New(
				output.WithJSON(a.jsonOutput),
				output.WithQuiet(a.quietMode),
				output.WithOutput(cmd.OutOrStdout()),
				output.WithErrOutput(cmd.ErrOrStderr()),
			)
			a.client = client.New(a.apiURL)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	apiURL := os.Getenv(envAPIURL)
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Output as JSON (for scripting)")
	root.PersistentFlags().BoolVar(&a.quietMode, "quiet", false, "Suppress non-error output")
	root.PersistentFlags().StringVar(&a.apiURL, "api-url", apiURL, "Crux API base URL (env "+envAPIURL+")")

	root.SetVersionTemplate("cruxctl version {{.Version}}\n")

	root.AddCommand(
		newMigrateCmd(a),
		newUsersCmd(a),
		newUploadCmd(a),
		newStatusCmd(a),
		newClimbsCmd(a),
		newRequeueCmd(a),
		newSweepCmd(a),
	)
	return root
}

// Execute runs cruxctl until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}
