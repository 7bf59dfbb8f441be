package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Vielheim/crux/internal/cli/client"
	"github.com/Vielheim/crux/internal/cli/output"
)

const pollInterval = 2 * time.Second

func newUploadCmd(a *app) *cobra.Command {
	var (
		wait    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "upload <user-id> <file>",
		Short: "Upload a climb video for analysis",
		Long: `Upload an .mp4 or .mov climb video on behalf of a user.

Examples:
  cruxctl upload 1 send.mp4
  cruxctl upload 1 project.mov --wait`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user id", args[0])
			if err != nil {
				return err
			}
			path := args[1]

			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("cannot read %s: %w", path, err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", path)
			}

			progress := output.NewByteProgress(info.Size(), "Uploading "+info.Name(), a.quietMode || a.jsonOutput)
			res, err := a.client.Upload(cmd.Context(), userID, path, progress)
			progress.Finish()
			if err != nil {
				return fmt.Errorf("failed to upload %s: %w", path, err)
			}

			if !wait {
				if a.jsonOutput {
					return a.printer.JSON(res)
				}
				a.printer.Success("Uploaded %s as climb %d", info.Name(), res.ID)
				a.printer.KeyValue("Status", output.Status(res.Status))
				a.printer.KeyValue("Video", res.VideoURL)
				return nil
			}

			a.printer.Info("Climb %d queued, waiting for analysis", res.ID)
			return a.watchClimb(cmd.Context(), res.ID, timeout)
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait until analysis finishes")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Maximum time to wait with --wait")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var (
		watch   bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status <climb-id>",
		Short: "Show a climb's analysis status",
		Long: `Show the status and results of a climb.

Examples:
  cruxctl status 42
  cruxctl status 42 --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("climb id", args[0])
			if err != nil {
				return err
			}
			if watch {
				return a.watchClimb(cmd.Context(), id, timeout)
			}

			climb, err := a.client.GetClimb(cmd.Context(), id)
			if err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("climb %d not found", id)
				}
				return fmt.Errorf("failed to get climb: %w", err)
			}
			return a.printClimb(climb)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the climb finishes")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Maximum time to watch")
	return cmd
}

func newClimbsCmd(a *app) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "climbs <user-id>",
		Short: "List a user's climbs, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user id", args[0])
			if err != nil {
				return err
			}

			climbs, err := a.client.ListClimbs(cmd.Context(), userID, limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list climbs: %w", err)
			}
			if a.jsonOutput {
				return a.printer.JSON(climbs)
			}
			if len(climbs) == 0 {
				a.printer.Info("No climbs for user %d", userID)
				return nil
			}

			table := output.NewTable(a.printer.Out(), []string{"ID", "STATUS", "ATTEMPTS", "CREATED"}, a.quietMode)
			for _, c := range climbs {
				table.Append(strconv.FormatInt(c.ID, 10), c.Status, strconv.Itoa(int(c.Attempts)), formatTime(c.CreatedAt))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum climbs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Climbs to skip")
	return cmd
}

func (a *app) watchClimb(ctx context.Context, id int64, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	spinner := output.NewSpinner(fmt.Sprintf("Watching climb %d...", id), a.quietMode || a.jsonOutput)
	climb, err := a.client.WaitForClimb(ctx, id, pollInterval, func(c *client.Climb) {
		spinner.Update("Status: " + c.Status)
	})
	spinner.Finish()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("timed out after %s waiting for climb %d", timeout, id)
		}
		return fmt.Errorf("failed to watch climb %d: %w", id, err)
	}
	return a.printClimb(climb)
}

func (a *app) printClimb(c *client.Climb) error {
	if a.jsonOutput {
		return a.printer.JSON(c)
	}

	a.printer.Section(fmt.Sprintf("Climb %d", c.ID))
	a.printer.KeyValue("Status", output.Status(c.Status))
	a.printer.KeyValue("User", strconv.FormatInt(c.UserID, 10))
	a.printer.KeyValue("Video", c.VideoURL)
	a.printer.KeyValue("Attempts", strconv.Itoa(int(c.Attempts)))
	a.printer.KeyValue("Created", formatTime(c.CreatedAt))
	a.printer.KeyValue("Updated", formatTime(c.UpdatedAt))
	if c.ErrorMessage != nil {
		a.printer.KeyValue("Error", *c.ErrorMessage)
	}
	if len(c.AnalysisResults) > 0 && string(c.AnalysisResults) != "null" {
		a.printer.KeyValue("Results", string(c.AnalysisResults))
	}
	return nil
}

func parseID(what, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return id, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
