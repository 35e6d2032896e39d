package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"reelforge/internal/app/model"
	"reelforge/internal/apperr"
	"reelforge/internal/queue"
)

var (
	queuePlatforms []string
	queueAt        string
	queueIn        time.Duration
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Schedule completed videos for posting",
}

var queueAddCmd = &cobra.Command{
	Use:   "add <video-id>",
	Short: "Queue a completed video for one or more platforms",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueAdd,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue entries with their per-platform results",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <entry-id>",
	Short: "Remove an entry that has not been posted yet",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueRemove,
}

var queueUpdateCmd = &cobra.Command{
	Use:   "update <entry-id>",
	Short: "Reschedule an entry or change its platforms",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueUpdate,
}

var queuePostNowCmd = &cobra.Command{
	Use:   "post-now <entry-id>",
	Short: "Post an entry immediately instead of waiting for its time",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueuePostNow,
}

func init() {
	for _, c := range []*cobra.Command{queueAddCmd, queueUpdateCmd} {
		c.Flags().StringSliceVarP(&queuePlatforms, "platform", "p", nil, "Platforms: youtube, instagram")
		c.Flags().StringVar(&queueAt, "at", "", "Post time in RFC 3339, e.g. 2026-05-01T18:00:00Z")
		c.Flags().DurationVar(&queueIn, "in", 0, "Post after this delay, e.g. 2h")
	}
	queueCmd.AddCommand(queueAddCmd, queueListCmd, queueRemoveCmd, queueUpdateCmd, queuePostNowCmd)
	rootCmd.AddCommand(queueCmd)
}

func runQueueAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	when, err := scheduleFlag()
	if err != nil {
		return err
	}
	res, _, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = res.Close() }()

	env, err := res.App.Enqueue(ctx, userID, queue.EnqueueRequest{
		VideoID:     args[0],
		Platforms:   platformsFlag(),
		ScheduledAt: when,
	})
	if err != nil {
		printViolations(env.Violations)
		return err
	}
	fmt.Println(successStyle.Render("✓ " + env.Message))
	printEntries([]*model.QueueEntry{env.Data})
	return nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	res, _, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = res.Close() }()

	env, err := res.App.ListQueue(ctx, userID)
	if err != nil {
		return err
	}
	if len(env.Data) == 0 {
		fmt.Println(infoStyle.Render("Queue is empty"))
		return nil
	}
	printEntries(env.Data)
	return nil
}

func runQueueRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	res, _, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = res.Close() }()

	env, err := res.App.RemoveFromQueue(ctx, userID, args[0])
	if err != nil {
		return err
	}
	fmt.Println(successStyle.Render("✓ " + env.Message))
	return nil
}

func runQueueUpdate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var req queue.UpdateRequest
	if cmd.Flags().Changed("at") || cmd.Flags().Changed("in") {
		when, err := scheduleFlag()
		if err != nil {
			return err
		}
		req.ScheduledAt = &when
	}
	req.Platforms = platformsFlag()
	if req.ScheduledAt == nil && len(req.Platforms) == 0 {
		return errors.New("nothing to update: pass --at, --in or --platform")
	}

	res, _, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = res.Close() }()

	env, err := res.App.UpdateQueueEntry(ctx, userID, args[0], req)
	if err != nil {
		printViolations(env.Violations)
		return err
	}
	fmt.Println(successStyle.Render("✓ " + env.Message))
	printEntries([]*model.QueueEntry{env.Data})
	return nil
}

func runQueuePostNow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	res, _, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = res.Close() }()

	env, err := res.App.PostNow(ctx, userID, args[0])
	if err != nil {
		return err
	}
	style := successStyle
	if env.Data.Status != model.QueuePosted {
		style = warnStyle
	}
	fmt.Println(style.Render(env.Message))
	printEntries([]*model.QueueEntry{env.Data})
	return nil
}

// scheduleFlag resolves --at and --in; neither means now.
func scheduleFlag() (time.Time, error) {
	switch {
	case queueAt != "" && queueIn != 0:
		return time.Time{}, errors.New("pass either --at or --in, not both")
	case queueAt != "":
		t, err := time.Parse(time.RFC3339, queueAt)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse --at: %w", err)
		}
		return t.UTC(), nil
	case queueIn != 0:
		return time.Now().UTC().Add(queueIn), nil
	default:
		return time.Time{}, nil
	}
}

func platformsFlag() []model.Platform {
	out := make([]model.Platform, 0, len(queuePlatforms))
	for _, p := range queuePlatforms {
		out = append(out, model.Platform(strings.ToLower(strings.TrimSpace(p))))
	}
	return out
}

func printEntries(entries []*model.QueueEntry) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("ENTRY", "VIDEO", "SCHEDULED", "STATUS", "RESULTS")
	for _, e := range entries {
		t.Row(e.ID, e.VideoID, e.ScheduledAt.Local().Format(time.DateTime), string(e.Status), resultsCell(e))
	}
	fmt.Println(t.Render())
}

func resultsCell(e *model.QueueEntry) string {
	if len(e.Results) == 0 {
		names := make([]string, len(e.Platforms))
		for i, p := range e.Platforms {
			names[i] = string(p)
		}
		return strings.Join(names, ", ")
	}
	lines := make([]string, len(e.Results))
	for i, r := range e.Results {
		if r.Success {
			lines[i] = fmt.Sprintf("%s ✓ %s", r.Platform, r.PostID)
		} else {
			lines[i] = fmt.Sprintf("%s ✗ %s", r.Platform, r.Error)
		}
	}
	return strings.Join(lines, "\n")
}

func printViolations(violations []apperr.Violation) {
	for _, v := range violations {
		fmt.Println(errorStyle.Render("  " + v.String()))
	}
}
