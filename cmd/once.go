package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reelforge/internal/app"
	"reelforge/internal/app/model"
	"reelforge/internal/pipeline"
)

var (
	onceKind    string
	onceReq     pipeline.GenerationRequest
	onceTimeout time.Duration
	oncePoll    time.Duration
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Generate a single video and wait for it",
	Long: `Create one generation job, run it and wait until it completes or fails.

Standard and text-to-video jobs need --topic, avatar jobs need --script and
ai-video jobs need --prompt.`,
	RunE: runOnce,
}

func init() {
	f := onceCmd.Flags()
	f.StringVarP(&onceKind, "kind", "k", string(model.KindStandard), "Job kind: standard, text-to-video, avatar or ai-video")
	f.StringVarP(&onceReq.Topic, "topic", "t", "", "Topic for scripted kinds")
	f.StringVar(&onceReq.Niche, "niche", "", "Content niche")
	f.StringVar(&onceReq.Tone, "tone", "", "Narration tone")
	f.StringVar(&onceReq.Language, "language", "", "Language tag, e.g. en")
	f.IntVarP(&onceReq.DurationSeconds, "duration", "d", 0, "Target duration in seconds")
	f.IntVar(&onceReq.SceneCount, "scenes", 0, "Number of scenes")
	f.StringVar(&onceReq.VoiceID, "voice", "", "Voice id")
	f.BoolVar(&onceReq.GenerateImages, "images", false, "Generate scene backgrounds")
	f.StringVar(&onceReq.Script, "script", "", "Script spoken by an avatar")
	f.StringVar(&onceReq.Prompt, "prompt", "", "Prompt for an ai-video")
	f.StringVar(&onceReq.AvatarID, "avatar", "", "Avatar id")
	f.StringVar(&onceReq.AvatarImageURL, "avatar-image", "", "Presenter image URL")
	f.StringVar(&onceReq.AspectRatio, "aspect", "", "Aspect ratio: 9:16, 16:9 or 1:1")
	f.StringSliceVar(&onceReq.Providers, "providers", nil, "Provider names to try, in order")
	f.DurationVar(&onceTimeout, "timeout", 20*time.Minute, "How long to wait for the job")
	f.DurationVar(&oncePoll, "poll", 2*time.Second, "Status poll interval")
	rootCmd.AddCommand(onceCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	kind := model.JobKind(onceKind)
	if !kind.Valid() {
		return fmt.Errorf("unknown kind %q", onceKind)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), onceTimeout)
	defer cancel()

	res, _, err := buildApp(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = res.Close() }()

	created, err := res.App.CreateJob(ctx, userID, kind, onceReq)
	if err != nil {
		printViolations(created.Violations)
		return err
	}
	job := created.Data
	fmt.Println(infoStyle.Render(fmt.Sprintf("Job %s created (%s)", job.ID, job.Kind)))

	job, err = waitForJob(ctx, res.App, job.ID)
	if err != nil {
		return err
	}
	if res.Inline != nil {
		res.Inline.Wait()
	}

	if job.Status == model.StatusFailed {
		fmt.Println(errorStyle.Render("✗ Job failed: " + job.ErrorMessage))
		return errors.New(job.ErrorMessage)
	}
	fmt.Println(successStyle.Render("✓ Video ready"))
	if title := job.Title(); title != "" {
		fmt.Println("  Title: " + title)
	}
	fmt.Println("  URL:   " + job.ResultURL)
	return nil
}

// waitForJob polls until the job reaches a terminal status.
func waitForJob(ctx context.Context, a *app.App, jobID string) (*model.Job, error) {
	ticker := time.NewTicker(oncePoll)
	defer ticker.Stop()

	last := model.JobStatus("")
	for {
		env, err := a.GetJob(ctx, userID, jobID)
		if err != nil {
			return nil, err
		}
		job := env.Data
		if job.Status != last {
			zap.L().Info("Job status", zap.String("job_id", jobID), zap.String("status", string(job.Status)))
			last = job.Status
		}
		if job.Status.Terminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("job %s still %s: %w", jobID, job.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}
