package main

import (
	"fmt"

	"github.com/bhandras/immersive/internal/feedback"
	"github.com/bhandras/immersive/internal/storage"
	"github.com/spf13/cobra"
)

func newFeedbackCommand(root *rootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Inspect or change the post-exit feedback prompt",
	}

	withThrottle := func(fn func(*cobra.Command, *feedback.Throttle) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			store, err := storage.Open(root.cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer store.Close()

			throttle := feedback.NewThrottle(store, feedback.WithFrequency(root.cfg.FeedbackFrequency))
			if err := fn(cmd, throttle); err != nil {
				return err
			}
			return printFeedbackStatus(cmd, throttle)
		}
	}

	setOptedOut := func(v bool) func(*cobra.Command, *feedback.Throttle) error {
		return func(cmd *cobra.Command, t *feedback.Throttle) error {
			return t.SetOptedOut(cmd.Context(), v)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "opt-out",
			Short: "Never show the feedback prompt again",
			RunE:  withThrottle(setOptedOut(true)),
		},
		&cobra.Command{
			Use:   "opt-in",
			Short: "Show the feedback prompt again",
			RunE:  withThrottle(setOptedOut(false)),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the feedback counter",
			RunE: withThrottle(func(*cobra.Command, *feedback.Throttle) error {
				return nil
			}),
		},
	)
	return cmd
}

func printFeedbackStatus(cmd *cobra.Command, t *feedback.Throttle) error {
	st, err := t.Status(cmd.Context())
	if err != nil {
		return err
	}
	state := "opted in"
	if st.OptedOut {
		state = "opted out"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "feedback: %s, %d/%d exits since last prompt\n",
		state, st.ExitsSinceLastPrompt, st.Frequency)
	return nil
}
