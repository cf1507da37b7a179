package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bhandras/immersive/internal/compat"
	"github.com/spf13/cobra"
)

func newProbeCommand(root *rootCommand) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Classify the installed spatial runtime",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := dialRuntime(root.cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			waitConnected(ctx, client.IsConnected)

			info, probeErr := client.ProbeVersion(ctx)
			result := struct {
				Compatibility compat.Compatibility `json:"compatibility"`
				Version       int                  `json:"version,omitempty"`
				MinVersion    int                  `json:"minVersion"`
				RequiresDoff  bool                 `json:"requiresDoff"`
				Error         string               `json:"error,omitempty"`
			}{
				Compatibility: compat.Classify(info, probeErr, root.cfg.MinRuntimeVersion),
				Version:       info.Version,
				MinVersion:    root.cfg.MinRuntimeVersion,
				RequiresDoff:  client.RequiresDoff(),
			}
			if probeErr != nil {
				result.Error = probeErr.Error()
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the runtime service")
	return cmd
}

// waitConnected polls until connected reports true or ctx ends.
func waitConnected(ctx context.Context, connected func() bool) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !connected() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
