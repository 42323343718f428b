package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"comfyrelay/internal/models"
	"comfyrelay/internal/pkg/errors"
	"comfyrelay/internal/worker"
	"comfyrelay/internal/worker/processor"
)

func newRunCmd() *cobra.Command {
	var (
		inputPath  string
		outputPath string
	)

	cmd := &cobra.Command{
		Use:   "run --input job.json",
		Short: "Run one job end to end and print its response",
		Long: `Run one job envelope through the full pipeline: start the execution
server if needed, submit the workflow, wait for it, locate the artifacts
and deliver them with the configured DELIVERY_MODE.

Examples:
  # Run a job file and print the response
  relayctl run --input job.json

  # Read the envelope from stdin and keep the response
  cat job.json | relayctl run --input - --output response.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := getEnv(cmd)
			if err != nil {
				return err
			}

			raw, err := readInput(cmd, inputPath)
			if err != nil {
				return err
			}

			var resp models.JobResponse
			job, err := processor.ParseJob(raw)
			if err != nil {
				resp = models.Failure(errors.PublicMessage(err))
			} else {
				proc, err := worker.NewProcessor(cmd.Context(), e.cfg, e.log)
				if err != nil {
					return fmt.Errorf("building job processor: %w", err)
				}
				resp = proc.ProcessJob(cmd.Context(), job)
			}

			if err := writeResponse(cmd, outputPath, resp); err != nil {
				return err
			}
			if !resp.OK() {
				return fmt.Errorf("job failed: %s", resp.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", `job envelope file, or "-" for stdin`)
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the response here instead of stdout")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job envelope: %w", err)
	}
	return raw, nil
}

func writeResponse(cmd *cobra.Command, path string, resp models.JobResponse) error {
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	out = append(out, '\n')

	if path == "" {
		_, err = cmd.OutOrStdout().Write(out)
		return err
	}
	return os.WriteFile(path, out, 0o644)
}
