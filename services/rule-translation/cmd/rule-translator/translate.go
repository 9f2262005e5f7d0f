package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/metrics"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/usecase"
)

func newTranslateCommand(opts *options) *cobra.Command {
	var (
		from   string
		to     string
		native bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "translate [file]",
		Short: "Translate a canonical detection (or a native query with --native)",
		Long: `Reads a canonical JSON detection, or a native query with --native, from
file or stdin and prints the query for the target platform.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			cfg, logger, err := opts.load(true)
			if err != nil {
				return err
			}
			defer logger.Cleanup()

			svc, cleanup, err := buildService(cfg, logger, metrics.NewCollector(cfg.Metrics.Namespace))
			if err != nil {
				return err
			}
			defer cleanup()

			var result *entity.TranslationResult
			if native {
				result, err = svc.TranslateNative(cmd.Context(), usecase.TranslateNativeRequest{
					SourcePlatform: from,
					TargetPlatform: to,
					Query:          string(input),
				})
			} else {
				canonical, perr := entity.ParseCanonicalJSON(input)
				if perr != nil {
					return perr
				}
				result, err = svc.Translate(cmd.Context(), usecase.TranslateRequest{
					SourcePlatform: from,
					TargetPlatform: to,
					Canonical:      canonical,
				})
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			_, err = fmt.Fprintln(out, result.Query)
			return err
		},
	}

	cmd.Flags().StringVar(&from, "from", string(entity.PlatformSigma), "source platform")
	cmd.Flags().StringVar(&to, "to", "", "target platform: sentinel, splunk, sigma or chronicle")
	cmd.Flags().BoolVar(&native, "native", false, "input is a native query of the source platform")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full translation result as JSON")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newValidateCommand(opts *options) *cobra.Command {
	var platform string

	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a native query against platform rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			cfg, logger, err := opts.load(true)
			if err != nil {
				return err
			}
			defer logger.Cleanup()

			svc, cleanup, err := buildService(cfg, logger, metrics.NewCollector(cfg.Metrics.Namespace))
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := svc.Validate(cmd.Context(), platform, string(input))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.IsValid {
				return fmt.Errorf("query is invalid: %s", result.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "", "platform of the query")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}
