package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/pkg/logging"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/config"
)

// Version information (set by build)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configFile string
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "rule-translator",
		Short: "Translate detection rules between SIEM query languages",
		Long: `rule-translator converts canonical detection rules to and from
Microsoft Sentinel KQL, Splunk SPL, Sigma and Chronicle YARA-L.`,
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newTranslateCommand(opts))
	root.AddCommand(newValidateCommand(opts))
	return root
}

// load reads the config and builds the logger. Commands that print results
// pass printsResults so logs stay off stdout.
func (o *options) load(printsResults bool) (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(o.configFile)
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(loggerConfig(cfg, printsResults))
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func loggerConfig(cfg *config.Config, printsResults bool) logging.Config {
	output := cfg.Logging.Output
	if printsResults && (output == "" || strings.EqualFold(output, "stdout")) {
		output = "stderr"
	}
	return logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      output,
		ServiceName: cfg.Service.Name,
		Development: cfg.Logging.Development,
	}
}
