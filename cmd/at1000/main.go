// Command at1000 runs the SOL-PERP signal generator and execution engine.
package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bud42069/AT-1000/internal/config"
	"github.com/bud42069/AT-1000/internal/util"
)

const defaultConfigPath = "configs/at1000.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "at1000",
		Short: "VWAP reclaim signals and maker-only perp execution",
		Long: `at1000 aggregates trade prints into one-minute bars, emits VWAP reclaim signals
confirmed by cumulative volume delta, and executes them as post-only entries with a
stop and three take-profits on Drift or a local paper book.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override app.log_level")

	root.AddCommand(
		newRunCmd(opts),
		newSignalsCmd(opts),
		newEngineCmd(opts),
		newLiqPriceCmd(),
		newConfigCmd(opts),
		newDriftCmd(opts),
	)
	return root
}

// load reads the config, falling back to defaults when the file does not exist.
func (o *rootOptions) load() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	missing := errors.Is(err, fs.ErrNotExist)
	switch {
	case missing:
		cfg = &config.Config{}
		cfg.ApplyEnv()
		cfg.ApplyDefaults()
	case err != nil:
		return nil, zerolog.Nop(), err
	}

	level := cfg.App.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	log := util.NewLoggerTo(os.Stdout, level, cfg.App.LogConsole).With().Str("app", cfg.App.Name).Logger()
	if missing {
		log.Warn().Str("path", o.configPath).Msg("config not found; using defaults")
	}
	return cfg, log, nil
}
