package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bud42069/AT-1000/internal/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect, initialise or edit the config file",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config with defaults applied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config populated with defaults",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(opts.configPath); err == nil && !force {
				return fmt.Errorf("%s exists; pass --force to overwrite", opts.configPath)
			}
			if err := os.MkdirAll(filepath.Dir(opts.configPath), 0o755); err != nil {
				return err
			}
			if err := config.Save(opts.configPath, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	edit := &cobra.Command{
		Use:   "edit",
		Short: "Interactively edit the risk and execution knobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if errors.Is(err, fs.ErrNotExist) {
				cfg = config.Default()
			} else if err != nil {
				return err
			}
			p := prompter{in: bufio.NewReader(cmd.InOrStdin()), out: cmd.OutOrStdout()}
			editKnobs(p, cfg)
			if !p.confirm("Save to " + opts.configPath) {
				fmt.Fprintln(p.out, "discarded")
				return nil
			}
			if err := config.Save(opts.configPath, cfg); err != nil {
				return err
			}
			fmt.Fprintln(p.out, "config saved")
			return nil
		},
	}

	cmd.AddCommand(show, initCmd, edit)
	return cmd
}

func editKnobs(p prompter, cfg *config.Config) {
	fmt.Fprintln(p.out, "\n--- Execution ---")
	cfg.Engine.Venue = p.choice("Venue", cfg.Engine.Venue, "paper", "drift")
	cfg.Engine.RiskFraction = p.percent("Risk per trade (% of equity)", cfg.Engine.RiskFraction)
	cfg.Engine.MaxLeverage = p.float("Max leverage", cfg.Engine.MaxLeverage)
	cfg.Engine.FeeBps = p.float("Fee estimate (bps)", cfg.Engine.FeeBps)
	cfg.Engine.MaxAttempts = int(p.float("Max entry attempts", float64(cfg.Engine.MaxAttempts)))
	cfg.Engine.RepriceToleranceBps = p.float("Reprice tolerance (bps)", cfg.Engine.RepriceToleranceBps)

	fmt.Fprintln(p.out, "\n--- Signals ---")
	cfg.Signals.Leverage = p.float("Proposed leverage", cfg.Signals.Leverage)
	cfg.Signals.StopMultiplier = p.float("Stop multiplier", cfg.Signals.StopMultiplier)

	fmt.Fprintln(p.out, "\n--- Paper ---")
	cfg.Paper.StartingCollateral = p.float("Starting collateral", cfg.Paper.StartingCollateral)
	cfg.Paper.FeeBps = p.float("Paper fee (bps)", cfg.Paper.FeeBps)
}

type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p prompter) line(label, current string) string {
	fmt.Fprintf(p.out, "%s [%s]: ", label, current)
	line, _ := p.in.ReadString('\n')
	return strings.TrimSpace(line)
}

func (p prompter) float(label string, current float64) float64 {
	line := p.line(label, strconv.FormatFloat(current, 'f', -1, 64))
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil || val < 0 {
		fmt.Fprintf(p.out, "invalid number, keeping %v\n", current)
		return current
	}
	return val
}

func (p prompter) percent(label string, current float64) float64 {
	return p.float(label, current*100) / 100
}

func (p prompter) choice(label, current string, options ...string) string {
	line := p.line(label+" ("+strings.Join(options, "|")+")", current)
	if line == "" {
		return current
	}
	for _, o := range options {
		if strings.EqualFold(line, o) {
			return o
		}
	}
	fmt.Fprintf(p.out, "unknown option, keeping %s\n", current)
	return current
}

func (p prompter) confirm(label string) bool {
	line := p.line(label+"? (y/n)", "y")
	return line == "" || strings.EqualFold(line, "y") || strings.EqualFold(line, "yes")
}
