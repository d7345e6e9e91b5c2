// Package cli wires the estateflow command tree.
package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rogers-f/estate-workflow/internal/config"
)

// Build metadata, set with -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type options struct {
	configPath string
	envFile    string
}

// Execute runs the command tree against os.Args and returns the process exit code.
func Execute() int {
	root := NewRootCommand(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return 1
	}
	return 0
}

// NewRootCommand builds the root command writing to out and errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "estateflow",
		Short: "Inventory application workflow service",
		Long: `estateflow tracks inventory applications through their stages:
technicians complete steps, controllers review each finished stage,
and managers decide on decline requests.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"path to a YAML or JSON config file (default: $ESTATEFLOW_CONFIG or config.yaml next to the binary)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env",
		"dotenv file loaded before reading ESTATEFLOW_* variables; ignored when missing")

	root.AddCommand(
		newServeCommand(opts),
		newStagesCommand(opts),
		newCanEditCommand(),
		newVersionCommand(),
	)
	return root
}

// loadConfig resolves the config path: --config flag > ESTATEFLOW_CONFIG > auto-discovery.
// No file at all is fine; defaults and environment overrides still apply.
// Variables already set in the environment win over the dotenv file.
func (o *options) loadConfig() (*config.Config, error) {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	path := o.configPath
	if path == "" {
		path = os.Getenv("ESTATEFLOW_CONFIG")
	}
	if path == "" {
		path = discoverConfig()
	}
	return config.Load(path)
}

// discoverConfig looks for a config file next to the executable, then in the cwd.
func discoverConfig() string {
	names := []string{"config.yaml", "config.yml", "config.json"}
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	dirs = append(dirs, ".")

	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "estateflow %s (commit=%s, built=%s)\n", version, commit, date)
		},
	}
}
