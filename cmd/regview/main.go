package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chis/regview/internal/bootstrap"
	"github.com/chis/regview/internal/config"
	"github.com/chis/regview/internal/output"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	envFile    string
	logLevel   string
	dbPath     string
	store      string
}

// errReported marks an error already written to the user, so main only sets
// the exit code.
var errReported = errors.New("reported")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "regview",
		Short: "Browse and manage private Docker registries",
		Long: `regview lists the repositories, tags and manifests of private Docker
Registry v2 servers, tests connections and deletes tags by digest. It runs as
a CLI or as an HTTP API server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", config.ConfigPath(), "YAML config file")
	flags.StringVar(&opts.envFile, "env-file", config.DefaultEnvFile, "optional .env file")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.dbPath, "db", "", "database path (overrides config)")
	flags.StringVar(&opts.store, "store", "", "storage backend: sqlite or starskey (overrides config)")

	root.AddCommand(
		newServeCmd(opts),
		newRegistriesCmd(opts),
		newImagesCmd(opts),
		newProbeCmd(opts),
		newDeleteTagCmd(opts),
		newHistoryCmd(opts),
		newSessionCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadConfig resolves configuration and applies flag overrides.
func (o *globalOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath, o.envFile)
	if err != nil {
		return config.Config{}, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if o.store != "" {
		cfg.StoreBackend = o.store
	}
	return cfg, nil
}

// withServices initializes every service, runs fn and releases them.
func (o *globalOptions) withServices(ctx context.Context, fn func(context.Context, *bootstrap.ServiceDependencies) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	bootstrap.ConfigureLogging(cfg)

	deps, cleanup, err := bootstrap.InitializeServices(ctx, cfg, bootstrap.InitOptions{})
	if err != nil {
		return err
	}
	defer cleanup()

	return fn(ctx, deps)
}

// writeResult prints data as a JSON envelope or through render.
func writeResult(cmd *cobra.Command, asJSON bool, data any, render func() error) error {
	if asJSON {
		return output.WriteJSONData(cmd.OutOrStdout(), data)
	}
	return render()
}

// reportError prints err as a JSON envelope in --json mode and returns an
// error that main will not print again.
func reportError(cmd *cobra.Command, asJSON bool, err error) error {
	if !asJSON {
		return err
	}
	if werr := output.WriteJSONError(cmd.OutOrStdout(), err); werr != nil {
		return werr
	}
	return fmt.Errorf("%w: %w", errReported, err)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the regview version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "regview %s\n", output.Version)
		},
	}
}
