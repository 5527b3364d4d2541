package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schaermu/autopulld/internal/config"
	"github.com/schaermu/autopulld/internal/git"
	"github.com/schaermu/autopulld/internal/github"
	"github.com/schaermu/autopulld/internal/hook"
	"github.com/schaermu/autopulld/internal/logging"
	"github.com/schaermu/autopulld/internal/sync"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "autopulld",
	Short: "Poll a Git hosting API and keep a local working copy up to date",
	Long: `autopulld monitors a single repository branch by polling the hosting API for
new commits. When the remote tip moves past the local HEAD it pulls the
working copy forward and optionally runs a post-update command.

Running the bare binary starts interactive setup when no configuration
exists yet.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if _, err := config.Load(path); needsSetup(err) {
			return runSetup(cmd, args)
		}
		return cmd.Help()
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Configure the monitored repository interactively",
	Long: `Setup prompts for the access token, repository, branch, local path and
optional post-update command, verifies the repository is accessible with the
token and writes the configuration file.

Re-running setup on a configured system offers full reconfiguration; there
are no partial edits.`,
	RunE: runSetup,
}

var testingCmd = &cobra.Command{
	Use:   "testing",
	Short: "Dry-run every collaborator and report a pass/fail summary",
	Long: `Testing exercises each part of the agent without mutating anything: the
hosting API is queried, the working copy and remote are inspected read-only
and the post-update command is validated but not executed.

The exit status is non-zero when any check fails.`,
	RunE: runTesting,
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Run the polling loop until terminated",
	Long: `Service checks the remote for new commits at a fixed interval, pulling the
working copy forward and running the post-update command after each
successful update. Failures are logged and the loop continues with the next
interval; the process only stops on SIGINT or SIGTERM.`,
	RunE: runService,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("autopulld %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/autopulld/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Add commands
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(testingCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	path, err := configPath()
	if err != nil {
		return err
	}

	// A corrupt config is treated like an absent one here: setup is the
	// operator's way out of that state.
	existing, err := config.Load(path)
	if err != nil && !errors.Is(err, config.ErrNotConfigured) {
		fmt.Fprintf(os.Stderr, "warning: ignoring existing config: %v\n", err)
		existing = nil
	}

	cfg, err := config.NewPrompter().Run(existing)
	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}

	probe := github.NewClient(cfg.Token)
	if err := probe.VerifyRepo(ctx, cfg.Repo.Owner, cfg.Repo.Name); err != nil {
		return fmt.Errorf("could not access %s, check token and repository: %w", cfg.Slug(), err)
	}
	fmt.Println("Repository access verified.")

	if err := config.Save(cfg, path); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Printf("Setup complete. Run '%s service' to start monitoring.\n", os.Args[0])
	return nil
}

func runTesting(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	engine := newEngine(cfg, logger)
	results := engine.Check(ctx)

	failed := 0
	for _, step := range results {
		status := "ok"
		if !step.OK {
			status = "FAIL"
			failed++
		}
		fmt.Printf("[%4s] %-22s %s\n", status, step.Name, step.Detail)
		logger.Info("check completed", "step", step.Name, "ok", step.OK, "detail", step.Detail)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(results))
	}

	fmt.Println("All checks passed.")
	return nil
}

func runService(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	engine := newEngine(cfg, logger)
	engine.Serve(ctx)
	return nil
}

// newEngine wires the engine with its real collaborators
func newEngine(cfg *config.Config, logger *slog.Logger) *sync.Engine {
	probe := github.NewClient(cfg.Token)
	gitClient := git.NewShellClient(cfg.Token)
	runner := hook.NewShellRunner()
	return sync.NewEngine(cfg, probe, gitClient, runner, logger)
}

// needsSetup reports whether a config load failure should send the operator
// into interactive setup. Both an absent and a corrupt file qualify: setup
// is the only way out of either state.
func needsSetup(err error) bool {
	return errors.Is(err, config.ErrNotConfigured) || errors.Is(err, config.ErrInvalid)
}

// configPath resolves the configuration file location
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultPath()
}

// loadConfigAndLogger loads the config and builds the logger writing to the
// configured log file. Missing configuration is fatal for testing and
// service modes.
func loadConfigAndLogger() (*config.Config, *slog.Logger, error) {
	path, err := configPath()
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, config.ErrNotConfigured) {
			return nil, nil, fmt.Errorf("no configuration found, run '%s setup' first", os.Args[0])
		}
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(logLevel, logFormat, cfg.LogFilePath(path))
	logger.Debug("configuration loaded",
		"repo", cfg.Slug(),
		"branch", cfg.Branch,
		"local_path", cfg.LocalPath,
		"interval", cfg.Interval().String())

	return cfg, logger, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
