package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cbriice/claude-swarm-sub001/internal/checkpoint"
	"github.com/cbriice/claude-swarm-sub001/internal/config"
	"github.com/cbriice/claude-swarm-sub001/internal/eventbus"
	"github.com/cbriice/claude-swarm-sub001/internal/notify"
	"github.com/cbriice/claude-swarm-sub001/internal/session"
	"github.com/cbriice/claude-swarm-sub001/internal/vault"
	"github.com/cbriice/claude-swarm-sub001/internal/web"
	"github.com/cbriice/claude-swarm-sub001/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start <workflow> <goal...>",
	Short: "Start a workflow session",
	Long: `Start a new session running the named workflow toward the given goal.
The command stays in the foreground coordinating the workers; Ctrl+C stops
the session gracefully.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runStart,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a session from its latest checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

var resumeSkipFailed bool

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().BoolVar(&resumeSkipFailed, "skip-failed", false,
		"skip pending stages implicated in the latest unrecovered error")
}

func runStart(cmd *cobra.Command, args []string) error {
	workflowName := args[0]
	goal := strings.Join(args[1:], " ")
	return runSession(func(ctx context.Context, coord *session.Coordinator) error {
		return coord.Start(ctx, workflowName, goal)
	})
}

func runResume(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	return runSession(func(ctx context.Context, coord *session.Coordinator) error {
		return coord.Resume(ctx, sessionID, resumeSkipFailed)
	})
}

// runSession wires the full stack, launches the session via begin and runs
// the monitor loop until it finishes or a signal arrives.
func runSession(begin func(context.Context, *session.Coordinator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("starting swarm", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	bus, err := eventbus.New(cfg.Events)
	if err != nil {
		return fmt.Errorf("init event bus: %w", err)
	}
	defer bus.Close()

	events, err := eventbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("init event client: %w", err)
	}
	defer events.Close()

	notifier, err := notify.New(cfg.Telegram)
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}
	if notifier == nil {
		slog.Debug("telegram token not set, notifications disabled")
	}

	checkpoints, err := checkpoint.NewManager(db, cfg.Checkpoint)
	if err != nil {
		return fmt.Errorf("init checkpoints: %w", err)
	}

	runtime, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer runtime.StopAll(context.Background())

	var v *vault.Vault
	if cfg.Vault.Passphrase != "" {
		v = vault.New(cfg.Vault.Passphrase)
	}

	coord := session.NewCoordinator(session.Deps{
		Config:      cfg,
		Store:       db,
		Checkpoints: checkpoints,
		Events:      events,
		Notifier:    notifier,
		Runtime:     runtime,
		Workspaces:  worker.NewWorkspaces(cfg.Worker.Workspaces),
		Vault:       v,
	})

	if cfg.Web.Enabled {
		srv := web.NewServer(db, events, coord, cfg.Web)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
	}

	if err := begin(ctx, coord); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	interrupted := false
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		interrupted = true
		cancel()
	}()

	runErr := coord.Run(ctx)
	if interrupted {
		return &ExitError{Code: ExitInterrupted, Err: fmt.Errorf("interrupted")}
	}
	return runErr
}

func newRuntime(cfg *config.Config) (worker.Runtime, error) {
	switch cfg.Worker.Runtime {
	case "docker":
		return worker.NewDockerRuntime(cfg.Worker)
	case "local", "":
		return worker.NewLocalRuntime(cfg.Worker)
	default:
		return nil, fmt.Errorf("unknown worker runtime %q", cfg.Worker.Runtime)
	}
}
