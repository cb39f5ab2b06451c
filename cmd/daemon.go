package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/perchtools/perch/config"
	"github.com/perchtools/perch/internal/daemon/journal"
	"github.com/perchtools/perch/internal/daemon/pidfile"
	"github.com/perchtools/perch/internal/daemon/server"
	"github.com/perchtools/perch/internal/remote"
	"github.com/perchtools/perch/internal/tracker"
	"github.com/perchtools/perch/logging"
	"github.com/perchtools/perch/pkg/paths"
)

// NewDaemonCmd returns the daemon command with subcommands.
func NewDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the perch daemon",
		Long:  "The daemon tracks agent sessions across nodes and serves their state over a unix socket.",
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Long:  "Start the perch daemon in foreground mode.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger("perchd")
			pidPath := paths.PidFilePath()
			sockPath := paths.SocketPath()

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("failed to create state directories: %w", err)
			}
			if err := pidfile.Acquire(pidPath); err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer func() {
				if err := pidfile.Release(pidPath); err != nil {
					logger.Errorf("Failed to release pidfile: %v", err)
				}
			}()

			cfg, err := config.LoadDefault()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			jnl, err := journal.Open(logger, paths.JournalPath())
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer jnl.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			eng := newEngineRunner(logger, jnl)
			if err := eng.start(ctx, cfg); err != nil {
				return fmt.Errorf("failed to start engine: %w", err)
			}
			defer eng.stop()

			srv := server.New(logger)
			srv.SetSupervisor(eng.supervisor())
			srv.SetJournal(jnl)
			srv.SetRunningConfig(eng.runningConfig())

			// Config changes restart the engine in place; the server keeps
			// serving the supervisor through the engine indirection.
			watcher, err := config.NewWatcher(logger, 0, func(next *config.Config) {
				if err := eng.restart(ctx, next); err != nil {
					logger.WithError(err).Error("Engine restart after config reload failed")
					return
				}
				srv.SetSupervisor(eng.supervisor())
				srv.SetRunningConfig(eng.runningConfig())
			})
			if err != nil {
				logger.WithError(err).Warn("Config watching disabled")
			} else {
				go watcher.Start(ctx)
				defer watcher.Close()
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-stop
				logger.Info("Received stop signal")
				cancel()

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Errorf("Server shutdown error: %v", err)
				}
				eng.stop()
				_ = pidfile.Release(pidPath)
				os.Exit(0)
			}()

			logger.WithField("pid", os.Getpid()).Info("Starting daemon")
			if err := srv.ListenAndServe(sockPath); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath := paths.PidFilePath()

			running, pid, err := pidfile.IsRunning(pidPath)
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}
			if !running {
				fmt.Println("Daemon is not running")
				return nil
			}

			process, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("failed to find process %d: %w", pid, err)
			}
			if err := process.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to send stop signal: %w", err)
			}

			fmt.Printf("Sent SIGTERM to process %d\n", pid)
			return nil
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath := paths.PidFilePath()
			running, pid, err := pidfile.IsRunning(pidPath)
			if err != nil {
				return fmt.Errorf("error: %w", err)
			}

			if running {
				fmt.Printf("Running (PID: %d)\nSocket: %s\n", pid, paths.SocketPath())
			} else {
				fmt.Println("Stopped")
				os.Exit(1) // Non-zero for stopped state (useful for scripts)
			}
			return nil
		},
	}
}

// engineRunner owns the supervisor and the journal subscription, and knows
// how to rebuild both when the config changes.
type engineRunner struct {
	logger *logrus.Entry
	jnl    *journal.Journal

	mu      sync.Mutex
	sup     *tracker.Supervisor
	cfg     *config.Config
	started time.Time
	recCtx  context.CancelFunc
}

func newEngineRunner(logger *logrus.Entry, jnl *journal.Journal) *engineRunner {
	return &engineRunner{logger: logger, jnl: jnl}
}

func (e *engineRunner) start(ctx context.Context, cfg *config.Config) error {
	settings := settingsFromConfig(cfg)
	runner := remote.NewRunner(e.logger, settings.ConnectTimeout, settings.CommandTimeout)
	sup, err := tracker.New(e.logger, settings, runner, nodesFromConfig(cfg), cfg.Tracker.Ignore, cfg.Tracker.LaunchCommand)
	if err != nil {
		return err
	}
	sup.Start(ctx)

	recCtx, recCancel := context.WithCancel(ctx)
	events := sup.Subscribe()
	go func() {
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				e.jnl.Record(ev)
			case <-recCtx.Done():
				return
			}
		}
	}()

	e.mu.Lock()
	e.sup = sup
	e.cfg = cfg
	e.started = time.Now()
	e.recCtx = recCancel
	e.mu.Unlock()
	return nil
}

func (e *engineRunner) restart(ctx context.Context, cfg *config.Config) error {
	e.stop()
	e.logger.Info("Restarting engine with reloaded config")
	return e.start(ctx, cfg)
}

func (e *engineRunner) stop() {
	e.mu.Lock()
	sup := e.sup
	recCancel := e.recCtx
	e.sup = nil
	e.recCtx = nil
	e.mu.Unlock()

	if recCancel != nil {
		recCancel()
	}
	if sup != nil {
		sup.Stop()
	}
}

func (e *engineRunner) supervisor() *tracker.Supervisor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sup
}

func (e *engineRunner) runningConfig() *server.RunningConfig {
	e.mu.Lock()
	defer e.mu.Unlock()

	settings := settingsFromConfig(e.cfg)
	nodes := make([]string, 0)
	for _, n := range e.cfg.EffectiveNodes() {
		nodes = append(nodes, n.Name)
	}
	return &server.RunningConfig{
		ScanInterval: settings.ScanInterval,
		PollInterval: settings.PollInterval,
		ReapAfter:    settings.ReapAfter,
		Nodes:        nodes,
		StartedAt:    e.started,
	}
}

// settingsFromConfig overlays configured durations on the defaults.
// Unparseable values are treated as unset.
func settingsFromConfig(cfg *config.Config) tracker.Settings {
	settings := tracker.DefaultSettings()
	overlay := func(dst *time.Duration, raw string) {
		if raw == "" {
			return
		}
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			*dst = d
		}
	}
	overlay(&settings.ScanInterval, cfg.Tracker.ScanInterval)
	overlay(&settings.PollInterval, cfg.Tracker.PollInterval)
	overlay(&settings.ActivityWindow, cfg.Tracker.ActivityWindow)
	overlay(&settings.ReapAfter, cfg.Tracker.ReapAfter)
	overlay(&settings.ConnectTimeout, cfg.Tracker.ConnectTimeout)
	overlay(&settings.CommandTimeout, cfg.Tracker.CommandTimeout)
	return settings
}

func nodesFromConfig(cfg *config.Config) []tracker.Node {
	configured := cfg.EffectiveNodes()
	nodes := make([]tracker.Node, 0, len(configured))
	for _, n := range configured {
		nodes = append(nodes, tracker.Node{
			Name:         n.Name,
			Address:      n.Address,
			Local:        n.Local,
			SessionsRoot: n.SessionsRoot,
		})
	}
	return nodes
}
