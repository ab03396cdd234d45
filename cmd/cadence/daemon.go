package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fentz26/cadence/internal/activitylog"
	"github.com/fentz26/cadence/internal/audit"
	"github.com/fentz26/cadence/internal/config"
	"github.com/fentz26/cadence/internal/controlplane"
	"github.com/fentz26/cadence/internal/drive"
	"github.com/fentz26/cadence/internal/executor"
	"github.com/fentz26/cadence/internal/logging"
	"github.com/fentz26/cadence/internal/memory"
	"github.com/fentz26/cadence/internal/metrics"
	"github.com/fentz26/cadence/internal/models"
	"github.com/fentz26/cadence/internal/oracle"
	"github.com/fentz26/cadence/internal/schedule"
	"github.com/fentz26/cadence/internal/scheduler"
	"github.com/fentz26/cadence/internal/sources"
	"github.com/fentz26/cadence/internal/store"
	"github.com/fentz26/cadence/internal/taskstate"
	"github.com/fentz26/cadence/internal/tools"
)

const shutdownTimeout = 30 * time.Second

var (
	listenAddr string
	dataDir    string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the cadence daemon",
	Long:  `Starts the heartbeat scheduler and the HTTP control plane. Runs until interrupted.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for state files (overrides config)")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("listen") {
		cfg.Listen = listenAddr
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	return cfg, cfg.Validate()
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger, logCloser, err := logging.New(logging.Options{
		Level:    level,
		Terminal: os.Stderr,
		File:     cfg.DaemonLogPath(),
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()
	logger.Info("starting cadence daemon", "data_dir", cfg.DataDir, "version", controlplane.Version)

	st, err := store.New(cfg.DBPath())
	if err != nil {
		return err
	}
	defer st.Close()

	mem, err := memory.Open(cfg.MemoryDir())
	if err != nil {
		return err
	}

	activity, err := activitylog.Open(cfg.ActivityLogPath(), activitylog.Options{
		MaxBytes: cfg.ActivityLog.MaxBytes,
		Keep:     cfg.ActivityLog.Keep,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer activity.Close()

	registry, err := buildTools(cfg, mem)
	if err != nil {
		return err
	}

	var (
		model = drive.New(cfg.Drive)
		m     = metrics.New()
		hub   = controlplane.NewHub(logger)
		pdr   = audit.NewPDRWriter(st)
		orc   = oracle.NewOpenAI(cfg.Oracle, logger)
		jobs  = schedule.NewStore(cfg.SchedulesPath())
		state = taskstate.New(cfg.TaskStatePath(), logger)
	)

	agent := executor.New(cfg.Executor, executor.Deps{
		Oracle:   orc,
		Tools:    registry,
		Memory:   mem,
		Progress: st,
		Store:    executor.NewProgressStore(cfg.ProgressDir()),
		Logger:   logger,
	})

	// Sources that need the control plane are appended once it exists.
	srcs := sources.NewRegistry(
		sources.NewGoalSource(st, model),
		sources.NewCuriositySource(st),
		sources.NewLearningSource(st, cfg.Sources.LearningEvery),
	)

	sched := scheduler.New(&cfg.Scheduler, scheduler.Deps{
		Jobs:      jobs,
		Sources:   srcs,
		Executor:  agent,
		Oracle:    orc,
		TaskState: state,
		Log:       activity,
		Drive:     model,
		Notifier:  hub,
		Metrics:   m,
		Decisions: pdr,
		Logger:    logger,
	})

	service := controlplane.NewService(controlplane.Deps{
		Heartbeat:     sched,
		Jobs:          jobs,
		Store:         st,
		Log:           activity,
		TaskState:     state,
		Drive:         model,
		PDR:           pdr,
		Logger:        logger,
		SessionWindow: cfg.Sources.SessionWindow,
	})

	srcs.Add(sources.NewReflectionSource(service, cfg.Sources.ReflectionStartHour, cfg.Sources.ReflectionEndHour))
	srcs.Add(sources.NewSkillGapSource(cfg.Sources.SkillGapEvery))
	srcs.Add(sources.NewProactiveSource(&messenger{mem: mem, log: activity, hub: hub}, cfg.Sources.ProactiveEvery))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Initialize(ctx); err != nil {
		// a corrupt state file should not keep the daemon down
		logger.Warn("scheduler initialization incomplete", "error", err)
	}

	server := controlplane.NewServer(service, hub, m, cfg.Listen, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		sched.Start(gctx)
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		sched.Stop()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon stopped with error", "error", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func buildTools(cfg *config.Config, mem *memory.Store) (*tools.Registry, error) {
	workDir := cfg.Tools.ShellWorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		workDir = wd
	}
	return tools.NewRegistry(
		tools.NewWebFetch(&http.Client{Timeout: cfg.Tools.FetchTimeout}),
		tools.NewMemoryStore(mem),
		tools.NewMemoryRecall(mem),
		tools.NewShell(workDir, cfg.Tools.ShellAllowlist, cfg.Tools.ShellTimeout),
	)
}

// messenger delivers proactive messages by keeping them in long-term
// memory, the activity log and the live event stream.
type messenger struct {
	mem interface {
		Remember(ctx context.Context, content string, tags ...string) (string, error)
	}
	log interface{ Append(models.ActivityEntry) }
	hub interface{ Notify(models.Notification) }
	now func() time.Time
}

func (m *messenger) Send(ctx context.Context, text string) error {
	if text == "" {
		return errors.New("empty message")
	}
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	if _, err := m.mem.Remember(ctx, text, "message", "proactive"); err != nil {
		return fmt.Errorf("remember message: %w", err)
	}
	m.log.Append(models.ActivityEntry{
		TS:          now(),
		Source:      "messenger",
		Description: "message for the user",
		Status:      models.StatusSuccess,
		Output:      text,
	})
	m.hub.Notify(models.Notification{
		Source:      "messenger",
		Description: "message for the user",
		Output:      text,
		Status:      models.StatusSuccess,
	})
	return nil
}
