package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/tideline/internal/actor"
	"github.com/wesleyorama2/tideline/internal/config"
	"github.com/wesleyorama2/tideline/internal/logging"
	"github.com/wesleyorama2/tideline/internal/metrics"
	"github.com/wesleyorama2/tideline/internal/output"
	"github.com/wesleyorama2/tideline/internal/rate"
	"github.com/wesleyorama2/tideline/internal/scheduler"
	"github.com/wesleyorama2/tideline/internal/workload"
)

const metricsShutdownTimeout = 5 * time.Second

// runReport is the --json form of a finished run.
type runReport struct {
	RunID        string            `json:"runId"`
	Name         string            `json:"name"`
	State        string            `json:"state"`
	CancelReason string            `json:"cancelReason,omitempty"`
	StartTime    time.Time         `json:"startTime"`
	EndTime      time.Time         `json:"endTime"`
	Elapsed      string            `json:"elapsed"`
	Ticks        int64             `json:"ticks"`
	Spawned      int               `json:"spawned"`
	Retired      int               `json:"retired"`
	ForceStopped int               `json:"forceStopped"`
	DriftEvents  int               `json:"driftEvents"`
	SpawnErrors  int               `json:"spawnErrors"`
	Lost         int               `json:"lostActors"`
	Metrics      *metrics.Snapshot `json:"metrics"`
	RateLimit    *rate.Stats       `json:"rateLimit,omitempty"`
}

func newRunCmd() *cobra.Command {
	var (
		flags    profileFlags
		jsonMode bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load profile",
		Long: `Run drives a pool of actors through the profile's stages. On every tick
the scheduler compares the live actor count with the timeline's target and
spawns or retires actors to match. SIGINT or SIGTERM cancels the run; live
actors are drained before exiting.

Profile file:
  tideline run -c profile.yaml

Inline stages against a URL:
  tideline run --url https://api.example.com/health \
    --stages "ramp:30s:10,step:2m:10,ramp:30s:0"

Exit codes: 0 completed, 1 cancelled or failed, 2 invalid profile.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfile(cmd, &flags, jsonMode)
		},
	}

	flags.registerSource(cmd)
	flags.registerRun(cmd)
	cmd.Flags().BoolVar(&jsonMode, "json", false, "Print the result as JSON instead of progress and summary")
	return cmd
}

func runProfile(cmd *cobra.Command, flags *profileFlags, jsonMode bool) error {
	cfg, err := flags.load(cmd)
	if err != nil {
		return configError(err)
	}
	tl, err := buildTimeline(cfg)
	if err != nil {
		return configError(err)
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return configError(err)
	}
	defer func() { _ = logger.Sync() }()

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	engine := metrics.NewEngine()
	exporter := metrics.NewExporter(engine)

	pool := actor.NewPool(buildWorkload(cfg, engine), poolOptions(cfg, engine, logger))
	defer pool.Close()

	mode, err := output.ParseMode(cfg.Output.Progress)
	if err != nil {
		return configError(err)
	}
	console := output.NewConsole(output.ConsoleConfig{
		Name:           cfg.Name,
		Mode:           mode,
		ManualTicks:    cfg.Output.ManualTicks,
		UpdateInterval: cfg.Output.UpdateInterval.Std(),
		Writer:         cmd.OutOrStdout(),
		NoColor:        cfg.Output.NoColor,
		Stages:         tl.Len(),
	})

	observers := scheduler.Observers{exporter}
	if !jsonMode {
		observers = append(observers, console)
	}

	sched, err := scheduler.New(tl, pool, scheduler.Options{
		TickInterval:   cfg.Scheduler.TickInterval.Std(),
		GracefulStop:   cfg.Scheduler.GracefulStop.Std(),
		ForceStopWait:  cfg.Scheduler.ForceStopWait.Std(),
		DriftThreshold: cfg.Scheduler.DriftThreshold.Std(),
		MaxDuration:    cfg.Scheduler.MaxDuration.Std(),
		Logger:         logger,
		Observer:       observers,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !jsonMode {
		console.PrintHeader(tl)
	}
	logger.Info("starting run",
		zap.String("name", cfg.Name),
		zap.Int("stages", tl.Len()),
		zap.Duration("total", tl.TotalDuration()),
		zap.String("workload", cfg.Workload.Type))

	res, err := supervise(ctx, sched, exporter, cfg.Metrics, logger)
	if err != nil {
		return err
	}

	snap := engine.Snapshot()
	var limit *rate.Stats
	if l := pool.Limiter(); l != nil {
		st := l.Stats()
		limit = &st
		logger.Debug("rate limiter", zap.Float64("rate", st.Rate), zap.Int64("reserved", st.Reserved), zap.Duration("waited", st.TotalWaitTime))
	}

	if jsonMode {
		if err := writeRunReport(cmd, runID, cfg.Name, res, snap, limit); err != nil {
			return err
		}
	} else {
		console.PrintSummary(res, snap)
		if limit != nil {
			console.PrintRateLimit(*limit)
		}
	}

	if res.State != scheduler.StateCompleted {
		return &exitError{code: ExitFailure}
	}
	return nil
}

// supervise runs the scheduler and, when configured, the metrics endpoint.
// A metrics server failure cancels the run.
func supervise(ctx context.Context, sched *scheduler.Scheduler, exporter *metrics.Exporter, mc config.MetricsConfig, logger *zap.Logger) (*scheduler.Result, error) {
	g, gctx := errgroup.WithContext(ctx)

	var res *scheduler.Result
	runDone := make(chan struct{})

	g.Go(func() error {
		defer close(runDone)
		r, err := sched.Run(gctx)
		res = r
		return err
	})

	if mc.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle(mc.Path, exporter.Handler())
		srv := &http.Server{
			Addr:              mc.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("metrics endpoint listening", zap.String("addr", mc.Listen), zap.String("path", mc.Path))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-runDone:
			case <-gctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

func writeRunReport(cmd *cobra.Command, runID, name string, res *scheduler.Result, snap *metrics.Snapshot, limit *rate.Stats) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(runReport{
		RunID:        runID,
		Name:         name,
		State:        res.State.String(),
		CancelReason: res.CancelReason,
		StartTime:    res.StartTime,
		EndTime:      res.EndTime,
		Elapsed:      res.Elapsed.String(),
		Ticks:        res.Ticks,
		Spawned:      res.Spawned,
		Retired:      res.Retired,
		ForceStopped: res.ForceStopped,
		DriftEvents:  res.DriftEvents,
		SpawnErrors:  res.SpawnErrors,
		Lost:         res.Lost,
		Metrics:      snap,
		RateLimit:    limit,
	})
}

func buildWorkload(cfg *config.Config, engine *metrics.Engine) workload.Workload {
	wc := cfg.Workload
	if wc.Type != config.WorkloadHTTP {
		return workload.Idle{Think: wc.Think.Std()}
	}

	opts := workload.DefaultClientOptions()
	opts.Timeout = wc.Timeout.Std()
	if wc.MaxActors > 0 {
		opts.MaxConnsPerHost = wc.MaxActors
	}

	reqs := make([]workload.Request, 0, len(wc.Requests))
	for _, rc := range wc.Requests {
		req := workload.Request{
			Name:      rc.Name,
			Method:    rc.Method,
			URL:       rc.URL,
			Headers:   rc.Headers,
			Body:      rc.Body,
			Timeout:   rc.Timeout.Std(),
			ThinkTime: rc.ThinkTime.Std(),
		}
		for _, ex := range rc.Extract {
			req.Extract = append(req.Extract, workload.Extract{Name: ex.Name, Source: ex.Source, Path: ex.Path})
		}
		reqs = append(reqs, req)
	}

	return &workload.HTTP{
		Client:    workload.NewClient(opts),
		BaseURL:   wc.BaseURL,
		Variables: wc.Variables,
		Requests:  reqs,
		Metrics:   engine,
	}
}

func poolOptions(cfg *config.Config, engine *metrics.Engine, logger *zap.Logger) actor.Options {
	wc := cfg.Workload
	opts := actor.Options{
		IterationTimeout: wc.IterationTimeout.Std(),
		MaxIterationRate: wc.MaxIterationRate,
		MaxActors:        wc.MaxActors,
		Metrics:          engine,
		Logger:           logger,
	}
	if p := wc.Pacing; p != nil {
		opts.Pacing = actor.Pacing{
			Type:     actor.PacingType(p.Type),
			Duration: p.Duration.Std(),
			Min:      p.Min.Std(),
			Max:      p.Max.Std(),
		}
	}
	return opts
}
