// Package server builds the application from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/api"
	"github.com/JakeFAU/pagewatch/internal/changemonitor"
	"github.com/JakeFAU/pagewatch/internal/clock/system"
	"github.com/JakeFAU/pagewatch/internal/config"
	"github.com/JakeFAU/pagewatch/internal/detector"
	"github.com/JakeFAU/pagewatch/internal/diff"
	"github.com/JakeFAU/pagewatch/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/pagewatch/internal/fetcher/colly"
	"github.com/JakeFAU/pagewatch/internal/fetcher/extract"
	"github.com/JakeFAU/pagewatch/internal/fetcher/promote"
	headlessfetcher "github.com/JakeFAU/pagewatch/internal/fetcher/headless"
	"github.com/JakeFAU/pagewatch/internal/hash/sha256"
	"github.com/JakeFAU/pagewatch/internal/id/uuid"
	"github.com/JakeFAU/pagewatch/internal/jobmonitor"
	"github.com/JakeFAU/pagewatch/internal/jobservice/httpapi"
	"github.com/JakeFAU/pagewatch/internal/jobservice/local"
	"github.com/JakeFAU/pagewatch/internal/policy/hostblock"
	"github.com/JakeFAU/pagewatch/internal/policy/ratelimit"
	"github.com/JakeFAU/pagewatch/internal/progress"
	progresssinks "github.com/JakeFAU/pagewatch/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/pagewatch/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/pagewatch/internal/queue/memory"
	"github.com/JakeFAU/pagewatch/internal/registry"
	"github.com/JakeFAU/pagewatch/internal/storage"
	gcsstorage "github.com/JakeFAU/pagewatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/pagewatch/internal/storage/local"
	memoryStorage "github.com/JakeFAU/pagewatch/internal/storage/memory"
	pgstore "github.com/JakeFAU/pagewatch/internal/storage/postgres"
	redisstore "github.com/JakeFAU/pagewatch/internal/storage/redis"
	"github.com/JakeFAU/pagewatch/internal/telemetry"
	"github.com/JakeFAU/pagewatch/internal/tracker"
	"github.com/JakeFAU/pagewatch/internal/worker"
)

// Version is reported in trace resources.
var Version = "dev"

// Options adjusts Build for embedding and tests.
type Options struct {
	// Registerer receives the event metrics; defaults to the global registry.
	Registerer prometheus.Registerer
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	// Monitor is the change monitor over every tracked target.
	Monitor *changemonitor.Monitor
	// Jobs watches jobs for the CLI and honours jobs.show_progress_bar.
	Jobs *jobmonitor.Monitor
	// JobService is the configured job backend.
	JobService tracker.JobService

	apiJobs       *jobmonitor.Monitor
	headless      *headlessfetcher.Fetcher
	queue         *queueMemory.Queue
	dispatch      *dispatcher.Dispatcher
	progressHub   *progress.Hub
	publisher     *gcppublisher.Publisher
	gcsClient     *gcs.Client
	pgProvider    *pgstore.Provider
	redisProvider *redisstore.Provider

	tracerShutdown func(context.Context) error

	startOnce   sync.Once
	closeOnce   sync.Once
	stopWorkers context.CancelFunc
	workersDone chan struct{}
}

// Build creates the application's dependencies and restores tracked targets.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("fetcher_backend", cfg.Fetcher.Backend),
		zap.String("jobs_backend", cfg.Jobs.Backend),
	)

	if err := app.setupTracing(ctx); err != nil {
		return nil, err
	}
	clock := system.New()

	provider, err := app.setupStorage(ctx)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err := app.setupPublisher(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	emitter, err := app.setupProgress(ctx, opts.Registerer)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	fetcher, err := app.setupFetcher()
	if err != nil {
		app.Close(ctx)
		return nil, err
	}

	reg := registry.New(storage.NewStore(provider, logger.Named("store")), logger.Named("registry"))
	restored, err := reg.LoadAll(ctx)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("restore targets: %w", err)
	}
	logger.Info("tracked targets restored", zap.Int("count", restored))

	detect := detector.New(
		sha256.New(),
		clock,
		diff.New(diff.Config{LineBased: true}),
		detector.Config{DiffEnabled: cfg.Monitor.DiffEnabled, PreviewChars: cfg.Monitor.PreviewChars},
		logger.Named("detector"),
	)
	app.Monitor = changemonitor.New(
		reg,
		fetcher,
		detect,
		clock,
		clock,
		app.changeHandler(),
		emitter,
		changemonitor.Config{
			DefaultInterval: cfg.Monitor.DefaultInterval,
			CycleInterval:   cfg.Monitor.CycleInterval,
		},
		logger.Named("changemonitor"),
	)

	if err := app.setupJobService(fetcher, clock); err != nil {
		app.Close(ctx)
		return nil, err
	}
	jobsCfg := jobmonitor.Config{
		PollInterval:    cfg.Jobs.PollInterval,
		ShowProgressBar: cfg.Jobs.ShowProgressBar,
	}
	app.Jobs = jobmonitor.New(app.JobService, clock, clock, emitter, jobsCfg, logger.Named("jobmonitor"))
	jobsCfg.ShowProgressBar = false
	app.apiJobs = jobmonitor.New(app.JobService, clock, clock, emitter, jobsCfg, logger.Named("jobmonitor"))

	return app, nil
}

// Start launches the local job workers. It is a no-op for the http job
// backend and safe to call more than once.
func (a *App) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		if a.dispatch == nil {
			return
		}
		workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.stopWorkers = cancel
		a.workersDone = make(chan struct{})
		go func() {
			defer close(a.workersDone)
			a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Jobs.Concurrency))
			a.dispatch.Run(workerCtx)
		}()
	})
}

// Run serves the HTTP API, runs the continuous monitor when configured, and
// blocks until the context is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)

	apiServer := api.NewServer(
		ctx,
		a.Monitor,
		a.apiJobs,
		a.JobService,
		system.New(),
		api.Config{
			AuthEnabled:     a.cfg.Auth.Enabled,
			APIKey:          a.cfg.Auth.APIKey,
			DefaultInterval: a.cfg.Monitor.DefaultInterval,
			ResultCacheSize: a.cfg.Jobs.ResultCacheSize,
			ResultTTL:       a.cfg.Jobs.ResultTTL,
		},
		a.logger,
	)

	var background sync.WaitGroup
	if a.cfg.Monitor.RunOnServe {
		background.Add(1)
		go func() {
			defer background.Done()
			report, err := a.Monitor.MonitorContinuously(ctx, a.cfg.Monitor.CycleInterval, tracker.Unbounded())
			if err != nil {
				a.logger.Error("continuous monitor failed", zap.Error(err))
			}
			a.logger.Info("continuous monitor stopped",
				zap.Int("cycles", report.Cycles),
				zap.Int("changes", report.Changes),
			)
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	apiServer.Wait()
	background.Wait()

	a.Close(shutdownCtx)
	return nil
}

// Close gracefully shuts down the application. Calls after the first are no-ops.
func (a *App) Close(ctx context.Context) {
	a.closeOnce.Do(func() {
		a.closeWorkers()
		a.closeInfrastructure(ctx)
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
	})
}

func (a *App) closeWorkers() {
	if a.stopWorkers != nil {
		a.stopWorkers()
		<-a.workersDone
	}
	if a.queue != nil {
		a.queue.Close()
	}
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Stop(); err != nil {
			a.logger.Warn("pubsub publisher stop failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgProvider != nil {
		a.pgProvider.Close()
	}
	if a.redisProvider != nil {
		if err := a.redisProvider.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

func (a *App) setupTracing(ctx context.Context) error {
	if !a.cfg.Telemetry.Enabled {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: a.cfg.Telemetry.ServiceName,
		Version:     Version,
		SampleRatio: a.cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown
	return nil
}

func (a *App) setupStorage(ctx context.Context) (storage.Provider, error) {
	cfg := a.cfg.Storage
	switch cfg.Backend {
	case config.StorageGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", cfg.GCS.Bucket))
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		provider, err := gcsstorage.New(client, cfg.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs record store init failed: %w", err)
		}
		return provider, nil
	case config.StoragePostgres:
		a.logger.Info("using postgres storage backend", zap.String("table", cfg.Postgres.Table))
		provider, err := pgstore.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres record store init failed: %w", err)
		}
		a.pgProvider = provider
		return provider, nil
	case config.StorageRedis:
		a.logger.Info("using redis storage backend", zap.String("addr", cfg.Redis.Addr))
		provider, err := redisstore.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis record store init failed: %w", err)
		}
		a.redisProvider = provider
		return provider, nil
	case config.StorageMemory:
		a.logger.Warn("using in-memory storage backend; tracked targets are not persisted")
		return memoryStorage.NewProvider(), nil
	default:
		a.logger.Info("using local storage backend", zap.String("path", cfg.Local.BaseDir))
		provider, err := localstorage.New(cfg.Local)
		if err != nil {
			return nil, fmt.Errorf("local record store init failed: %w", err)
		}
		return provider, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) error {
	ps := a.cfg.Events.PubSub
	if ps.Topic == "" || ps.ProjectID == "" {
		a.logger.Debug("no Pub/Sub topic configured, change events stay local")
		return nil
	}
	pub, err := gcppublisher.New(ctx, ps)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", ps.ProjectID),
		zap.String("topic", ps.Topic),
	)
	return nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) (progress.Emitter, error) {
	cfg := a.cfg.Events
	if !cfg.Enabled {
		a.logger.Info("event hub disabled")
		return nil, nil
	}
	var sinkList []progress.Sink
	if cfg.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("events")))
	}
	if cfg.MetricsEnabled {
		promSink, err := progresssinks.NewPrometheusSink(reg)
		if err != nil {
			return nil, fmt.Errorf("prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	if a.publisher != nil {
		sinkList = append(sinkList, progresssinks.NewPublisherSink(
			a.publisher,
			cfg.PubSub.Topic,
			[]progress.Stage{progress.StageJobDone, progress.StageJobError},
			a.logger.Named("events_publisher"),
		))
	}
	if len(sinkList) == 0 {
		a.logger.Warn("event hub enabled but no sinks configured")
		return nil, nil
	}
	hubCfg := progress.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.MaxBatchEvents,
		MaxBatchWait:   cfg.MaxBatchWait,
		BaseContext:    ctx,
		Logger:         a.logger.Named("event_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("event hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
	)
	return a.progressHub, nil
}

func (a *App) setupFetcher() (tracker.ContentFetcher, error) {
	cfg := a.cfg.Fetcher
	extractor := extract.New(cfg.Markdown)
	if cfg.Backend == config.FetcherHeadless || cfg.Backend == config.FetcherAuto {
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout,
			SettleDelay:       cfg.Headless.SettleDelay,
		}, extractor, a.logger.Named("headless"))
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.headless = headless
	}

	var base tracker.ContentFetcher
	switch cfg.Backend {
	case config.FetcherHeadless:
		base = a.headless
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	default:
		probe := collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.UserAgent,
			RespectRobots: cfg.RespectRobots,
			Timeout:       cfg.Timeout,
		}, extractor, a.logger.Named("colly"))
		if cfg.Backend == config.FetcherAuto {
			probe.WithPromotion(promote.NewHeuristic(cfg.Headless.PromoteThreshold), a.headless)
		}
		base = probe
		a.logger.Info("using colly fetcher",
			zap.String("user_agent", cfg.UserAgent),
			zap.Bool("headless_promotion", cfg.Backend == config.FetcherAuto),
		)
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimit.RPS,
		DefaultBurst: cfg.RateLimit.Burst,
	})
	return hostblock.NewFetcher(ratelimit.NewFetcher(base, limiter), hostblock.New(cfg.BlockedHosts)), nil
}

func (a *App) setupJobService(fetcher tracker.ContentFetcher, clock *system.Clock) error {
	cfg := a.cfg.Jobs
	if cfg.Backend == config.JobsHTTP {
		client, err := httpapi.New(httpapi.Config{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
			Formats: cfg.Formats,
		}, nil, clock, a.logger.Named("jobservice"))
		if err != nil {
			return fmt.Errorf("job service client init failed: %w", err)
		}
		a.JobService = client
		a.logger.Info("using remote job service", zap.String("base_url", cfg.BaseURL))
		return nil
	}

	jobStore := memoryStorage.NewJobStore()
	a.queue = queueMemory.NewQueue(cfg.QueueDepth)
	var publisher tracker.Publisher
	if a.publisher != nil {
		publisher = a.publisher
	}
	hasher := sha256.New()
	workers := make([]*worker.Worker, 0, cfg.Concurrency)
	for i := range cfg.Concurrency {
		workers = append(workers, worker.New(
			a.queue,
			jobStore,
			fetcher,
			publisher,
			hasher,
			clock,
			worker.Config{Topic: a.cfg.Events.PubSub.Topic},
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.dispatch = dispatcher.New(a.queue, workers)
	a.JobService = local.New(a.queue, jobStore, uuid.NewWithPrefix("job-"), clock, a.logger.Named("jobservice"))
	a.logger.Info("using local job service", zap.Int("workers", cfg.Concurrency))
	return nil
}

func (a *App) changeHandler() changemonitor.ChangeHandler {
	log := a.logger.Named("changes")
	handlers := changemonitor.Handlers{
		changemonitor.ChangeHandlerFunc(func(_ context.Context, change tracker.ChangeRecord) error {
			log.Info("content changed",
				zap.String("url", change.URL),
				zap.String("previous_hash", change.PreviousFingerprint),
				zap.String("current_hash", change.CurrentFingerprint),
				zap.Int("length_delta", change.LengthDelta),
			)
			return nil
		}),
	}
	if a.publisher != nil {
		handlers = append(handlers, changemonitor.PublishingHandler{
			Publisher: a.publisher,
			Topic:     a.cfg.Events.PubSub.Topic,
		})
	}
	return handlers
}
