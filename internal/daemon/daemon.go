package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"sftpmirror/internal/run"
	cfgpkg "sftpmirror/pkg/config"
	"sftpmirror/pkg/handler"
	httpHandler "sftpmirror/pkg/http"
	"sftpmirror/pkg/logger"
	"sftpmirror/pkg/mirror"
	"sftpmirror/pkg/publisher"
	"sftpmirror/pkg/state"
	"sftpmirror/pkg/task"
)

const shutdownTimeout = 30 * time.Second

type DaemonService struct {
	server        *asynq.Server
	scheduler     *asynq.Scheduler
	httpServer    *http.Server
	mirrorHandler *handler.MirrorHandler
	publisher     *publisher.Publisher
	redisClient   *redis.Client
	config        *cfgpkg.Config
	logger        *logger.Logger
}

func NewDaemonService(config *cfgpkg.Config, runOpts run.Options) (*DaemonService, error) {
	log := logger.Default()
	redisOpt := publisher.RedisOpt(&config.Redis)

	server := asynq.NewServer(redisOpt, asynq.Config{
		// one run at a time, the redis lock also covers other daemons
		Concurrency: 1,
		Queues: map[string]int{
			"default": 1,
		},
		Logger:   asynqLogger{log},
		LogLevel: asynq.WarnLevel,
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Logger:   asynqLogger{log},
		LogLevel: asynq.WarnLevel,
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			switch {
			case errors.Is(err, asynq.ErrDuplicateTask):
				log.Warn("scheduled run skipped, the previous one is still queued or running", nil)
			case err != nil:
				log.Error("failed to enqueue scheduled run", err, nil)
			}
		},
	})

	scheduled, err := publisher.NewMirrorRunTask(task.TriggerSchedule)
	if err != nil {
		return nil, fmt.Errorf("create scheduled task: %w", err)
	}
	if _, err := scheduler.Register(config.Daemon.Schedule, scheduled, publisher.TaskOptions(&config.Daemon)...); err != nil {
		return nil, fmt.Errorf("register schedule %q: %w", config.Daemon.Schedule, err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})
	store := state.NewStore(redisClient, time.Duration(config.Daemon.LockTTLMinutes)*time.Minute)

	execute := func(ctx context.Context, cfg *cfgpkg.Config) (*mirror.Summary, error) {
		return run.Execute(ctx, cfg, runOpts)
	}
	mirrorHandler := handler.NewMirrorHandler(config, store, execute, log)

	pub, err := publisher.NewPublisher(config)
	if err != nil {
		return nil, fmt.Errorf("create publisher: %w", err)
	}

	httpServer := &http.Server{
		Addr:              config.Daemon.HTTPAddr,
		Handler:           httpHandler.NewHTTPHandler(pub, store, log).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &DaemonService{
		server:        server,
		scheduler:     scheduler,
		httpServer:    httpServer,
		mirrorHandler: mirrorHandler,
		publisher:     pub,
		redisClient:   redisClient,
		config:        config,
		logger:        log,
	}, nil
}

// Run serves until ctx is cancelled or one of the components fails, then
// shuts everything down.
func (d *DaemonService) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.logger.Info("starting HTTP server", map[string]any{
			"addr": d.config.Daemon.HTTPAddr,
		})
		if err := d.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		d.logger.Info("starting Asynq server", nil)
		mux := asynq.NewServeMux()
		mux.HandleFunc(task.TaskTypeMirrorRun, d.mirrorHandler.ProcessTask)
		if err := d.server.Start(mux); err != nil {
			return fmt.Errorf("asynq server: %w", err)
		}
		<-ctx.Done()
		d.server.Shutdown()
		return nil
	})

	g.Go(func() error {
		d.logger.Info("starting scheduler", map[string]any{
			"schedule": d.config.Daemon.Schedule,
		})
		if err := d.scheduler.Start(); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		<-ctx.Done()
		d.scheduler.Shutdown()
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		d.logger.Info("initiating graceful shutdown", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("HTTP server shutdown failed", err, nil)
		}
		return nil
	})

	err := g.Wait()
	d.publisher.Close()
	_ = d.redisClient.Close()
	return err
}

// asynqLogger routes asynq's own messages into the structured logger.
type asynqLogger struct {
	l *logger.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...), nil) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...), nil) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...), nil) }
func (a asynqLogger) Error(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...), nil, nil)
}
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal(fmt.Sprint(args...), nil) }
