package schedule

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/mysqlops/mysqlbackup/pkg/backup"
	"github.com/mysqlops/mysqlbackup/pkg/backupjob"
	"github.com/mysqlops/mysqlbackup/pkg/config"
	"github.com/mysqlops/mysqlbackup/pkg/environment"
	"github.com/mysqlops/mysqlbackup/pkg/lock"
	"github.com/mysqlops/mysqlbackup/pkg/log"
	"github.com/mysqlops/mysqlbackup/pkg/metrics"
	"github.com/mysqlops/mysqlbackup/pkg/restorestatus"
	"github.com/mysqlops/mysqlbackup/pkg/router"
	"github.com/mysqlops/mysqlbackup/pkg/scheduler"
	"github.com/mysqlops/mysqlbackup/pkg/server"
	"github.com/mysqlops/mysqlbackup/pkg/topology"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	backupJob     = "backup"
	restoreAgeJob = "restore-age"
)

var (
	runOnStart        bool
	rateLimitRequests int
	rateLimitDuration time.Duration
	restoreAgeWorkers int
	compressLevel     int
	gracefulShutdown  time.Duration
)

func init() {
	RootCmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "Take a backup as soon as the scheduler starts.")
	RootCmd.Flags().IntVar(&rateLimitRequests, "rate-limit-requests", 0, "Number of requests to be used as rate limit.")
	RootCmd.Flags().DurationVar(&rateLimitDuration, "rate-limit-duration", 0, "Duration to be used as rate limit.")
	RootCmd.Flags().IntVar(&restoreAgeWorkers, "restore-age-concurrency", 8,
		"Number of replica sets whose restore age is checked concurrently.")
	RootCmd.Flags().IntVar(&compressLevel, "compress-level", 5, "HTTP compression level.")
	RootCmd.Flags().DurationVar(&gracefulShutdown, "graceful-shutdown-timeout", 5*time.Second,
		"Timeout to gracefully terminate in-flight HTTP requests.")
}

var RootCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Schedule.",
	Long:  `Takes backups periodically and exposes the health of the last runs and the pipeline metrics over HTTP.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := log.SetupLoggerWithCommand(cmd); err != nil {
			fmt.Printf("error setting up logger: %v\n", err)
			os.Exit(1)
		}
		logger := log.Log.WithName("schedule")

		ctx, cancel := newContext()
		defer cancel()

		cfg, err := config.LoadWithCommand(cmd)
		if err != nil {
			logger.Error(err, "error loading config")
			os.Exit(1)
		}
		env, err := environment.GetEnv(ctx)
		if err != nil {
			logger.Error(err, "error getting environment")
			os.Exit(1)
		}
		kind, err := backup.ParseKind(cfg.Schedule.Kind)
		if err != nil {
			logger.Error(err, "invalid backup kind")
			os.Exit(1)
		}
		instance, err := topology.ParseInstance(cfg.Schedule.Instance)
		if err != nil {
			logger.Error(err, "invalid instance")
			os.Exit(1)
		}

		recorder := metrics.NewRecorder()
		components, err := config.NewComponents(cfg, env, logger, recorder)
		if err != nil {
			logger.Error(err, "error building components")
			os.Exit(1)
		}
		backuper, err := components.Backuper()
		if err != nil {
			logger.Error(err, "error building backuper")
			os.Exit(1)
		}

		sched := scheduler.NewScheduler(logger)
		if err := sched.AddJob(backupJob, cfg.Schedule.Cron,
			backupFunc(backuper, kind, instance, cfg.LockFile, logger)); err != nil {
			logger.Error(err, "error scheduling backups")
			os.Exit(1)
		}
		if cfg.Schedule.RestoreAgeCron != "" {
			tracker, err := components.Tracker()
			if err != nil {
				logger.Error(err, "error building restore tracker")
				os.Exit(1)
			}
			t, err := components.Topology()
			if err != nil {
				logger.Error(err, "error loading topology")
				os.Exit(1)
			}
			if err := sched.AddJob(restoreAgeJob, cfg.Schedule.RestoreAgeCron,
				restoreAgeFunc(tracker, t.Names(), recorder)); err != nil {
				logger.Error(err, "error scheduling restore age checks")
				os.Exit(1)
			}
		}

		handler := router.NewRouter(sched, recorder.Handler(), logger,
			router.WithCompressLevel(compressLevel),
			router.WithRateLimit(rateLimitRequests, rateLimitDuration),
			router.WithBasicAuth(env.HTTPBasicAuth(), env.HTTPUser, env.HTTPPassword),
		)
		srv, err := server.NewServer(cfg.Schedule.Addr, handler, logger,
			server.WithGracefulShutdownTimeout(gracefulShutdown),
			server.WithTLSEnabled(cfg.Schedule.TLSCertPath != ""),
			server.WithTLSCertPath(cfg.Schedule.TLSCertPath),
			server.WithTLSKeyPath(cfg.Schedule.TLSKeyPath),
			server.WithTLSCAPath(cfg.Schedule.TLSCAPath),
		)
		if err != nil {
			logger.Error(err, "error creating server")
			os.Exit(1)
		}

		if runOnStart {
			if err := sched.RunNow(ctx, backupJob); err != nil {
				logger.Error(err, "error taking initial backup")
			}
		}

		g, gCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Start(gCtx)
		})
		g.Go(func() error {
			sched.Start(gCtx)
			return nil
		})
		if err := g.Wait(); err != nil {
			logger.Error(err, "scheduler exited with error")
			os.Exit(1)
		}
	},
}

func backupFunc(backuper *backupjob.Backuper, kind backup.Kind, instance topology.Instance, lockPath string,
	logger logr.Logger) scheduler.JobFunc {
	return func(ctx context.Context) error {
		l, err := lock.Acquire(lockPath)
		if err != nil {
			return fmt.Errorf("error acquiring lock: %w", err)
		}
		defer func() {
			if err := l.Release(); err != nil {
				logger.Error(err, "error releasing lock", "path", lockPath)
			}
		}()

		key, err := backuper.Backup(ctx, kind, instance, time.Now(), false)
		if err != nil {
			return err
		}
		logger.Info("Backup uploaded", "key", key)
		return nil
	}
}

func restoreAgeFunc(tracker *restorestatus.Tracker, replicaSets []string, recorder *metrics.Recorder) scheduler.JobFunc {
	return func(ctx context.Context) error {
		ages, err := tracker.Ages(ctx, replicaSets, restoreAgeWorkers)
		if err != nil {
			return err
		}
		for _, age := range ages {
			recorder.SetRestoreAge(age)
		}
		return nil
	}
}

func newContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), []os.Signal{
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGKILL,
		syscall.SIGHUP,
		syscall.SIGQUIT}...,
	)
}
