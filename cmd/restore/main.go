package restore

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mysqlops/mysqlbackup/pkg/backupjob"
	"github.com/mysqlops/mysqlbackup/pkg/config"
	"github.com/mysqlops/mysqlbackup/pkg/environment"
	"github.com/mysqlops/mysqlbackup/pkg/lock"
	"github.com/mysqlops/mysqlbackup/pkg/log"
	"github.com/mysqlops/mysqlbackup/pkg/metrics"
	mbtime "github.com/mysqlops/mysqlbackup/pkg/time"
	"github.com/mysqlops/mysqlbackup/pkg/topology"
	"github.com/spf13/cobra"
)

var (
	sourceRaw        string
	destinationRaw   string
	dateRaw          string
	targetTimeRaw    string
	dataDir          string
	test             bool
	startReplication bool
	metricsTextfile  string
)

func init() {
	RootCmd.Flags().StringVar(&sourceRaw, "source", "", "Instance the backup was taken from, in host:port format.")
	RootCmd.Flags().StringVar(&destinationRaw, "destination", "localhost:3306", "Instance being restored, in host:port format.")
	RootCmd.Flags().StringVar(&dateRaw, "date", "", "Date (YYYY-MM-DD) of the backup to restore. Defaults to today.")
	RootCmd.Flags().StringVar(&targetTimeRaw, "target-time", "",
		"RFC3339 (1970-01-01T00:00:00Z) date and time. The backup of the date closest to it is restored.")
	RootCmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory the backup is restored into. Defaults to the configured one.")
	RootCmd.Flags().BoolVar(&test, "test", false, "Record the restore as a test restore.")
	RootCmd.Flags().BoolVar(&startReplication, "start-replication", false,
		"Start the restored instance and replicate from the primary of the source replica set.")
	RootCmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "",
		"Path of a node exporter textfile where the pipeline metrics are written.")

	_ = RootCmd.MarkFlagRequired("source")
}

var RootCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore.",
	Long:  `Locates the physical backup of an instance, restores it into a data directory and optionally starts replication.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := log.SetupLoggerWithCommand(cmd); err != nil {
			fmt.Printf("error setting up logger: %v\n", err)
			os.Exit(1)
		}
		logger := log.Log.WithName("restore")

		ctx, cancel := newContext()
		defer cancel()

		req, err := getRestoreRequest()
		if err != nil {
			logger.Error(err, "invalid restore request")
			os.Exit(1)
		}
		cfg, err := config.LoadWithCommand(cmd)
		if err != nil {
			logger.Error(err, "error loading config")
			os.Exit(1)
		}
		if req.DataDir == "" {
			req.DataDir = cfg.Restore.DataDir
		}
		env, err := environment.GetEnv(ctx)
		if err != nil {
			logger.Error(err, "error getting environment")
			os.Exit(1)
		}

		l, err := lock.Acquire(cfg.LockFile)
		if err != nil {
			logger.Error(err, "error acquiring lock", "path", cfg.LockFile)
			os.Exit(1)
		}
		defer l.Release()

		recorder := metrics.NewRecorder()
		components, err := config.NewComponents(cfg, env, logger, recorder)
		if err != nil {
			logger.Error(err, "error building components")
			os.Exit(1)
		}
		restorer, err := components.Restorer()
		if err != nil {
			logger.Error(err, "error building restorer")
			os.Exit(1)
		}

		logger.Info("starting restore", "source", req.Source.String(), "destination", req.Destination.String(),
			"date", mbtime.FormatDate(req.Date), "data-dir", req.DataDir)
		result, restoreErr := restorer.Restore(ctx, req)

		if metricsTextfile != "" {
			if err := recorder.WriteToTextfile(metricsTextfile); err != nil {
				logger.Error(err, "error writing metrics", "path", metricsTextfile)
			}
		}
		if restoreErr != nil {
			logger.Error(restoreErr, "error restoring backup")
			l.Release()
			os.Exit(1)
		}
		logger.Info("restore completed", "object", result.Object.String(), "coordinate", result.Coordinate.String())
		fmt.Println(result.Coordinate.String())
	},
}

func getRestoreRequest() (backupjob.RestoreRequest, error) {
	source, err := topology.ParseInstance(sourceRaw)
	if err != nil {
		return backupjob.RestoreRequest{}, fmt.Errorf("error parsing source: %v", err)
	}
	destination, err := topology.ParseInstance(destinationRaw)
	if err != nil {
		return backupjob.RestoreRequest{}, fmt.Errorf("error parsing destination: %v", err)
	}
	req := backupjob.RestoreRequest{
		Source:           source,
		Destination:      destination,
		Date:             time.Now(),
		DataDir:          dataDir,
		Test:             test,
		StartReplication: startReplication,
	}
	if dateRaw != "" {
		date, err := mbtime.ParseDate(dateRaw)
		if err != nil {
			return backupjob.RestoreRequest{}, err
		}
		req.Date = date
	}
	if targetTimeRaw != "" {
		targetTime, err := time.Parse(time.RFC3339, targetTimeRaw)
		if err != nil {
			return backupjob.RestoreRequest{}, fmt.Errorf("error parsing target time: %v", err)
		}
		req.TargetTime = &targetTime
		if dateRaw == "" {
			req.Date = targetTime
		}
	}
	return req, nil
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
