package backup

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mysqlops/mysqlbackup/pkg/backup"
	"github.com/mysqlops/mysqlbackup/pkg/config"
	"github.com/mysqlops/mysqlbackup/pkg/environment"
	"github.com/mysqlops/mysqlbackup/pkg/lock"
	"github.com/mysqlops/mysqlbackup/pkg/log"
	"github.com/mysqlops/mysqlbackup/pkg/metrics"
	"github.com/mysqlops/mysqlbackup/pkg/topology"
	"github.com/spf13/cobra"
)

var (
	kindRaw         string
	instanceRaw     string
	initialBuild    bool
	metricsTextfile string
)

func init() {
	RootCmd.Flags().StringVar(&kindRaw, "kind", string(backup.KindPhysical),
		"Kind of backup to take, one of: mysqldump, xtrabackup.")
	RootCmd.Flags().StringVar(&instanceRaw, "instance", "localhost:3306", "Instance to back up, in host:port format.")
	RootCmd.Flags().BoolVar(&initialBuild, "initial-build", false,
		"Store the backup under the initial build prefix, for instances that do not belong to a replica set yet.")
	RootCmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "",
		"Path of a node exporter textfile where the pipeline metrics are written.")
}

var RootCmd = &cobra.Command{
	Use:   "backup",
	Short: "Backup.",
	Long:  `Takes a logical or physical backup of a MySQL instance and uploads it to S3.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := log.SetupLoggerWithCommand(cmd); err != nil {
			fmt.Printf("error setting up logger: %v\n", err)
			os.Exit(1)
		}
		logger := log.Log.WithName("backup")

		ctx, cancel := newContext()
		defer cancel()

		kind, err := backup.ParseKind(kindRaw)
		if err != nil {
			logger.Error(err, "invalid backup kind")
			os.Exit(1)
		}
		instance, err := topology.ParseInstance(instanceRaw)
		if err != nil {
			logger.Error(err, "invalid instance")
			os.Exit(1)
		}
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
		backuper, err := components.Backuper()
		if err != nil {
			logger.Error(err, "error building backuper")
			os.Exit(1)
		}

		logger.Info("starting backup", "kind", kind, "instance", instance.String(), "initial-build", initialBuild)
		key, backupErr := backuper.Backup(ctx, kind, instance, time.Now(), initialBuild)

		if metricsTextfile != "" {
			if err := recorder.WriteToTextfile(metricsTextfile); err != nil {
				logger.Error(err, "error writing metrics", "path", metricsTextfile)
			}
		}
		if backupErr != nil {
			logger.Error(backupErr, "error taking backup")
			l.Release()
			os.Exit(1)
		}
		logger.Info("backup completed", "key", key)
		fmt.Println(key)
	},
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
