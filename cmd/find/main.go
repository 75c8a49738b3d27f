package find

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
	"github.com/mysqlops/mysqlbackup/pkg/log"
	mbtime "github.com/mysqlops/mysqlbackup/pkg/time"
	"github.com/mysqlops/mysqlbackup/pkg/topology"
	"github.com/spf13/cobra"
)

var (
	kindRaw     string
	instanceRaw string
	dateRaw     string
	all         bool
)

func init() {
	RootCmd.Flags().StringVar(&kindRaw, "kind", string(backup.KindPhysical),
		"Kind of backup to look for, one of: mysqldump, xtrabackup.")
	RootCmd.Flags().StringVar(&instanceRaw, "instance", "", "Instance the backup was taken from, in host:port format.")
	RootCmd.Flags().StringVar(&dateRaw, "date", "", "Date (YYYY-MM-DD) of the backup. Defaults to today.")
	RootCmd.Flags().BoolVar(&all, "all", false, "Print every candidate instead of the most recent one.")

	_ = RootCmd.MarkFlagRequired("instance")
}

var RootCmd = &cobra.Command{
	Use:   "find",
	Short: "Find.",
	Long:  `Looks up the backups of an instance taken on a date across every configured storage location.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := log.SetupLoggerWithCommand(cmd); err != nil {
			fmt.Printf("error setting up logger: %v\n", err)
			os.Exit(1)
		}
		logger := log.Log.WithName("find")

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
		date := time.Now()
		if dateRaw != "" {
			if date, err = mbtime.ParseDate(dateRaw); err != nil {
				logger.Error(err, "invalid date")
				os.Exit(1)
			}
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
		components, err := config.NewComponents(cfg, env, logger, nil)
		if err != nil {
			logger.Error(err, "error building components")
			os.Exit(1)
		}
		storages, err := components.Storages()
		if err != nil {
			logger.Error(err, "error getting storages")
			os.Exit(1)
		}
		locator, err := components.Locator(storages)
		if err != nil {
			logger.Error(err, "error building locator")
			os.Exit(1)
		}

		candidates, err := locator.FindCandidates(ctx, instance, date, kind)
		if err != nil {
			logger.Error(err, "error finding backups", "instance", instance.String(), "date", mbtime.FormatDate(date))
			os.Exit(1)
		}
		if all {
			for _, c := range candidates {
				fmt.Printf("%s\t%d\t%s\n", c.String(), c.Size, c.LastModified.Format(time.RFC3339))
			}
			return
		}
		object, err := backup.MostRecent(candidates, logger)
		if err != nil {
			logger.Error(err, "error choosing backup")
			os.Exit(1)
		}
		fmt.Println(object.String())
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
