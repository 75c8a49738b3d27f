package restoreage

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/mysqlops/mysqlbackup/pkg/config"
	"github.com/mysqlops/mysqlbackup/pkg/environment"
	"github.com/mysqlops/mysqlbackup/pkg/log"
	"github.com/mysqlops/mysqlbackup/pkg/metrics"
	"github.com/mysqlops/mysqlbackup/pkg/restorestatus"
	"github.com/spf13/cobra"
)

var (
	replicaSets     []string
	concurrency     int
	maxAge          int
	metricsTextfile string
)

func init() {
	RootCmd.Flags().StringSliceVar(&replicaSets, "replica-set", nil,
		"Replica sets to check. Defaults to every replica set of the topology.")
	RootCmd.Flags().IntVar(&concurrency, "concurrency", 8, "Number of replica sets checked concurrently.")
	RootCmd.Flags().IntVar(&maxAge, "max-age", 5, "Maximum age in days of the last restored backup.")
	RootCmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "",
		"Path of a node exporter textfile where the restore ages are written.")
}

var RootCmd = &cobra.Command{
	Use:   "restore-age",
	Short: "Restore age.",
	Long: `Reports how many days old is the newest backup restored successfully in every replica set. ` +
		`It fails when a replica set has no restore or its last restore is older than the maximum age.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := log.SetupLoggerWithCommand(cmd); err != nil {
			fmt.Printf("error setting up logger: %v\n", err)
			os.Exit(1)
		}
		logger := log.Log.WithName("restore-age")

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
		components, err := config.NewComponents(cfg, env, logger, nil)
		if err != nil {
			logger.Error(err, "error building components")
			os.Exit(1)
		}
		if len(replicaSets) == 0 {
			t, err := components.Topology()
			if err != nil {
				logger.Error(err, "error loading topology")
				os.Exit(1)
			}
			replicaSets = t.Names()
		}
		tracker, err := components.Tracker()
		if err != nil {
			logger.Error(err, "error building restore tracker")
			os.Exit(1)
		}

		ages, err := tracker.Ages(ctx, replicaSets, concurrency)
		if err != nil {
			logger.Error(err, "error getting restore ages")
			os.Exit(1)
		}

		recorder := metrics.NewRecorder()
		stale := report(ages, maxAge, recorder)
		if metricsTextfile != "" {
			if err := recorder.WriteToTextfile(metricsTextfile); err != nil {
				logger.Error(err, "error writing metrics", "path", metricsTextfile)
				os.Exit(1)
			}
		}
		if missing := len(replicaSets) - len(ages); missing > 0 {
			logger.Info("some replica sets could not be checked", "count", missing)
			os.Exit(1)
		}
		if len(stale) > 0 {
			logger.Info("replica sets without a recent restore", "replica-sets", stale, "max-age", maxAge)
			os.Exit(1)
		}
	},
}

// report prints one line per replica set and returns the ones whose last restore is missing or too old.
func report(ages map[string]restorestatus.Age, maxAge int, recorder *metrics.Recorder) []string {
	names := make([]string, 0, len(ages))
	for name := range ages {
		names = append(names, name)
	}
	sort.Strings(names)

	var stale []string
	for _, name := range names {
		age := ages[name]
		recorder.SetRestoreAge(age)
		if age.Days == nil {
			fmt.Printf("%s\tnever\n", name)
			stale = append(stale, name)
			continue
		}
		fmt.Printf("%s\t%d\n", name, *age.Days)
		if *age.Days > maxAge {
			stale = append(stale, name)
		}
	}
	return stale
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
