package main

import (
	backupcmd "github.com/mysqlops/mysqlbackup/cmd/backup"
	findcmd "github.com/mysqlops/mysqlbackup/cmd/find"
	restorecmd "github.com/mysqlops/mysqlbackup/cmd/restore"
	restoreagecmd "github.com/mysqlops/mysqlbackup/cmd/restoreage"
	schedulecmd "github.com/mysqlops/mysqlbackup/cmd/schedule"
	"github.com/mysqlops/mysqlbackup/pkg/config"
	"github.com/spf13/cobra"
)

var (
	configPath     string
	logLevel       string
	logTimeEncoder string
	logDev         bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to the YAML config file.")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level to use, one of: "+
		"debug, info, warn, error, dpanic, panic, fatal.")
	rootCmd.PersistentFlags().StringVar(&logTimeEncoder, "log-time-encoder", "epoch", "Log time encoder to use, one of: "+
		"epoch, millis, nano, iso8601, rfc3339 or rfc3339nano")
	rootCmd.PersistentFlags().BoolVar(&logDev, "log-dev", false, "Enable development logs.")
}

var rootCmd = &cobra.Command{
	Use:   "mysqlbackup",
	Short: "MySQL backup and restore.",
	Long:  `Takes, locates and restores MySQL backups stored in S3 and tracks the restores of every replica set.`,
	Args:  cobra.NoArgs,
}

func main() {
	rootCmd.AddCommand(backupcmd.RootCmd)
	rootCmd.AddCommand(restorecmd.RootCmd)
	rootCmd.AddCommand(findcmd.RootCmd)
	rootCmd.AddCommand(restoreagecmd.RootCmd)
	rootCmd.AddCommand(schedulecmd.RootCmd)

	cobra.CheckErr(rootCmd.Execute())
}
