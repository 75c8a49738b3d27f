package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/mysqlops/mysqlbackup/pkg/backupjob"
	"github.com/mysqlops/mysqlbackup/pkg/command"
	"github.com/mysqlops/mysqlbackup/pkg/lock"
	"github.com/mysqlops/mysqlbackup/pkg/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	DefaultPath = "/etc/mysqlbackup/config.yaml"
	envPrefix   = "MYSQLBACKUP"
)

type S3 struct {
	Endpoint        string   `mapstructure:"endpoint"`
	Region          string   `mapstructure:"region"`
	TLS             bool     `mapstructure:"tls"`
	CACertPath      string   `mapstructure:"caCertPath"`
	Prefix          string   `mapstructure:"prefix"`
	UploadBucket    string   `mapstructure:"uploadBucket"`
	DownloadBuckets []string `mapstructure:"downloadBuckets"`
	TransferMode    string   `mapstructure:"transferMode"`
}

// MySQL configures the connections to the status table and to restored instances.
type MySQL struct {
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
	TLSCACertPath  string        `mapstructure:"tlsCACertPath"`
	TLSCertPath    string        `mapstructure:"tlsCertPath"`
	TLSKeyPath     string        `mapstructure:"tlsKeyPath"`
	// ReplicationSSL makes restored replicas connect to their primary with the TLS files above.
	ReplicationSSL bool `mapstructure:"replicationSSL"`
}

type Backup struct {
	LogDir       string `mapstructure:"logDir"`
	DataDir      string `mapstructure:"dataDir"`
	DefaultsFile string `mapstructure:"defaultsFile"`
	PigzThreads  int    `mapstructure:"pigzThreads"`
}

type Restore struct {
	LocalDir           string   `mapstructure:"localDir"`
	DataDir            string   `mapstructure:"dataDir"`
	DecompressThreads  int      `mapstructure:"decompressThreads"`
	ApplyLogMemoryGB   int      `mapstructure:"applyLogMemoryGB"`
	ReplicationRetries int      `mapstructure:"replicationRetries"`
	StartCommand       []string `mapstructure:"startCommand"`
}

type Schedule struct {
	Cron           string `mapstructure:"cron"`
	Kind           string `mapstructure:"kind"`
	Instance       string `mapstructure:"instance"`
	RestoreAgeCron string `mapstructure:"restoreAgeCron"`
	Addr           string `mapstructure:"addr"`
	TLSCertPath    string `mapstructure:"tlsCertPath"`
	TLSKeyPath     string `mapstructure:"tlsKeyPath"`
	TLSCAPath      string `mapstructure:"tlsCAPath"`
}

type Config struct {
	Tools        command.Tools `mapstructure:"tools"`
	S3           S3            `mapstructure:"s3"`
	MySQL        MySQL         `mapstructure:"mysql"`
	Backup       Backup        `mapstructure:"backup"`
	Restore      Restore       `mapstructure:"restore"`
	Schedule     Schedule      `mapstructure:"schedule"`
	TopologyFile string        `mapstructure:"topologyFile"`
	LockFile     string        `mapstructure:"lockFile"`
	PollInterval time.Duration `mapstructure:"pollInterval"`
}

func setDefaults(v *viper.Viper) {
	tools := command.DefaultTools()
	v.SetDefault("tools.mysqldump", tools.Mysqldump)
	v.SetDefault("tools.innobackupex", tools.Innobackupex)
	v.SetDefault("tools.xbstream", tools.Xbstream)
	v.SetDefault("tools.pigz", tools.Pigz)
	v.SetDefault("tools.pv", tools.Pv)
	v.SetDefault("tools.s3Transfer", tools.S3Transfer)

	v.SetDefault("s3.endpoint", "s3.amazonaws.com")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.tls", true)
	v.SetDefault("s3.caCertPath", "")
	v.SetDefault("s3.prefix", "")
	v.SetDefault("s3.uploadBucket", "")
	v.SetDefault("s3.downloadBuckets", []string{})
	v.SetDefault("s3.transferMode", string(backupjob.TransferModeTool))

	v.SetDefault("mysql.connectTimeout", 5*time.Second)
	v.SetDefault("mysql.tlsCACertPath", "")
	v.SetDefault("mysql.tlsCertPath", "")
	v.SetDefault("mysql.tlsKeyPath", "")
	v.SetDefault("mysql.replicationSSL", false)

	v.SetDefault("backup.logDir", backupjob.DefaultLogDir)
	v.SetDefault("backup.dataDir", backupjob.DefaultDataDir)
	v.SetDefault("backup.defaultsFile", command.DefaultDefaultsFile)
	v.SetDefault("backup.pigzThreads", command.DefaultPigzThreads)

	v.SetDefault("restore.localDir", "")
	v.SetDefault("restore.dataDir", backupjob.DefaultDataDir)
	v.SetDefault("restore.decompressThreads", command.DefaultDecompressThreads)
	v.SetDefault("restore.applyLogMemoryGB", command.DefaultApplyLogMemoryGB)
	v.SetDefault("restore.replicationRetries", 10)
	v.SetDefault("restore.startCommand", []string{})

	v.SetDefault("schedule.cron", "0 2 * * *")
	v.SetDefault("schedule.kind", "xtrabackup")
	v.SetDefault("schedule.instance", "localhost:3306")
	v.SetDefault("schedule.restoreAgeCron", "")
	v.SetDefault("schedule.addr", ":9110")
	v.SetDefault("schedule.tlsCertPath", "")
	v.SetDefault("schedule.tlsKeyPath", "")
	v.SetDefault("schedule.tlsCAPath", "")

	v.SetDefault("topologyFile", "/etc/mysqlbackup/topology.yaml")
	v.SetDefault("lockFile", lock.DefaultPath)
	v.SetDefault("pollInterval", pipeline.DefaultPollInterval)
}

// Load reads the config file at path, overridden by MYSQLBACKUP_* environment variables
// (e.g. MYSQLBACKUP_S3_UPLOADBUCKET). A missing file is only an error when path is not the default one.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !(errors.Is(err, fs.ErrNotExist) && path == DefaultPath) {
				return nil, fmt.Errorf("error reading config file: %v", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}
	return &cfg, nil
}

func LoadWithCommand(cmd *cobra.Command) (*Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("error getting 'config' flag: %v", err)
	}
	return Load(path)
}

func (c *Config) Validate() error {
	if err := c.Tools.Validate(); err != nil {
		return err
	}
	if _, err := backupjob.ParseTransferMode(c.S3.TransferMode); err != nil {
		return err
	}
	if c.MySQL.ReplicationSSL &&
		(c.MySQL.TLSCACertPath == "" || c.MySQL.TLSCertPath == "" || c.MySQL.TLSKeyPath == "") {
		return errors.New("replication SSL requires the MySQL TLS CA, certificate and key paths")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be greater than zero")
	}
	return nil
}
