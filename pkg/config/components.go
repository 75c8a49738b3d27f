package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/mysqlops/mysqlbackup/pkg/backup"
	"github.com/mysqlops/mysqlbackup/pkg/backupjob"
	"github.com/mysqlops/mysqlbackup/pkg/command"
	"github.com/mysqlops/mysqlbackup/pkg/environment"
	mbminio "github.com/mysqlops/mysqlbackup/pkg/minio"
	"github.com/mysqlops/mysqlbackup/pkg/pipeline"
	"github.com/mysqlops/mysqlbackup/pkg/restorestatus"
	"github.com/mysqlops/mysqlbackup/pkg/sql"
	"github.com/mysqlops/mysqlbackup/pkg/topology"
)

// Components builds the backup and restore machinery described by a Config.
type Components struct {
	Config  *Config
	Env     *environment.Env
	Builder *command.Builder
	Logger  logr.Logger
	Metrics pipeline.Metrics

	topology *topology.Static
}

func NewComponents(cfg *Config, env *environment.Env, logger logr.Logger, metrics pipeline.Metrics) (*Components, error) {
	builder, err := command.NewBuilder(cfg.Tools)
	if err != nil {
		return nil, err
	}
	return &Components{
		Config:  cfg,
		Env:     env,
		Builder: builder,
		Logger:  logger,
		Metrics: metrics,
	}, nil
}

func (c *Components) Topology() (*topology.Static, error) {
	if c.topology != nil {
		return c.topology, nil
	}
	t, err := topology.LoadFile(c.Config.TopologyFile)
	if err != nil {
		return nil, err
	}
	c.topology = t
	return t, nil
}

func (c *Components) Executor() (*pipeline.Executor, error) {
	opts := []pipeline.ExecutorOpt{
		pipeline.WithPollInterval(c.Config.PollInterval),
	}
	if c.Metrics != nil {
		opts = append(opts, pipeline.WithMetrics(c.Metrics))
	}
	return pipeline.NewExecutor(c.Logger, opts...)
}

func (c *Components) MinioClient(bucket string) (*mbminio.Client, error) {
	accessKeyID, secretAccessKey, err := c.Env.S3Credentials()
	if err != nil {
		return nil, err
	}
	s3 := c.Config.S3
	opts := []mbminio.MinioOpt{
		mbminio.WithCredentials(accessKeyID, secretAccessKey),
		mbminio.WithTLS(s3.TLS),
		mbminio.WithCACertPath(s3.CACertPath),
		mbminio.WithRegion(s3.Region),
		mbminio.WithPrefix(s3.Prefix),
	}
	if c.Env.S3SSECCustomerKey != "" {
		opts = append(opts, mbminio.WithSSECCustomerKey(c.Env.S3SSECCustomerKey))
	}
	return mbminio.NewClient(s3.Endpoint, bucket, opts...)
}

func (c *Components) transferMode() (backupjob.TransferMode, error) {
	return backupjob.ParseTransferMode(c.Config.S3.TransferMode)
}

func (c *Components) toolStageOpts() []pipeline.StageOpt {
	accessKeyID, secretAccessKey, err := c.Env.S3Credentials()
	if err != nil {
		c.Logger.V(1).Info("S3 credentials not set, the transfer tool uses its own", "err", err)
		return nil
	}
	return []pipeline.StageOpt{
		pipeline.WithEnv(backupjob.ToolCredentialsEnv(accessKeyID, secretAccessKey)),
	}
}

func (c *Components) Uploader() (backupjob.Uploader, error) {
	bucket := c.Config.S3.UploadBucket
	if bucket == "" {
		return nil, errors.New("upload bucket must be set")
	}
	mode, err := c.transferMode()
	if err != nil {
		return nil, err
	}
	if mode == backupjob.TransferModeTool {
		return backupjob.NewToolUploader(c.Builder, bucket, c.Config.S3.Endpoint, c.toolStageOpts()...), nil
	}
	client, err := c.MinioClient(bucket)
	if err != nil {
		return nil, fmt.Errorf("error getting S3 client: %v", err)
	}
	return backupjob.NewStorageUploader(backup.NewS3Storage(client, c.Logger.WithName("s3"))), nil
}

// Storages returns the locations backups are restored from: every download bucket plus the local directory.
func (c *Components) Storages() ([]backup.Storage, error) {
	mode, err := c.transferMode()
	if err != nil {
		return nil, err
	}
	var storages []backup.Storage
	for _, bucket := range c.Config.S3.DownloadBuckets {
		client, err := c.MinioClient(bucket)
		if err != nil {
			return nil, fmt.Errorf("error getting S3 client for bucket %s: %v", bucket, err)
		}
		s3Storage := backup.NewS3Storage(client, c.Logger.WithName("s3"))
		if mode == backupjob.TransferModeTool {
			storages = append(storages, backupjob.NewToolStorage(s3Storage, c.Builder, c.Config.S3.Endpoint,
				c.toolStageOpts()...))
		} else {
			storages = append(storages, s3Storage)
		}
	}
	if c.Config.Restore.LocalDir != "" {
		storages = append(storages, backup.NewFileSystemStorage(c.Config.Restore.LocalDir, c.Logger.WithName("local")))
	}
	if len(storages) == 0 {
		return nil, errors.New("no download buckets or local directory configured")
	}
	return storages, nil
}

func (c *Components) Locator(storages []backup.Storage) (*backup.Locator, error) {
	t, err := c.Topology()
	if err != nil {
		return nil, err
	}
	listers := make([]backup.ObjectLister, len(storages))
	for i, s := range storages {
		listers[i] = s
	}
	return backup.NewLocator(listers, t, t, c.Logger)
}

// SqlOpts returns the connection options shared by every MySQL client.
func (c *Components) SqlOpts() ([]sql.Opt, error) {
	m := c.Config.MySQL
	opts := []sql.Opt{
		sql.WithTimeout(m.ConnectTimeout),
	}
	if m.TLSCACertPath != "" {
		ca, err := os.ReadFile(m.TLSCACertPath)
		if err != nil {
			return nil, fmt.Errorf("error reading MySQL CA cert: %v", err)
		}
		opts = append(opts, sql.WithTLS("mysqlbackup", ca))
	}
	if m.TLSCertPath != "" && m.TLSKeyPath != "" {
		cert, err := os.ReadFile(m.TLSCertPath)
		if err != nil {
			return nil, fmt.Errorf("error reading MySQL client cert: %v", err)
		}
		key, err := os.ReadFile(m.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("error reading MySQL client key: %v", err)
		}
		opts = append(opts, sql.WithTLSClientCert(cert, key))
	}
	return opts, nil
}

func (c *Components) Replication() (*backupjob.SqlReplication, error) {
	sqlOpts, err := c.SqlOpts()
	if err != nil {
		return nil, err
	}
	var changeMasterOpts []sql.ChangeMasterOpt
	if retries := c.Config.Restore.ReplicationRetries; retries > 0 {
		changeMasterOpts = append(changeMasterOpts, sql.WithChangeMasterRetries(retries))
	}
	if m := c.Config.MySQL; m.ReplicationSSL {
		changeMasterOpts = append(changeMasterOpts, sql.WithChangeMasterSSL(m.TLSCertPath, m.TLSKeyPath, m.TLSCACertPath))
	}
	return backupjob.NewSqlReplication(c.Env, sqlOpts, changeMasterOpts...), nil
}

func (c *Components) Tracker() (*restorestatus.Tracker, error) {
	t, err := c.Topology()
	if err != nil {
		return nil, err
	}
	sqlOpts, err := c.SqlOpts()
	if err != nil {
		return nil, err
	}
	connector := restorestatus.NewSqlConnector(c.Env, sqlOpts...)
	return restorestatus.NewTracker(connector, c.Logger, restorestatus.WithPrimaryResolver(t)), nil
}

func (c *Components) Backuper() (*backupjob.Backuper, error) {
	t, err := c.Topology()
	if err != nil {
		return nil, err
	}
	executor, err := c.Executor()
	if err != nil {
		return nil, err
	}
	uploader, err := c.Uploader()
	if err != nil {
		return nil, err
	}
	b := c.Config.Backup
	return backupjob.NewBackuper(c.Builder, executor, uploader, t, c.Env, c.Logger,
		backupjob.WithLogDir(b.LogDir),
		backupjob.WithDataDir(b.DataDir),
		backupjob.WithDefaultsFile(b.DefaultsFile),
		backupjob.WithPigzThreads(b.PigzThreads),
	)
}

func (c *Components) Restorer() (*backupjob.Restorer, error) {
	t, err := c.Topology()
	if err != nil {
		return nil, err
	}
	executor, err := c.Executor()
	if err != nil {
		return nil, err
	}
	storages, err := c.Storages()
	if err != nil {
		return nil, err
	}
	locator, err := c.Locator(storages)
	if err != nil {
		return nil, err
	}
	tracker, err := c.Tracker()
	if err != nil {
		return nil, err
	}
	replication, err := c.Replication()
	if err != nil {
		return nil, err
	}
	r := c.Config.Restore
	return backupjob.NewRestorer(c.Builder, executor, locator, storages, tracker, t, c.Logger,
		backupjob.WithDecompressThreads(r.DecompressThreads),
		backupjob.WithApplyLogMemoryGB(r.ApplyLogMemoryGB),
		backupjob.WithReplication(replication),
		backupjob.WithStartCommand(r.StartCommand),
	)
}
