package backupjob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/mysqlops/mysqlbackup/pkg/backup"
	"github.com/mysqlops/mysqlbackup/pkg/command"
	"github.com/mysqlops/mysqlbackup/pkg/environment"
	"github.com/mysqlops/mysqlbackup/pkg/pipeline"
	mbtime "github.com/mysqlops/mysqlbackup/pkg/time"
	"github.com/mysqlops/mysqlbackup/pkg/topology"
	"github.com/mysqlops/mysqlbackup/pkg/verifier"
)

const (
	DefaultLogDir  = "/var/log/mysql"
	DefaultDataDir = "/var/lib/mysql"
	// DefaultOpenFilesLimit avoids "too many open files" errors while snapshotting large instances.
	DefaultOpenFilesLimit uint64 = 131072
)

// CredentialsProvider returns the MySQL credentials of a role.
type CredentialsProvider interface {
	Credentials(role environment.Role) (environment.Credentials, error)
}

// Topology resolves where the backups of an instance are stored.
type Topology interface {
	topology.ReplicaSetResolver
	topology.RetentionPolicyResolver
}

type BackuperOpts struct {
	LogDir         string
	DataDir        string
	DefaultsFile   string
	PigzThreads    int
	OpenFilesLimit uint64
}

type BackuperOpt func(*BackuperOpts)

func WithLogDir(dir string) BackuperOpt {
	return func(bo *BackuperOpts) {
		bo.LogDir = dir
	}
}

func WithDataDir(dir string) BackuperOpt {
	return func(bo *BackuperOpts) {
		bo.DataDir = dir
	}
}

func WithDefaultsFile(path string) BackuperOpt {
	return func(bo *BackuperOpts) {
		bo.DefaultsFile = path
	}
}

func WithPigzThreads(threads int) BackuperOpt {
	return func(bo *BackuperOpts) {
		bo.PigzThreads = threads
	}
}

// WithOpenFilesLimit sets the open files limit raised before physical backups. Zero leaves the limit untouched.
func WithOpenFilesLimit(limit uint64) BackuperOpt {
	return func(bo *BackuperOpts) {
		bo.OpenFilesLimit = limit
	}
}

// Backuper takes backups of an instance and uploads them under their object key.
type Backuper struct {
	opts        BackuperOpts
	builder     *command.Builder
	executor    *pipeline.Executor
	uploader    Uploader
	topology    Topology
	credentials CredentialsProvider
	logger      logr.Logger
}

func NewBackuper(builder *command.Builder, executor *pipeline.Executor, uploader Uploader, topology Topology,
	credentials CredentialsProvider, logger logr.Logger, backuperOpts ...BackuperOpt) (*Backuper, error) {
	opts := BackuperOpts{
		LogDir:         DefaultLogDir,
		DataDir:        DefaultDataDir,
		DefaultsFile:   command.DefaultDefaultsFile,
		PigzThreads:    command.DefaultPigzThreads,
		OpenFilesLimit: DefaultOpenFilesLimit,
	}
	for _, setOpt := range backuperOpts {
		setOpt(&opts)
	}
	if builder == nil || executor == nil || uploader == nil {
		return nil, errors.New("builder, executor and uploader must be provided")
	}
	if topology == nil || credentials == nil {
		return nil, errors.New("topology and credentials must be provided")
	}
	if opts.LogDir == "" || opts.DataDir == "" {
		return nil, errors.New("log and data directories must be set")
	}
	return &Backuper{
		opts:        opts,
		builder:     builder,
		executor:    executor,
		uploader:    uploader,
		topology:    topology,
		credentials: credentials,
		logger:      logger.WithName("backuper"),
	}, nil
}

// Logical dumps the instance with mysqldump, compresses it with pigz and uploads it. It returns the object key.
func (b *Backuper) Logical(ctx context.Context, instance topology.Instance, timestamp time.Time,
	initialBuild bool) (string, error) {
	key, err := b.objectKey(backup.KindLogical, instance, timestamp, initialBuild)
	if err != nil {
		return "", err
	}
	logger := b.logger.WithValues("kind", backup.KindLogical, "instance", instance.String(), "key", key)

	creds, err := b.credentials.Credentials(environment.RoleMysqldump)
	if err != nil {
		return "", fmt.Errorf("error getting mysqldump credentials: %v", err)
	}
	dumpCmd, err := b.builder.MysqlDump(command.ConnectionOpts{
		User:     creds.User,
		Password: creds.Password,
		Host:     instance.Hostname,
		Port:     instance.Port,
	})
	if err != nil {
		return "", err
	}
	dump, err := pipeline.NewCommandStage(dumpCmd)
	if err != nil {
		return "", err
	}
	pv, err := pipeline.NewCommandStage(b.builder.Pv(0))
	if err != nil {
		return "", err
	}
	pigz, err := pipeline.NewCommandStage(b.builder.Pigz(b.opts.PigzThreads))
	if err != nil {
		return "", err
	}
	upload, err := b.uploader.UploadStage(key)
	if err != nil {
		return "", fmt.Errorf("error creating upload stage: %v", err)
	}

	logger.Info("Taking logical backup", "location", b.uploader.Location())
	if err := b.executor.Run(ctx, []pipeline.Stage{dump, pv, pigz, upload}); err != nil {
		return "", fmt.Errorf("error taking logical backup of %s: %w", instance, err)
	}
	logger.Info("Logical backup completed")
	return key, nil
}

// Physical streams an xtrabackup snapshot of the instance and uploads it. The snapshot log is kept in
// the log directory and must report success for the backup to be valid. It returns the object key.
func (b *Backuper) Physical(ctx context.Context, instance topology.Instance, timestamp time.Time,
	initialBuild bool) (string, error) {
	if b.opts.OpenFilesLimit > 0 {
		if err := setOpenFilesLimit(b.opts.OpenFilesLimit); err != nil {
			return "", err
		}
	}
	key, err := b.objectKey(backup.KindPhysical, instance, timestamp, initialBuild)
	if err != nil {
		return "", err
	}
	logger := b.logger.WithValues("kind", backup.KindPhysical, "instance", instance.String(), "key", key)

	if err := os.MkdirAll(b.opts.LogDir, 0755); err != nil {
		return "", fmt.Errorf("error creating log directory: %v", err)
	}
	logPath := filepath.Join(b.opts.LogDir, fmt.Sprintf("xtrabackup_%s.log", mbtime.Format(timestamp)))

	creds, err := b.credentials.Credentials(environment.RoleXtrabackup)
	if err != nil {
		return "", fmt.Errorf("error getting xtrabackup credentials: %v", err)
	}
	xtrabackupCmd, err := b.builder.Xtrabackup(command.XtrabackupOpts{
		ConnectionOpts: command.ConnectionOpts{
			User:     creds.User,
			Password: creds.Password,
			Port:     instance.Port,
		},
		DefaultsFile: b.opts.DefaultsFile,
		DataDir:      b.opts.DataDir,
	})
	if err != nil {
		return "", err
	}
	xtrabackup, err := pipeline.NewCommandStage(xtrabackupCmd, pipeline.WithStderrFile(logPath))
	if err != nil {
		return "", err
	}
	pv, err := pipeline.NewCommandStage(b.builder.Pv(0))
	if err != nil {
		return "", err
	}
	upload, err := b.uploader.UploadStage(key)
	if err != nil {
		return "", fmt.Errorf("error creating upload stage: %v", err)
	}

	logger.Info("Taking physical backup", "location", b.uploader.Location(), "log", logPath)
	stages := []pipeline.Stage{xtrabackup, pv, upload}
	if err := b.executor.Run(ctx, stages, verifier.Check(logPath)); err != nil {
		return "", fmt.Errorf("error taking physical backup of %s: %w", instance, err)
	}
	logger.Info("Physical backup completed")
	return key, nil
}

// Backup dispatches to Logical or Physical depending on kind.
func (b *Backuper) Backup(ctx context.Context, kind backup.Kind, instance topology.Instance, timestamp time.Time,
	initialBuild bool) (string, error) {
	switch kind {
	case backup.KindLogical:
		return b.Logical(ctx, instance, timestamp, initialBuild)
	case backup.KindPhysical:
		return b.Physical(ctx, instance, timestamp, initialBuild)
	default:
		return "", kind.Validate()
	}
}

func (b *Backuper) objectKey(kind backup.Kind, instance topology.Instance, timestamp time.Time,
	initialBuild bool) (string, error) {
	descriptor := backup.Descriptor{
		Kind:         kind,
		Instance:     instance,
		Timestamp:    timestamp,
		InitialBuild: initialBuild,
	}
	if !initialBuild {
		replicaSet, err := b.topology.ReplicaSet(instance)
		if err != nil {
			return "", fmt.Errorf("error getting replica set: %v", err)
		}
		descriptor.ReplicaSet = replicaSet
		descriptor.RetentionPolicy = b.topology.RetentionPolicy(instance)
	}
	return backup.ObjectKey(descriptor)
}
