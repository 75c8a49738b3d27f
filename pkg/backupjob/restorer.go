package backupjob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/mysqlops/mysqlbackup/pkg/backup"
	"github.com/mysqlops/mysqlbackup/pkg/binlog"
	"github.com/mysqlops/mysqlbackup/pkg/command"
	"github.com/mysqlops/mysqlbackup/pkg/pipeline"
	"github.com/mysqlops/mysqlbackup/pkg/restorestatus"
	"github.com/mysqlops/mysqlbackup/pkg/topology"
	"github.com/mysqlops/mysqlbackup/pkg/verifier"
	"k8s.io/utils/ptr"
)

const (
	decompressErrLog = "xtrabackup-decompress.err"
	decompressOutLog = "xtrabackup-decompress.log"
	applyLogLog      = "xtrabackup-apply-logs.log"
)

// ReplicationConfigurer points a restored instance to its primary and starts replicating.
type ReplicationConfigurer interface {
	ConfigureReplication(ctx context.Context, instance, primary topology.Instance, coordinate binlog.Coordinate) error
}

// RestoreTopology resolves the replica set and primary a restored instance belongs to.
type RestoreTopology interface {
	topology.ReplicaSetResolver
	topology.PrimaryResolver
}

type RestorerOpts struct {
	DecompressThreads int
	ApplyLogMemoryGB  int
	Replication       ReplicationConfigurer
	StartCommand      []string
}

type RestorerOpt func(*RestorerOpts)

func WithDecompressThreads(threads int) RestorerOpt {
	return func(ro *RestorerOpts) {
		ro.DecompressThreads = threads
	}
}

func WithApplyLogMemoryGB(memoryGB int) RestorerOpt {
	return func(ro *RestorerOpts) {
		ro.ApplyLogMemoryGB = memoryGB
	}
}

func WithReplication(replication ReplicationConfigurer) RestorerOpt {
	return func(ro *RestorerOpts) {
		ro.Replication = replication
	}
}

// WithStartCommand sets the command starting the restored instance before replication is configured.
func WithStartCommand(argv []string) RestorerOpt {
	return func(ro *RestorerOpts) {
		ro.StartCommand = argv
	}
}

// Restorer restores physical backups into a data directory.
type Restorer struct {
	opts     RestorerOpts
	builder  *command.Builder
	executor *pipeline.Executor
	locator  *backup.Locator
	storages map[string]backup.Storage
	tracker  *restorestatus.Tracker
	topology RestoreTopology
	logger   logr.Logger
}

func NewRestorer(builder *command.Builder, executor *pipeline.Executor, locator *backup.Locator,
	storages []backup.Storage, tracker *restorestatus.Tracker, topology RestoreTopology, logger logr.Logger,
	restorerOpts ...RestorerOpt) (*Restorer, error) {
	opts := RestorerOpts{
		DecompressThreads: command.DefaultDecompressThreads,
		ApplyLogMemoryGB:  command.DefaultApplyLogMemoryGB,
	}
	for _, setOpt := range restorerOpts {
		setOpt(&opts)
	}
	if builder == nil || executor == nil || locator == nil || tracker == nil || topology == nil {
		return nil, errors.New("builder, executor, locator, tracker and topology must be provided")
	}
	if len(storages) == 0 {
		return nil, errors.New("at least one storage location must be provided")
	}
	storagesByLocation := make(map[string]backup.Storage, len(storages))
	for _, s := range storages {
		storagesByLocation[s.Location()] = s
	}
	return &Restorer{
		opts:     opts,
		builder:  builder,
		executor: executor,
		locator:  locator,
		storages: storagesByLocation,
		tracker:  tracker,
		topology: topology,
		logger:   logger.WithName("restorer"),
	}, nil
}

// Unpack streams a stored xbstream backup into dataDir.
func (r *Restorer) Unpack(ctx context.Context, object backup.Object, dataDir string) error {
	storage, ok := r.storages[object.Location]
	if !ok {
		return fmt.Errorf("unknown storage location \"%s\"", object.Location)
	}
	download, err := storage.DownloadStage(object)
	if err != nil {
		return fmt.Errorf("error creating download stage: %v", err)
	}
	pv, err := pipeline.NewCommandStage(r.builder.Pv(object.Size))
	if err != nil {
		return err
	}
	xbstreamCmd, err := r.builder.Xbstream(dataDir)
	if err != nil {
		return err
	}
	xbstream, err := pipeline.NewCommandStage(xbstreamCmd)
	if err != nil {
		return err
	}

	r.logger.Info("Unpacking backup", "object", object.String(), "data-dir", dataDir)
	if err := r.executor.Run(ctx, []pipeline.Stage{download, pv, xbstream}); err != nil {
		return fmt.Errorf("error unpacking %s: %w", object, err)
	}
	return nil
}

// Decompress decompresses the files of an unpacked backup in place.
func (r *Restorer) Decompress(ctx context.Context, dataDir string) error {
	cmd, err := r.builder.InnobackupDecompress(r.opts.DecompressThreads, dataDir)
	if err != nil {
		return err
	}
	outLog, err := os.Create(filepath.Join(dataDir, decompressOutLog))
	if err != nil {
		return fmt.Errorf("error creating decompress log: %v", err)
	}
	defer outLog.Close()

	errLogPath := filepath.Join(dataDir, decompressErrLog)
	stage, err := pipeline.NewCommandStage(cmd, pipeline.WithStderrFile(errLogPath), pipeline.WithStdout(outLog))
	if err != nil {
		return err
	}

	r.logger.Info("Decompressing backup", "data-dir", dataDir)
	if err := r.executor.Run(ctx, []pipeline.Stage{stage}, verifier.Check(errLogPath)); err != nil {
		return fmt.Errorf("error decompressing backup: %w", err)
	}
	return nil
}

// ApplyLog applies the redo log of a decompressed backup, leaving a consistent data directory.
func (r *Restorer) ApplyLog(ctx context.Context, dataDir string) error {
	cmd, err := r.builder.InnobackupApplyLog(r.opts.ApplyLogMemoryGB, dataDir)
	if err != nil {
		return err
	}
	logPath := filepath.Join(dataDir, applyLogLog)
	stage, err := pipeline.NewCommandStage(cmd, pipeline.WithStderrFile(logPath))
	if err != nil {
		return err
	}

	r.logger.Info("Applying logs", "data-dir", dataDir)
	if err := r.executor.Run(ctx, []pipeline.Stage{stage}, verifier.Check(logPath)); err != nil {
		return fmt.Errorf("error applying logs: %w", err)
	}
	return nil
}

type RestoreRequest struct {
	// Source is the instance the backup was taken from.
	Source topology.Instance
	// Destination is the instance being restored.
	Destination topology.Instance
	Date        time.Time
	// TargetTime picks the backup closest to it instead of the most recent one of Date.
	TargetTime       *time.Time
	DataDir          string
	Test             bool
	StartReplication bool
}

type RestoreResult struct {
	Object     backup.Object
	Coordinate binlog.Coordinate
	RestoreID  restorestatus.RestoreID
}

// Restore locates the backup of the source instance, restores it into the data directory and returns the
// binlog coordinate replication must resume from. Every phase is recorded in the restore status table
// of the replica set primary.
func (r *Restorer) Restore(ctx context.Context, req RestoreRequest) (*RestoreResult, error) {
	if req.DataDir == "" {
		return nil, errors.New("data directory must be set")
	}
	logger := r.logger.WithValues("source", req.Source.String(), "destination", req.Destination.String())

	candidates, err := r.locator.FindCandidates(ctx, req.Source, req.Date, backup.KindPhysical)
	if err != nil {
		return nil, err
	}
	var object backup.Object
	if req.TargetTime != nil {
		object, err = backup.Closest(candidates, *req.TargetTime, logger)
	} else {
		object, err = backup.MostRecent(candidates, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("error choosing backup: %v", err)
	}
	logger = logger.WithValues("object", object.String())
	logger.Info("Restoring backup")

	statusInstance := r.statusInstance(req.Source, logger)
	id := r.tracker.Start(ctx, statusInstance, r.startParams(req, object))

	result := &RestoreResult{
		Object:    object,
		RestoreID: id,
	}
	// The final status is recorded even when the restore was cancelled.
	updateCtx := context.WithoutCancel(ctx)
	coordinate, err := r.restoreDataDir(ctx, object, req.DataDir)
	if err != nil {
		r.tracker.Update(updateCtx, statusInstance, id, restorestatus.UpdateParams{
			Status:        ptr.To(restorestatus.StatusBad),
			StatusMessage: ptr.To(err.Error()),
		})
		return nil, err
	}
	result.Coordinate = coordinate
	logger.Info("Backup restored", "coordinate", coordinate.String())

	update := restorestatus.UpdateParams{
		Status: ptr.To(restorestatus.StatusOK),
	}
	if req.StartReplication {
		update.Replication = ptr.To(r.startReplication(ctx, req, coordinate, logger))
	}
	r.tracker.Update(updateCtx, statusInstance, id, update)

	return result, nil
}

func (r *Restorer) restoreDataDir(ctx context.Context, object backup.Object, dataDir string) (binlog.Coordinate, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return binlog.Coordinate{}, fmt.Errorf("error creating data directory: %v", err)
	}
	if err := r.Unpack(ctx, object, dataDir); err != nil {
		return binlog.Coordinate{}, err
	}
	if err := r.Decompress(ctx, dataDir); err != nil {
		return binlog.Coordinate{}, err
	}
	if err := r.ApplyLog(ctx, dataDir); err != nil {
		return binlog.Coordinate{}, err
	}
	return ReadCoordinate(dataDir, r.logger)
}

// ReadCoordinate reads the replication coordinate of a restored backup. Backups of replicas record the
// coordinate of their primary in the slave info file, backups of primaries only have the binlog info file.
func ReadCoordinate(dataDir string, logger logr.Logger) (binlog.Coordinate, error) {
	coordinate, err := binlog.ParseSlaveInfo(dataDir)
	if err == nil {
		return coordinate, nil
	}
	logger.V(1).Info("Unable to read slave info. Falling back to binlog info", "err", err)

	coordinate, err = binlog.ParseBinlogInfo(dataDir)
	if err != nil {
		return binlog.Coordinate{}, fmt.Errorf("error reading replication coordinate: %v", err)
	}
	return coordinate, nil
}

func (r *Restorer) statusInstance(source topology.Instance, logger logr.Logger) topology.Instance {
	replicaSet, err := r.topology.ReplicaSet(source)
	if err != nil {
		logger.V(1).Info("Unable to resolve replica set. Logging restore status on the source", "err", err)
		return source
	}
	primary, err := r.topology.Primary(replicaSet)
	if err != nil {
		logger.V(1).Info("Unable to resolve primary. Logging restore status on the source", "err", err)
		return source
	}
	return primary
}

func (r *Restorer) startParams(req RestoreRequest, object backup.Object) restorestatus.StartParams {
	params := restorestatus.StartParams{
		RestoreSource:      ptr.To(req.Source.String()),
		RestoreType:        restoreType(object.Location),
		TestRestore:        restorestatus.TestRestoreNormal,
		RestoreDestination: ptr.To(req.Destination.Hostname),
		RestoreDate:        ptr.To(req.Date),
		RestorePort:        ptr.To(req.Destination.Port),
		RestoreFile:        ptr.To(object.Key),
		Replication:        ptr.To(restorestatus.PhaseSkip),
		Zookeeper:          ptr.To(restorestatus.PhaseSkip),
	}
	if req.Test {
		params.TestRestore = restorestatus.TestRestoreTest
	}
	if req.StartReplication {
		params.Replication = ptr.To(restorestatus.PhaseReq)
	}
	return params
}

func (r *Restorer) startReplication(ctx context.Context, req RestoreRequest, coordinate binlog.Coordinate,
	logger logr.Logger) restorestatus.PhaseStatus {
	if r.opts.Replication == nil {
		logger.Info("Replication not configured. Skipping")
		return restorestatus.PhaseFail
	}
	if err := r.startInstance(ctx); err != nil {
		logger.Error(err, "Error starting instance")
		return restorestatus.PhaseFail
	}
	replicaSet, err := r.topology.ReplicaSet(req.Source)
	if err != nil {
		logger.Error(err, "Error getting replica set")
		return restorestatus.PhaseFail
	}
	primary, err := r.topology.Primary(replicaSet)
	if err != nil {
		logger.Error(err, "Error getting primary")
		return restorestatus.PhaseFail
	}
	if err := r.opts.Replication.ConfigureReplication(ctx, req.Destination, primary, coordinate); err != nil {
		logger.Error(err, "Error starting replication", "primary", primary.String())
		return restorestatus.PhaseFail
	}
	logger.Info("Replication started", "primary", primary.String())
	return restorestatus.PhaseOK
}

func (r *Restorer) startInstance(ctx context.Context) error {
	if len(r.opts.StartCommand) == 0 {
		return nil
	}
	stage, err := pipeline.NewCommandStage(command.NewCommand(r.opts.StartCommand[:1], r.opts.StartCommand[1:]))
	if err != nil {
		return err
	}
	r.logger.Info("Starting instance", "command", strings.Join(r.opts.StartCommand, " "))
	return r.executor.Run(ctx, []pipeline.Stage{stage})
}

func restoreType(location string) restorestatus.RestoreType {
	if strings.HasPrefix(location, "file://") {
		return restorestatus.RestoreTypeLocalFile
	}
	return restorestatus.RestoreTypeObjectStore
}
