package restorestatus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/mysqlops/mysqlbackup/pkg/backup"
	mbtime "github.com/mysqlops/mysqlbackup/pkg/time"
	"github.com/mysqlops/mysqlbackup/pkg/topology"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/ptr"
)

// RecentRestoresWindow is the number of successful restores inspected to compute the age of the last restore.
// The most recently finished restore does not always use the newest backup.
const RecentRestoresWindow = 10

type TrackerOpts struct {
	PrimaryResolver topology.PrimaryResolver
	Now             func() time.Time
}

type TrackerOpt func(*TrackerOpts)

func WithPrimaryResolver(resolver topology.PrimaryResolver) TrackerOpt {
	return func(to *TrackerOpts) {
		to.PrimaryResolver = resolver
	}
}

func WithNow(now func() time.Time) TrackerOpt {
	return func(to *TrackerOpts) {
		to.Now = now
	}
}

// Tracker records the lifecycle of restores in the status table of a control instance.
// Tracking is best effort: failures are logged and never returned.
type Tracker struct {
	opts      TrackerOpts
	connector Connector
	logger    logr.Logger
}

func NewTracker(connector Connector, logger logr.Logger, trackerOpts ...TrackerOpt) *Tracker {
	opts := TrackerOpts{
		Now: time.Now,
	}
	for _, setOpt := range trackerOpts {
		setOpt(&opts)
	}
	return &Tracker{
		opts:      opts,
		connector: connector,
		logger:    logger.WithName("restore-status"),
	}
}

// Start records a restore in progress and returns its id, or NoRestoreID when it could not be recorded.
func (t *Tracker) Start(ctx context.Context, instance topology.Instance, params StartParams) RestoreID {
	logger := t.logger.WithValues("instance", instance.String())

	store, err := t.connector.Connect(ctx, instance)
	if err != nil {
		logger.Info("Unable to connect to log restore progress. Continuing with restore anyway", "err", err)
		return NoRestoreID
	}
	defer t.close(store, logger)

	if err := store.EnsureTable(ctx); err != nil {
		logger.Error(err, "Unable to create restore status table. Continuing anyway")
	}
	id, err := store.Insert(ctx, params)
	if err != nil {
		logger.Error(err, "Unable to log restore status")
		return NoRestoreID
	}
	logger.Info("Restore status logged", "id", id)
	return id
}

// Update changes the fields set in params. It is a no-op when id is NoRestoreID.
func (t *Tracker) Update(ctx context.Context, instance topology.Instance, id RestoreID, params UpdateParams) {
	logger := t.logger.WithValues("instance", instance.String(), "id", id)
	if !id.Tracked() {
		logger.V(1).Info("Restore is not tracked. Skipping status update")
		return
	}
	if params.empty() {
		logger.V(1).Info("Nothing to update")
		return
	}

	store, err := t.connector.Connect(ctx, instance)
	if err != nil {
		logger.Info("Unable to connect to log restore progress. Continuing with restore anyway", "err", err)
		return
	}
	defer t.close(store, logger)

	if err := store.Update(ctx, id, params); err != nil {
		logger.Error(err, "Unable to update restore status")
		return
	}
	logger.V(1).Info("Restore status updated")
}

// AgeOfLastRestore returns the age of the newest backup among the last successful restores of a replica set.
func (t *Tracker) AgeOfLastRestore(ctx context.Context, replicaSet string) (Age, error) {
	if t.opts.PrimaryResolver == nil {
		return Age{}, errors.New("primary resolver not configured")
	}
	primary, err := t.opts.PrimaryResolver.Primary(replicaSet)
	if err != nil {
		return Age{}, fmt.Errorf("error getting primary of replica set %s: %v", replicaSet, err)
	}
	store, err := t.connector.Connect(ctx, primary)
	if err != nil {
		return Age{}, fmt.Errorf("error connecting to primary %s: %v", primary, err)
	}
	logger := t.logger.WithValues("replica-set", replicaSet, "primary", primary.String())
	defer t.close(store, logger)

	files, err := store.RecentRestoreFiles(ctx, RecentRestoresWindow)
	if err != nil {
		return Age{}, fmt.Errorf("error getting recent restores: %v", err)
	}

	age := Age{ReplicaSet: replicaSet}
	now := t.opts.Now()
	for _, file := range files {
		_, created, err := backup.ParseKeyMetadata(file)
		if err != nil {
			logger.Error(err, "Error parsing restore file. Skipping", "file", file)
			continue
		}
		days := mbtime.DaysSince(created, now)
		if age.Days == nil || days < *age.Days {
			age.Days = ptr.To(days)
		}
	}
	return age, nil
}

// Ages computes the age of the last restore of every replica set concurrently.
// Replica sets whose age could not be computed are logged and left out of the result.
func (t *Tracker) Ages(ctx context.Context, replicaSets []string, concurrency int) (map[string]Age, error) {
	var (
		mux  sync.Mutex
		ages = make(map[string]Age, len(replicaSets))
	)
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	for _, rs := range replicaSets {
		g.Go(func() error {
			age, err := t.AgeOfLastRestore(gctx, rs)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				t.logger.Error(err, "Error getting age of last restore", "replica-set", rs)
				return nil
			}
			mux.Lock()
			ages[rs] = age
			mux.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ages, nil
}

func (t *Tracker) close(store Store, logger logr.Logger) {
	if err := store.Close(); err != nil {
		logger.V(1).Info("Error closing status store", "err", err)
	}
}
