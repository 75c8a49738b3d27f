package restorestatus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mysqlops/mysqlbackup/pkg/topology"
)

var errFake = errors.New("fake error")

type fakeStore struct {
	mux            sync.Mutex
	records        map[RestoreID]*Record
	nextID         RestoreID
	files          []string
	ensureTableErr error
	insertErr      error
	updateErr      error
	recentErr      error
	limit          int
	closed         int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[RestoreID]*Record),
		nextID:  1,
	}
}

func (f *fakeStore) EnsureTable(ctx context.Context) error {
	return f.ensureTableErr
}

func (f *fakeStore) Insert(ctx context.Context, params StartParams) (RestoreID, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	if f.insertErr != nil {
		return NoRestoreID, f.insertErr
	}
	id := f.nextID
	f.nextID++
	record := &Record{
		ID:                 id,
		RestoreSource:      params.RestoreSource,
		RestoreType:        params.RestoreType,
		TestRestore:        params.TestRestore,
		RestoreDestination: params.RestoreDestination,
		RestoreDate:        params.RestoreDate,
		RestorePort:        3306,
		RestoreFile:        params.RestoreFile,
		Replication:        params.Replication,
		Zookeeper:          params.Zookeeper,
		StartedAt:          time.Now(),
		Status:             StatusInProgress,
	}
	if params.RestorePort != nil {
		record.RestorePort = *params.RestorePort
	}
	f.records[id] = record
	return id, nil
}

func (f *fakeStore) Update(ctx context.Context, id RestoreID, params UpdateParams) error {
	f.mux.Lock()
	defer f.mux.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	record, ok := f.records[id]
	if !ok {
		return nil
	}
	if params.finished() {
		finishedAt := time.Now()
		record.FinishedAt = &finishedAt
	}
	if params.Status != nil {
		record.Status = *params.Status
	}
	if params.StatusMessage != nil {
		record.StatusMessage = params.StatusMessage
	}
	if params.Replication != nil {
		record.Replication = params.Replication
	}
	if params.Zookeeper != nil {
		record.Zookeeper = params.Zookeeper
	}
	return nil
}

func (f *fakeStore) RecentRestoreFiles(ctx context.Context, limit int) ([]string, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.limit = limit
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	if len(f.files) > limit {
		return f.files[:limit], nil
	}
	return f.files, nil
}

func (f *fakeStore) Close() error {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.closed++
	return nil
}

type fakeConnector struct {
	mux      sync.Mutex
	stores   map[topology.Instance]*fakeStore
	err      error
	connects int
}

func (f *fakeConnector) Connect(ctx context.Context, instance topology.Instance) (Store, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.connects++
	if f.err != nil {
		return nil, f.err
	}
	store, ok := f.stores[instance]
	if !ok {
		return nil, errFake
	}
	return store, nil
}
