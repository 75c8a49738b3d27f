package backupjob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mysqlops/mysqlbackup/pkg/binlog"
	"github.com/mysqlops/mysqlbackup/pkg/command"
	"github.com/mysqlops/mysqlbackup/pkg/environment"
	"github.com/mysqlops/mysqlbackup/pkg/pipeline"
	"github.com/mysqlops/mysqlbackup/pkg/restorestatus"
	"github.com/mysqlops/mysqlbackup/pkg/topology"
	"github.com/stretchr/testify/require"
)

var (
	testPrimary  = topology.Instance{Hostname: "db-0", Port: 3306}
	testInstance = topology.Instance{Hostname: "db-1", Port: 3306}
	testTopology = &topology.Static{
		ReplicaSets: []topology.ReplicaSet{
			{
				Name:     "rs1",
				Primary:  testPrimary,
				Replicas: []topology.Instance{testInstance},
			},
		},
	}
)

const catScript = "#!/bin/sh\nexec cat\n"

// writeTools writes fake tools into a temporary directory. Tools without a script exit successfully.
func writeTools(t *testing.T, scripts map[string]string) command.Tools {
	t.Helper()
	dir := t.TempDir()
	write := func(name string) string {
		script, ok := scripts[name]
		if !ok {
			script = "#!/bin/sh\nexit 0\n"
		}
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(script), 0755))
		return path
	}
	return command.Tools{
		Mysqldump:    write("mysqldump"),
		Innobackupex: write("innobackupex"),
		Xbstream:     write("xbstream"),
		Pigz:         write("pigz"),
		Pv:           write("pv"),
		S3Transfer:   write("gof3r"),
	}
}

type fakeCredentials struct{}

func (fakeCredentials) Credentials(role environment.Role) (environment.Credentials, error) {
	return environment.Credentials{User: string(role), Password: "secret"}, nil
}

type bufferUploader struct {
	mux  sync.Mutex
	buf  bytes.Buffer
	keys []string
}

func (u *bufferUploader) Location() string {
	return "s3://backups"
}

func (u *bufferUploader) UploadStage(key string) (pipeline.Stage, error) {
	u.mux.Lock()
	u.keys = append(u.keys, key)
	u.mux.Unlock()
	return pipeline.NewFuncStage("s3-upload", func(ctx context.Context, stdin io.Reader, _ io.Writer) error {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return err
		}
		u.mux.Lock()
		defer u.mux.Unlock()
		u.buf.Write(data)
		return nil
	}), nil
}

func (u *bufferUploader) String() string {
	u.mux.Lock()
	defer u.mux.Unlock()
	return u.buf.String()
}

type fakeStore struct {
	mux     sync.Mutex
	records map[restorestatus.RestoreID]*restorestatus.Record
}

func (f *fakeStore) EnsureTable(ctx context.Context) error {
	return nil
}

func (f *fakeStore) Insert(ctx context.Context, params restorestatus.StartParams) (restorestatus.RestoreID, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	id := restorestatus.RestoreID(len(f.records) + 1)
	f.records[id] = &restorestatus.Record{
		ID:            id,
		RestoreSource: params.RestoreSource,
		RestoreType:   params.RestoreType,
		TestRestore:   params.TestRestore,
		RestoreFile:   params.RestoreFile,
		Replication:   params.Replication,
		Zookeeper:     params.Zookeeper,
		Status:        restorestatus.StatusInProgress,
	}
	return id, nil
}

func (f *fakeStore) Update(ctx context.Context, id restorestatus.RestoreID, params restorestatus.UpdateParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mux.Lock()
	defer f.mux.Unlock()
	record, ok := f.records[id]
	if !ok {
		return errors.New("record not found")
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
	return nil
}

func (f *fakeStore) RecentRestoreFiles(ctx context.Context, limit int) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) Close() error {
	return nil
}

type fakeConnector struct {
	store     *fakeStore
	instances []topology.Instance
}

func (f *fakeConnector) Connect(ctx context.Context, instance topology.Instance) (restorestatus.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.instances = append(f.instances, instance)
	return f.store, nil
}

type fakeReplication struct {
	err        error
	primary    topology.Instance
	coordinate binlog.Coordinate
}

func (f *fakeReplication) ConfigureReplication(ctx context.Context, instance, primary topology.Instance,
	coordinate binlog.Coordinate) error {
	f.primary = primary
	f.coordinate = coordinate
	return f.err
}
