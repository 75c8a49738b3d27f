package backupjob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/mysqlops/mysqlbackup/pkg/backup"
	"github.com/mysqlops/mysqlbackup/pkg/command"
	"github.com/mysqlops/mysqlbackup/pkg/pipeline"
	"github.com/mysqlops/mysqlbackup/pkg/topology"
	"github.com/mysqlops/mysqlbackup/pkg/verifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTimestamp = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestBackuper(t *testing.T, tools command.Tools, uploader Uploader, opts ...BackuperOpt) *Backuper {
	t.Helper()
	builder, err := command.NewBuilder(tools)
	require.NoError(t, err)
	executor, err := pipeline.NewExecutor(logr.Discard(), pipeline.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	backuper, err := NewBackuper(builder, executor, uploader, testTopology, fakeCredentials{}, logr.Discard(),
		append([]BackuperOpt{WithOpenFilesLimit(0)}, opts...)...)
	require.NoError(t, err)
	return backuper
}

func TestLogical(t *testing.T) {
	tests := []struct {
		name         string
		mysqldump    string
		initialBuild bool
		wantKey      string
		wantData     string
		wantStage    string
	}{
		{
			name:      "replica set backup",
			mysqldump: "#!/bin/sh\necho \"-- dump\"\n",
			wantKey:   "mysqldump/standard/rs1/db-1-3306-2024-01-02-03:04:05.sql.gz",
			wantData:  "-- dump\n",
		},
		{
			name:         "initial build",
			mysqldump:    "#!/bin/sh\necho \"-- dump\"\n",
			initialBuild: true,
			wantKey:      "mysqldump/initial_build/db-1-3306-2024-01-02-03:04:05.sql.gz",
			wantData:     "-- dump\n",
		},
		{
			name:      "dump failure",
			mysqldump: "#!/bin/sh\necho \"access denied\" >&2\nexit 2\n",
			wantStage: "mysqldump",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tools := writeTools(t, map[string]string{
				"mysqldump": tt.mysqldump,
				"pv":        catScript,
				"pigz":      catScript,
			})
			uploader := &bufferUploader{}
			backuper := newTestBackuper(t, tools, uploader)

			key, err := backuper.Logical(context.Background(), testInstance, testTimestamp, tt.initialBuild)
			if tt.wantStage != "" {
				if err == nil {
					t.Fatal("expect error to have occurred, got nil")
				}
				var stageErr *pipeline.StageError
				require.True(t, errors.As(err, &stageErr))
				assert.Equal(t, tt.wantStage, stageErr.Stage)
				assert.Contains(t, stageErr.Diagnostics, "access denied")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, []string{tt.wantKey}, uploader.keys)
			assert.Equal(t, tt.wantData, uploader.String())
		})
	}
}

func TestLogicalNotInReplicaSet(t *testing.T) {
	backuper := newTestBackuper(t, writeTools(t, nil), &bufferUploader{})

	unknown := topology.Instance{Hostname: "db-9", Port: 3306}
	_, err := backuper.Logical(context.Background(), unknown, testTimestamp, false)
	if err == nil {
		t.Fatal("expect error to have occurred, got nil")
	}
}

func TestPhysical(t *testing.T) {
	tests := []struct {
		name             string
		innobackupex     string
		wantVerification bool
	}{
		{
			name:         "success",
			innobackupex: "#!/bin/sh\necho \"xbstream data\"\necho \"240102 03:04:05 completed OK!\" >&2\n",
		},
		{
			name:             "log without success marker",
			innobackupex:     "#!/bin/sh\necho \"xbstream data\"\necho \"240102 03:04:05 error: lost connection\" >&2\n",
			wantVerification: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tools := writeTools(t, map[string]string{
				"innobackupex": tt.innobackupex,
				"pv":           catScript,
			})
			logDir := filepath.Join(t.TempDir(), "log")
			uploader := &bufferUploader{}
			backuper := newTestBackuper(t, tools, uploader, WithLogDir(logDir), WithDataDir(t.TempDir()))

			key, err := backuper.Backup(context.Background(), backup.KindPhysical, testInstance, testTimestamp, false)
			logPath := filepath.Join(logDir, "xtrabackup_2024-01-02-03:04:05.log")
			require.FileExists(t, logPath)

			if tt.wantVerification {
				if err == nil {
					t.Fatal("expect error to have occurred, got nil")
				}
				assert.True(t, errors.Is(err, verifier.ErrVerificationFailed))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "xtrabackup/standard/rs1/db-1-3306-2024-01-02-03:04:05.xbstream", key)
			assert.Equal(t, "xbstream data\n", uploader.String())

			logContent, err := os.ReadFile(logPath)
			require.NoError(t, err)
			assert.True(t, strings.Contains(string(logContent), verifier.SuccessMarker))
		})
	}
}

func TestBackupUnsupportedKind(t *testing.T) {
	backuper := newTestBackuper(t, writeTools(t, nil), &bufferUploader{})

	_, err := backuper.Backup(context.Background(), backup.Kind("csv"), testInstance, testTimestamp, false)
	if err == nil {
		t.Fatal("expect error to have occurred, got nil")
	}
	assert.True(t, errors.Is(err, backup.ErrUnsupportedKind))
}
