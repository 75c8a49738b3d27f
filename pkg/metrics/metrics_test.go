package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mysqlops/mysqlbackup/pkg/pipeline"
	"github.com/mysqlops/mysqlbackup/pkg/restorestatus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"
)

var _ pipeline.Metrics = &Recorder{}

func TestWriteToTextfile(t *testing.T) {
	recorder := NewRecorder()
	recorder.ObserveRun("mysqldump|pv|pigz|s3-upload", 3*time.Second, nil)
	recorder.ObserveRun("mysqldump|pv|pigz|s3-upload", time.Second, errors.New("boom"))
	recorder.StageFailed("mysqldump|pv|pigz|s3-upload", "pigz")
	recorder.SetRestoreAge(restorestatus.Age{ReplicaSet: "testmodsharddb-1", Days: ptr.To(3)})
	recorder.SetRestoreAge(restorestatus.Age{ReplicaSet: "testmodsharddb-2"})

	path := filepath.Join(t.TempDir(), "mysqlbackup.prom")
	require.NoError(t, recorder.WriteToTextfile(path))

	bytes, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(bytes)

	wantLines := []string{
		`mysqlbackup_pipeline_run_duration_seconds_count{pipeline="mysqldump|pv|pigz|s3-upload",result="success"} 1`,
		`mysqlbackup_pipeline_run_duration_seconds_count{pipeline="mysqldump|pv|pigz|s3-upload",result="failure"} 1`,
		`mysqlbackup_pipeline_stage_failures_total{pipeline="mysqldump|pv|pigz|s3-upload",stage="pigz"} 1`,
		`mysqlbackup_restore_age_days{replica_set="testmodsharddb-1"} 3`,
		`mysqlbackup_restore_found{replica_set="testmodsharddb-1"} 1`,
		`mysqlbackup_restore_found{replica_set="testmodsharddb-2"} 0`,
	}
	for _, line := range wantLines {
		assert.Contains(t, content, line)
	}
	assert.NotContains(t, content, `mysqlbackup_restore_age_days{replica_set="testmodsharddb-2"}`)
}

func TestWriteToTextfileNoPath(t *testing.T) {
	if err := NewRecorder().WriteToTextfile(""); err == nil {
		t.Fatal("expect error to have occurred, got nil")
	}
}
