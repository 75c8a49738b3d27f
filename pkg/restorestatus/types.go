package restorestatus

import (
	"time"
)

type RestoreType string

const (
	// RestoreTypeObjectStore is stored as "s3" for compatibility with existing rows.
	RestoreTypeObjectStore  RestoreType = "s3"
	RestoreTypeRemoteServer RestoreType = "remote_server"
	RestoreTypeLocalFile    RestoreType = "local_file"
)

type TestRestore string

const (
	TestRestoreNormal TestRestore = "normal"
	TestRestoreTest   TestRestore = "test"
)

// PhaseStatus tracks the optional phases that follow a restore.
type PhaseStatus string

const (
	PhaseSkip PhaseStatus = "SKIP"
	PhaseReq  PhaseStatus = "REQ"
	PhaseOK   PhaseStatus = "OK"
	PhaseFail PhaseStatus = "FAIL"
)

type Status string

const (
	StatusInProgress Status = "IPR"
	StatusOK         Status = "OK"
	StatusBad        Status = "BAD"
)

func (s Status) IsTerminal() bool {
	return s == StatusOK || s == StatusBad
}

// RestoreID identifies a restore row. NoRestoreID is returned when the restore could not be tracked.
type RestoreID int64

const NoRestoreID RestoreID = 0

func (id RestoreID) Tracked() bool {
	return id != NoRestoreID
}

// Record is a row of the restore status table.
type Record struct {
	ID                 RestoreID
	RestoreSource      *string
	RestoreType        RestoreType
	TestRestore        TestRestore
	RestoreDestination *string
	RestoreDate        *time.Time
	RestorePort        int
	RestoreFile        *string
	Replication        *PhaseStatus
	Zookeeper          *PhaseStatus
	StartedAt          time.Time
	FinishedAt         *time.Time
	Status             Status
	StatusMessage      *string
}

// StartParams are the fields recorded when a restore starts. Nil fields are left unset.
type StartParams struct {
	RestoreSource      *string
	RestoreType        RestoreType
	TestRestore        TestRestore
	RestoreDestination *string
	RestoreDate        *time.Time
	RestorePort        *int
	RestoreFile        *string
	Replication        *PhaseStatus
	Zookeeper          *PhaseStatus
}

// UpdateParams are the fields changed by an update. Nil fields are left untouched.
// FinishedAt is set to the current time when Finished is set or Status is terminal.
type UpdateParams struct {
	Finished      bool
	Status        *Status
	StatusMessage *string
	Replication   *PhaseStatus
	Zookeeper     *PhaseStatus
}

func (p UpdateParams) finished() bool {
	return p.Finished || (p.Status != nil && p.Status.IsTerminal())
}

func (p UpdateParams) empty() bool {
	return !p.finished() && p.Status == nil && p.StatusMessage == nil && p.Replication == nil && p.Zookeeper == nil
}

// Age is the age in days of the newest backup restored successfully in a replica set.
// Days is nil when the replica set has no successful restore.
type Age struct {
	Days       *int
	ReplicaSet string
}
