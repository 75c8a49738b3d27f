package backup

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mysqlops/mysqlbackup/pkg/topology"
)

var testTimestamp = time.Date(2016, 5, 18, 22, 34, 39, 0, time.UTC)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		name       string
		descriptor Descriptor
		wantKey    string
		wantErr    error
	}{
		{
			name: "physical",
			descriptor: Descriptor{
				Kind:            KindPhysical,
				RetentionPolicy: "standard",
				ReplicaSet:      "testmodsharddb-1",
				Instance:        topology.Instance{Hostname: "testmodsharddb-1-79", Port: 3306},
				Timestamp:       testTimestamp,
			},
			wantKey: "xtrabackup/standard/testmodsharddb-1/testmodsharddb-1-79-3306-2016-05-18-22:34:39.xbstream",
		},
		{
			name: "logical",
			descriptor: Descriptor{
				Kind:            KindLogical,
				RetentionPolicy: "long",
				ReplicaSet:      "sharddb-3",
				Instance:        topology.Instance{Hostname: "sharddb-3-1", Port: 3307},
				Timestamp:       testTimestamp,
			},
			wantKey: "mysqldump/long/sharddb-3/sharddb-3-1-3307-2016-05-18-22:34:39.sql.gz",
		},
		{
			name: "initial build ignores replica set",
			descriptor: Descriptor{
				Kind:            KindPhysical,
				RetentionPolicy: "standard",
				ReplicaSet:      "testmodsharddb-1",
				Instance:        topology.Instance{Hostname: "testmodsharddb-1-79", Port: 3306},
				Timestamp:       testTimestamp,
				InitialBuild:    true,
			},
			wantKey: "xtrabackup/initial_build/testmodsharddb-1-79-3306-2016-05-18-22:34:39.xbstream",
		},
		{
			name: "unsupported kind",
			descriptor: Descriptor{
				Kind:      Kind("csv"),
				Instance:  topology.Instance{Hostname: "db-1", Port: 3306},
				Timestamp: testTimestamp,
			},
			wantErr: ErrUnsupportedKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ObjectKey(tt.descriptor)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected error %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if key != tt.wantKey {
				t.Errorf("unexpected key, expected: %s got: %s", tt.wantKey, key)
			}
		})
	}
}

func TestSearchPrefix(t *testing.T) {
	d := Descriptor{
		Kind:            KindPhysical,
		RetentionPolicy: "standard",
		ReplicaSet:      "testmodsharddb-1",
		Instance:        topology.Instance{Hostname: "testmodsharddb-1-79", Port: 3306},
	}
	date := time.Date(2016, 5, 18, 0, 0, 0, 0, time.UTC)

	prefix, err := SearchPrefix(d, date)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "xtrabackup/standard/testmodsharddb-1/testmodsharddb-1-79-3306-2016-05-18"; prefix != want {
		t.Errorf("unexpected prefix, expected: %s got: %s", want, prefix)
	}

	d.InitialBuild = true
	prefix, err = SearchPrefix(d, date)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "xtrabackup/initial_build/testmodsharddb-1-79-3306-2016-05-18"; prefix != want {
		t.Errorf("unexpected prefix, expected: %s got: %s", want, prefix)
	}

	d.Kind = Kind("csv")
	if _, err := SearchPrefix(d, date); !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("expected unsupported kind error, got %v", err)
	}
}

func TestObjectKeyRoundTrip(t *testing.T) {
	instances := []topology.Instance{
		{Hostname: "testmodsharddb-1-79", Port: 3306},
		{Hostname: "db", Port: 3309},
		{Hostname: "sharddb-10-2", Port: 3301},
	}
	timestamps := []time.Time{
		testTimestamp,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC),
	}

	for _, kind := range []Kind{KindLogical, KindPhysical} {
		for _, initialBuild := range []bool{false, true} {
			for _, instance := range instances {
				for _, ts := range timestamps {
					d := Descriptor{
						Kind:            kind,
						RetentionPolicy: "standard",
						ReplicaSet:      "rs-1",
						Instance:        instance,
						Timestamp:       ts,
						InitialBuild:    initialBuild,
					}
					key, err := ObjectKey(d)
					if err != nil {
						t.Fatalf("unexpected error building key: %v", err)
					}
					again, err := ObjectKey(d)
					if err != nil || again != key {
						t.Fatalf("expected key to be deterministic, got %s and %s (%v)", key, again, err)
					}

					gotInstance, gotDate, err := ParseKeyMetadata(key)
					if err != nil {
						t.Fatalf("unexpected error parsing key %s: %v", key, err)
					}
					if diff := cmp.Diff(instance, gotInstance); diff != "" {
						t.Errorf("unexpected instance for %s (-want +got):\n%s", key, diff)
					}
					wantDate := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
					if !gotDate.Equal(wantDate) {
						t.Errorf("unexpected date for %s, expected: %v got: %v", key, wantDate, gotDate)
					}
				}
			}
		}
	}
}

func TestParseKeyMetadata(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		wantInstance topology.Instance
		wantDate     time.Time
		wantErr      bool
	}{
		{
			name:         "full path",
			key:          "xtrabackup/standard/testmodsharddb-1/testmodsharddb-1-79-3306-2016-05-18-22:34:39.xbstream",
			wantInstance: topology.Instance{Hostname: "testmodsharddb-1-79", Port: 3306},
			wantDate:     time.Date(2016, 5, 18, 0, 0, 0, 0, time.UTC),
		},
		{
			name:         "file name",
			key:          "db-2-3308-2020-02-29-01:00:00.sql.gz",
			wantInstance: topology.Instance{Hostname: "db-2", Port: 3308},
			wantDate:     time.Date(2020, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "port outside 330X",
			key:     "xtrabackup/initial_build/db-1-3310-2016-05-18-22:34:39.xbstream",
			wantErr: true,
		},
		{
			name:    "uppercase hostname",
			key:     "xtrabackup/initial_build/DB-3306-2016-05-18-22:34:39.xbstream",
			wantErr: true,
		},
		{
			name:    "missing date",
			key:     "xtrabackup/initial_build/db-1-3306.xbstream",
			wantErr: true,
		},
		{
			name:    "invalid date",
			key:     "db-1-3306-2016-13-40-22:34:39.xbstream",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instance, date, err := ParseKeyMetadata(tt.key)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidKey) {
					t.Fatalf("expected invalid key error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantInstance, instance); diff != "" {
				t.Errorf("unexpected instance (-want +got):\n%s", diff)
			}
			if !date.Equal(tt.wantDate) {
				t.Errorf("unexpected date, expected: %v got: %v", tt.wantDate, date)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	if kind, err := ParseKind("xtrabackup"); err != nil || kind != KindPhysical {
		t.Errorf("unexpected kind %s: %v", kind, err)
	}
	if _, err := ParseKind("csv"); !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("expected unsupported kind error, got %v", err)
	}
}
