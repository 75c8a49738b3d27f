package backup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/mysqlops/mysqlbackup/pkg/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	location string
	objects  []Object
	err      error
	prefixes []string
}

func (f *fakeLister) Location() string {
	return f.location
}

func (f *fakeLister) ListObjects(ctx context.Context, prefix string) ([]Object, error) {
	f.prefixes = append(f.prefixes, prefix)
	if f.err != nil {
		return nil, f.err
	}
	var objects []Object
	for _, o := range f.objects {
		if strings.HasPrefix(o.Key, prefix) {
			o.Location = f.location
			objects = append(objects, o)
		}
	}
	return objects, nil
}

type fakeResolver struct {
	replicaSet string
	err        error
}

func (f *fakeResolver) ReplicaSet(topology.Instance) (string, error) {
	return f.replicaSet, f.err
}

func (f *fakeResolver) RetentionPolicy(topology.Instance) string {
	return "standard"
}

var (
	testInstance = topology.Instance{Hostname: "testmodsharddb-1-79", Port: 3306}
	testDate     = time.Date(2016, 5, 18, 0, 0, 0, 0, time.UTC)
)

const (
	rsKey      = "xtrabackup/standard/testmodsharddb-1/testmodsharddb-1-79-3306-2016-05-18-22:34:39.xbstream"
	initialKey = "xtrabackup/initial_build/testmodsharddb-1-79-3306-2016-05-18-01:00:00.xbstream"
)

func TestLocatorThreshold(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		wantKeys []string
	}{
		{
			name: "exactly at threshold",
			size: MinimumValidBackupSize,
		},
		{
			name:     "one byte over threshold",
			size:     MinimumValidBackupSize + 1,
			wantKeys: []string{rsKey},
		},
		{
			name: "empty object",
			size: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := &fakeLister{
				location: "s3://backups",
				objects:  []Object{{Key: rsKey, Size: tt.size}},
			}
			resolver := &fakeResolver{replicaSet: "testmodsharddb-1"}
			locator, err := NewLocator([]ObjectLister{lister}, resolver, resolver, logr.Discard())
			require.NoError(t, err)

			objects, err := locator.FindCandidates(context.Background(), testInstance, testDate, KindPhysical)
			if len(tt.wantKeys) == 0 {
				var noBackupErr *NoBackupError
				require.ErrorAs(t, err, &noBackupErr)
				assert.Equal(t, testInstance, noBackupErr.Instance)
				return
			}
			require.NoError(t, err)
			var keys []string
			for _, o := range objects {
				keys = append(keys, o.Key)
			}
			if diff := cmp.Diff(tt.wantKeys, keys); diff != "" {
				t.Errorf("unexpected keys (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLocatorPrefixesAndLocations(t *testing.T) {
	primary := &fakeLister{
		location: "s3://backups",
		objects: []Object{
			{Key: rsKey, Size: 10 * MinimumValidBackupSize},
			{Key: "xtrabackup/standard/testmodsharddb-1/testmodsharddb-1-79-3306-2016-05-17-22:00:00.xbstream",
				Size: 10 * MinimumValidBackupSize},
		},
	}
	secondary := &fakeLister{
		location: "s3://backups-dr",
		objects: []Object{
			{Key: initialKey, Size: 2 * MinimumValidBackupSize},
		},
	}
	resolver := &fakeResolver{replicaSet: "testmodsharddb-1"}
	locator, err := NewLocator([]ObjectLister{primary, secondary}, resolver, resolver, logr.Discard())
	require.NoError(t, err)

	objects, err := locator.FindCandidates(context.Background(), testInstance, testDate, KindPhysical)
	require.NoError(t, err)

	wantPrefixes := []string{
		"xtrabackup/standard/testmodsharddb-1/testmodsharddb-1-79-3306-2016-05-18",
		"xtrabackup/initial_build/testmodsharddb-1-79-3306-2016-05-18",
	}
	assert.Equal(t, wantPrefixes, primary.prefixes)
	assert.Equal(t, wantPrefixes, secondary.prefixes)

	wantObjects := []Object{
		{Location: "s3://backups", Key: rsKey, Size: 10 * MinimumValidBackupSize},
		{Location: "s3://backups-dr", Key: initialKey, Size: 2 * MinimumValidBackupSize},
	}
	if diff := cmp.Diff(wantObjects, objects); diff != "" {
		t.Errorf("unexpected objects (-want +got):\n%s", diff)
	}
}

func TestLocatorUnresolvedReplicaSet(t *testing.T) {
	lister := &fakeLister{
		location: "s3://backups",
		objects: []Object{
			{Key: rsKey, Size: 10 * MinimumValidBackupSize},
			{Key: initialKey, Size: 10 * MinimumValidBackupSize},
		},
	}
	resolver := &fakeResolver{err: topology.ErrNotInReplicaSet}
	locator, err := NewLocator([]ObjectLister{lister}, resolver, resolver, logr.Discard())
	require.NoError(t, err)

	objects, err := locator.FindCandidates(context.Background(), testInstance, testDate, KindPhysical)
	require.NoError(t, err)

	assert.Equal(t, []string{"xtrabackup/initial_build/testmodsharddb-1-79-3306-2016-05-18"}, lister.prefixes)
	require.Len(t, objects, 1)
	assert.Equal(t, initialKey, objects[0].Key)
}

func TestLocatorErrors(t *testing.T) {
	resolver := &fakeResolver{replicaSet: "testmodsharddb-1"}

	_, err := NewLocator(nil, resolver, resolver, logr.Discard())
	assert.Error(t, err)

	lister := &fakeLister{location: "s3://backups", err: errors.New("access denied")}
	locator, err := NewLocator([]ObjectLister{lister}, resolver, resolver, logr.Discard())
	require.NoError(t, err)

	_, err = locator.FindCandidates(context.Background(), testInstance, testDate, KindPhysical)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoBackupFound))

	_, err = locator.FindCandidates(context.Background(), testInstance, testDate, Kind("csv"))
	assert.ErrorIs(t, err, ErrUnsupportedKind)

	empty := &fakeLister{location: "s3://backups"}
	locator, err = NewLocator([]ObjectLister{empty}, resolver, resolver, logr.Discard())
	require.NoError(t, err)
	_, err = locator.FindCandidates(context.Background(), testInstance, testDate, KindLogical)
	assert.ErrorIs(t, err, ErrNoBackupFound)
	assert.Contains(t, err.Error(), "testmodsharddb-1-79:3306")
}
