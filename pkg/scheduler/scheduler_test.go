package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddJob(t *testing.T) {
	noop := func(ctx context.Context) error { return nil }
	tests := []struct {
		name     string
		jobName  string
		schedule string
		fn       JobFunc
		wantErr  bool
	}{
		{
			name:     "daily",
			jobName:  "backup",
			schedule: "0 2 * * *",
			fn:       noop,
			wantErr:  false,
		},
		{
			name:     "descriptor",
			jobName:  "backup",
			schedule: "@hourly",
			fn:       noop,
			wantErr:  false,
		},
		{
			name:     "seconds are not supported",
			jobName:  "backup",
			schedule: "0 0 2 * * *",
			fn:       noop,
			wantErr:  true,
		},
		{
			name:     "invalid schedule",
			jobName:  "backup",
			schedule: "foo",
			fn:       noop,
			wantErr:  true,
		},
		{
			name:     "missing func",
			jobName:  "backup",
			schedule: "0 2 * * *",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(logr.Discard())
			err := s.AddJob(tt.jobName, tt.schedule, tt.fn)
			if tt.wantErr && err == nil {
				t.Fatal("expect error to have occurred, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRunNowHealth(t *testing.T) {
	s := NewScheduler(logr.Discard())
	fail := true
	require.NoError(t, s.AddJob("backup", "0 2 * * *", func(ctx context.Context) error {
		if fail {
			return errors.New("access denied")
		}
		return nil
	}))
	assert.NoError(t, s.Healthy())

	err := s.RunNow(context.Background(), "backup")
	require.Error(t, err)
	assert.ErrorContains(t, s.Healthy(), "job backup: access denied")

	fail = false
	require.NoError(t, s.RunNow(context.Background(), "backup"))
	assert.NoError(t, s.Healthy())

	if err := s.RunNow(context.Background(), "restore-age"); err == nil {
		t.Fatal("expect error to have occurred, got nil")
	}
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(logr.Discard())
	var runs atomic.Int32
	require.NoError(t, s.AddJob("backup", "@every 1m", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(0), runs.Load())
}
