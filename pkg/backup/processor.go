package backup

import (
	"errors"
	"sort"
	"time"

	"github.com/go-logr/logr"
)

type backupDiff struct {
	object Object
	diff   time.Duration
}

// MostRecent returns the object whose key embeds the latest timestamp.
func MostRecent(objects []Object, logger logr.Logger) (Object, error) {
	var (
		latest     Object
		latestTime time.Time
		found      bool
	)
	for _, o := range objects {
		t, err := parseKeyTimestamp(o.Key)
		if err != nil {
			logger.Error(err, "error parsing backup date. Skipping", "key", o.Key)
			continue
		}
		if !found || t.After(latestTime) {
			latest, latestTime, found = o, t, true
		}
	}
	if !found {
		return Object{}, errors.New("no valid backup keys were found")
	}
	return latest, nil
}

// Closest returns the object whose key timestamp is the closest to the target time.
func Closest(objects []Object, target time.Time, logger logr.Logger) (Object, error) {
	var backupDiffs []backupDiff
	for _, o := range objects {
		t, err := parseKeyTimestamp(o.Key)
		if err != nil {
			logger.Error(err, "error parsing backup date. Skipping", "key", o.Key)
			continue
		}
		diff := t.Sub(target).Abs()
		if diff == 0 {
			return o, nil
		}
		backupDiffs = append(backupDiffs, backupDiff{
			object: o,
			diff:   diff,
		})
	}
	if len(backupDiffs) == 0 {
		return Object{}, errors.New("no valid backup keys were found")
	}

	sort.SliceStable(backupDiffs, func(i, j int) bool {
		return backupDiffs[i].diff < backupDiffs[j].diff
	})
	return backupDiffs[0].object, nil
}
