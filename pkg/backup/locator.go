package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/mysqlops/mysqlbackup/pkg/topology"
)

var ErrNoBackupFound = errors.New("unable to find a valid backup")

type NoBackupError struct {
	Instance topology.Instance
}

func (e *NoBackupError) Error() string {
	return fmt.Sprintf("%v for %s", ErrNoBackupFound, e.Instance)
}

func (e *NoBackupError) Is(target error) bool {
	return target == ErrNoBackupFound
}

// Locator finds the stored backups of an instance across storage locations.
type Locator struct {
	storages  []ObjectLister
	resolver  topology.ReplicaSetResolver
	retention topology.RetentionPolicyResolver
	logger    logr.Logger
}

func NewLocator(storages []ObjectLister, resolver topology.ReplicaSetResolver, retention topology.RetentionPolicyResolver,
	logger logr.Logger) (*Locator, error) {
	if len(storages) == 0 {
		return nil, errors.New("at least one storage location must be provided")
	}
	if resolver == nil || retention == nil {
		return nil, errors.New("replica set and retention policy resolvers must be provided")
	}
	return &Locator{
		storages:  storages,
		resolver:  resolver,
		retention: retention,
		logger:    logger.WithName("locator"),
	}, nil
}

// FindCandidates returns every backup of the instance taken on the given date that is bigger than
// MinimumValidBackupSize, looking under both the replica set and the initial build prefixes.
func (l *Locator) FindCandidates(ctx context.Context, instance topology.Instance, date time.Time,
	kind Kind) ([]Object, error) {
	prefixes, err := l.searchPrefixes(instance, date, kind)
	if err != nil {
		return nil, err
	}

	var candidates []Object
	for _, storage := range l.storages {
		for _, prefix := range prefixes {
			logger := l.logger.WithValues("location", storage.Location(), "prefix", prefix)
			logger.Info("Looking for backups")

			objects, err := storage.ListObjects(ctx, prefix)
			if err != nil {
				return nil, fmt.Errorf("error listing %s with prefix \"%s\": %v", storage.Location(), prefix, err)
			}
			for _, o := range objects {
				if o.Size <= MinimumValidBackupSize {
					logger.V(1).Info("Ignoring undersized backup", "key", o.Key, "size", o.Size)
					continue
				}
				candidates = append(candidates, o)
			}
		}
	}

	if len(candidates) == 0 {
		return nil, &NoBackupError{Instance: instance}
	}
	return candidates, nil
}

func (l *Locator) searchPrefixes(instance topology.Instance, date time.Time, kind Kind) ([]string, error) {
	var prefixes []string
	seen := make(map[string]struct{})
	add := func(d Descriptor) error {
		prefix, err := SearchPrefix(d, date)
		if err != nil {
			return err
		}
		if _, ok := seen[prefix]; !ok {
			seen[prefix] = struct{}{}
			prefixes = append(prefixes, prefix)
		}
		return nil
	}

	replicaSet, err := l.resolver.ReplicaSet(instance)
	if err != nil {
		l.logger.V(1).Info("Unable to resolve replica set", "instance", instance.String(), "err", err)
	} else if replicaSet != "" {
		if err := add(Descriptor{
			Kind:            kind,
			RetentionPolicy: l.retention.RetentionPolicy(instance),
			ReplicaSet:      replicaSet,
			Instance:        instance,
		}); err != nil {
			return nil, err
		}
	}

	if err := add(Descriptor{
		Kind:         kind,
		Instance:     instance,
		InitialBuild: true,
	}); err != nil {
		return nil, err
	}
	return prefixes, nil
}
