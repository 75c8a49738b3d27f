package topology

import (
	"errors"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

var (
	ErrNotInReplicaSet   = errors.New("instance is not part of a tracked replica set")
	ErrReplicaSetUnknown = errors.New("unknown replica set")
)

const DefaultRetentionPolicy = "standard"

type ReplicaSetResolver interface {
	ReplicaSet(instance Instance) (string, error)
}

type PrimaryResolver interface {
	Primary(replicaSet string) (Instance, error)
}

type RetentionPolicyResolver interface {
	RetentionPolicy(instance Instance) string
}

type ReplicaSet struct {
	Name            string     `json:"name"`
	Primary         Instance   `json:"primary"`
	Replicas        []Instance `json:"replicas,omitempty"`
	RetentionPolicy string     `json:"retentionPolicy,omitempty"`
}

// Static resolves topology from a fixed list of replica sets, usually loaded from the config file.
type Static struct {
	ReplicaSets            []ReplicaSet `json:"replicaSets"`
	DefaultRetentionPolicy string       `json:"defaultRetentionPolicy,omitempty"`
}

func LoadFile(path string) (*Static, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading topology file: %v", err)
	}
	var s Static
	if err := yaml.Unmarshal(bytes, &s); err != nil {
		return nil, fmt.Errorf("error decoding topology file: %v", err)
	}
	return &s, nil
}

func (s *Static) ReplicaSet(instance Instance) (string, error) {
	if rs := s.find(instance); rs != nil {
		return rs.Name, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotInReplicaSet, instance)
}

func (s *Static) Primary(replicaSet string) (Instance, error) {
	for _, rs := range s.ReplicaSets {
		if rs.Name == replicaSet {
			return rs.Primary, nil
		}
	}
	return Instance{}, fmt.Errorf("%w: %s", ErrReplicaSetUnknown, replicaSet)
}

func (s *Static) RetentionPolicy(instance Instance) string {
	if rs := s.find(instance); rs != nil && rs.RetentionPolicy != "" {
		return rs.RetentionPolicy
	}
	if s.DefaultRetentionPolicy != "" {
		return s.DefaultRetentionPolicy
	}
	return DefaultRetentionPolicy
}

func (s *Static) Names() []string {
	names := make([]string, len(s.ReplicaSets))
	for i, rs := range s.ReplicaSets {
		names[i] = rs.Name
	}
	return names
}

func (s *Static) find(instance Instance) *ReplicaSet {
	for i := range s.ReplicaSets {
		rs := &s.ReplicaSets[i]
		if rs.Primary == instance {
			return rs
		}
		for _, r := range rs.Replicas {
			if r == instance {
				return rs
			}
		}
	}
	return nil
}
