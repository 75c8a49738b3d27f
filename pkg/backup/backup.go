package backup

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"time"

	mbtime "github.com/mysqlops/mysqlbackup/pkg/time"
	"github.com/mysqlops/mysqlbackup/pkg/topology"
)

var (
	ErrUnsupportedKind = errors.New("unsupported backup kind")
	ErrInvalidKey      = errors.New("invalid backup key")
)

// MinimumValidBackupSize is the size at or below which a stored backup is considered partial.
const MinimumValidBackupSize int64 = 1024 * 1024

const initialBuildDir = "initial_build"

type Kind string

const (
	KindLogical  Kind = "mysqldump"
	KindPhysical Kind = "xtrabackup"
)

func (k Kind) Validate() error {
	switch k {
	case KindLogical, KindPhysical:
		return nil
	default:
		return fmt.Errorf("%w: \"%s\"", ErrUnsupportedKind, k)
	}
}

func (k Kind) Extension() (string, error) {
	switch k {
	case KindLogical:
		return "sql.gz", nil
	case KindPhysical:
		return "xbstream", nil
	default:
		return "", fmt.Errorf("%w: \"%s\"", ErrUnsupportedKind, k)
	}
}

func ParseKind(raw string) (Kind, error) {
	kind := Kind(raw)
	if err := kind.Validate(); err != nil {
		return "", err
	}
	return kind, nil
}

// Descriptor identifies a backup. ReplicaSet is empty when the instance is not part of a tracked replica set.
type Descriptor struct {
	Kind            Kind
	RetentionPolicy string
	ReplicaSet      string
	Instance        topology.Instance
	Timestamp       time.Time
	InitialBuild    bool
}

// ObjectKey returns the storage key of a backup:
//
//	{kind}/{retention_policy}/{replica_set}/{hostname}-{port}-{timestamp}.{ext}
//	{kind}/initial_build/{hostname}-{port}-{timestamp}.{ext}
func ObjectKey(d Descriptor) (string, error) {
	ext, err := d.Kind.Extension()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%s", objectPath(d, mbtime.Format(d.Timestamp)), ext), nil
}

// SearchPrefix returns the key prefix matching every backup of the descriptor taken on the given date.
func SearchPrefix(d Descriptor, date time.Time) (string, error) {
	if err := d.Kind.Validate(); err != nil {
		return "", err
	}
	return objectPath(d, mbtime.FormatDate(date)), nil
}

func objectPath(d Descriptor, timestamp string) string {
	fileName := fmt.Sprintf("%s-%d-%s", d.Instance.Hostname, d.Instance.Port, timestamp)
	if d.InitialBuild {
		return path.Join(string(d.Kind), initialBuildDir, fileName)
	}
	return path.Join(string(d.Kind), d.RetentionPolicy, d.ReplicaSet, fileName)
}

// The port is assumed to be 330X.
var keyMetadataRegex = regexp.MustCompile(`^([a-z0-9-]+)-(330[0-9])-(\d{4})-(\d{2})-(\d{2}).*`)

// ParseKeyMetadata extracts the source instance and creation date from a backup key.
func ParseKeyMetadata(key string) (topology.Instance, time.Time, error) {
	fileName := path.Base(key)
	match := keyMetadataRegex.FindStringSubmatch(fileName)
	if match == nil {
		return topology.Instance{}, time.Time{}, fmt.Errorf("%w: \"%s\"", ErrInvalidKey, key)
	}
	port, err := strconv.Atoi(match[2])
	if err != nil {
		return topology.Instance{}, time.Time{}, fmt.Errorf("%w: error parsing port: %v", ErrInvalidKey, err)
	}
	date, err := mbtime.ParseDate(fmt.Sprintf("%s-%s-%s", match[3], match[4], match[5]))
	if err != nil {
		return topology.Instance{}, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	instance := topology.Instance{
		Hostname: match[1],
		Port:     port,
	}
	return instance, date, nil
}

// parseKeyTimestamp returns the full timestamp embedded in a key, falling back to the date.
func parseKeyTimestamp(key string) (time.Time, error) {
	instance, date, err := ParseKeyMetadata(key)
	if err != nil {
		return time.Time{}, err
	}
	fileName := path.Base(key)
	prefix := fmt.Sprintf("%s-%d-", instance.Hostname, instance.Port)
	if len(fileName) >= len(prefix)+len(mbtime.TimestampLayout) {
		if t, err := mbtime.Parse(fileName[len(prefix) : len(prefix)+len(mbtime.TimestampLayout)]); err == nil {
			return t, nil
		}
	}
	return date, nil
}
