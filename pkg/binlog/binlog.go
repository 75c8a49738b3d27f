package binlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-mysql-org/go-mysql/mysql"
)

const (
	SlaveInfoFile  = "xtrabackup_slave_info"
	BinlogInfoFile = "xtrabackup_binlog_info"
)

var ErrInvalidFormat = errors.New("invalid format")

// Coordinate is a position in the binary logs of the source of a backup.
type Coordinate struct {
	mysql.Position
}

func NewCoordinate(file string, pos uint32) Coordinate {
	return Coordinate{
		Position: mysql.Position{
			Name: file,
			Pos:  pos,
		},
	}
}

func (c Coordinate) File() string {
	return c.Name
}

// Compare returns -1, 0 or 1 when c is before, equal or after other.
func (c Coordinate) Compare(other Coordinate) int {
	return c.Position.Compare(other.Position)
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%s:%d", c.Name, c.Pos)
}

var (
	slaveInfoFileRegex = regexp.MustCompile(`MASTER_LOG_FILE='([a-z0-9-.]+)'`)
	slaveInfoPosRegex  = regexp.MustCompile(`MASTER_LOG_POS=([0-9]+)`)
)

// ParseSlaveInfo reads the coordinate of the replication source from the xtrabackup_slave_info file of datadir.
func ParseSlaveInfo(datadir string) (Coordinate, error) {
	data, err := readFile(datadir, SlaveInfoFile)
	if err != nil {
		return Coordinate{}, err
	}
	return ParseSlaveInfoData(data)
}

// ParseSlaveInfoData parses a CHANGE MASTER statement such as:
//
//	CHANGE MASTER TO MASTER_LOG_FILE='mysql-bin.006233', MASTER_LOG_POS=863
func ParseSlaveInfoData(data string) (Coordinate, error) {
	fileMatch := slaveInfoFileRegex.FindStringSubmatch(data)
	if fileMatch == nil {
		return Coordinate{}, fmt.Errorf("%w: MASTER_LOG_FILE not found in \"%s\"", ErrInvalidFormat, strings.TrimSpace(data))
	}
	posMatch := slaveInfoPosRegex.FindStringSubmatch(data)
	if posMatch == nil {
		return Coordinate{}, fmt.Errorf("%w: MASTER_LOG_POS not found in \"%s\"", ErrInvalidFormat, strings.TrimSpace(data))
	}
	pos, err := parsePos(posMatch[1])
	if err != nil {
		return Coordinate{}, err
	}
	return NewCoordinate(fileMatch[1], pos), nil
}

// ParseBinlogInfo reads the coordinate of the backed up instance from the xtrabackup_binlog_info file of datadir.
func ParseBinlogInfo(datadir string) (Coordinate, error) {
	data, err := readFile(datadir, BinlogInfoFile)
	if err != nil {
		return Coordinate{}, err
	}
	return ParseBinlogInfoData(data)
}

// ParseBinlogInfoData parses exactly two tab separated fields: binlog file and position.
func ParseBinlogInfoData(data string) (Coordinate, error) {
	fields := strings.Split(strings.TrimSpace(data), "\t")
	if len(fields) != 2 {
		return Coordinate{}, fmt.Errorf("%w: expected 2 tab separated fields, got %d", ErrInvalidFormat, len(fields))
	}
	file := strings.TrimSpace(fields[0])
	if file == "" {
		return Coordinate{}, fmt.Errorf("%w: empty binlog file", ErrInvalidFormat)
	}
	pos, err := parsePos(strings.TrimSpace(fields[1]))
	if err != nil {
		return Coordinate{}, err
	}
	return NewCoordinate(file, pos), nil
}

func parsePos(raw string) (uint32, error) {
	pos, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: error parsing position \"%s\": %v", ErrInvalidFormat, raw, err)
	}
	return uint32(pos), nil
}

func readFile(datadir, name string) (string, error) {
	path := filepath.Join(datadir, name)
	bytes, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("error reading %s: %v", path, err)
	}
	return string(bytes), nil
}
