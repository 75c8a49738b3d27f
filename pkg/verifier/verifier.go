// Package verifier checks the log of a backup tool for its success marker.
package verifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mysqlops/mysqlbackup/pkg/pipeline"
)

// SuccessMarker is written by innobackupex as the last log line of a successful run.
const SuccessMarker = "completed OK!"

var ErrVerificationFailed = errors.New("verification failed")

type VerificationError struct {
	LogPath  string
	LastLine string
}

func (e *VerificationError) Error() string {
	if e.LastLine == "" {
		return fmt.Sprintf("%v: log %s is empty or ends with a blank line", ErrVerificationFailed, e.LogPath)
	}
	return fmt.Sprintf("%v: last line of %s is \"%s\"", ErrVerificationFailed, e.LogPath, e.LastLine)
}

func (e *VerificationError) Is(target error) bool {
	return target == ErrVerificationFailed
}

// Verify succeeds only when the last line of the log contains SuccessMarker.
func Verify(logPath string) error {
	content, err := os.ReadFile(logPath)
	if err != nil {
		return fmt.Errorf("error reading log %s: %v", logPath, err)
	}
	line, ok := lastLine(content)
	if !ok || !strings.Contains(line, SuccessMarker) {
		return &VerificationError{
			LogPath:  logPath,
			LastLine: line,
		}
	}
	return nil
}

// Check adapts Verify to a pipeline check.
func Check(logPath string) pipeline.Check {
	return pipeline.NewCheck(fmt.Sprintf("verify %s", logPath), func(ctx context.Context) error {
		return Verify(logPath)
	})
}

// lastLine returns the last line as a line reader would: a trailing newline terminates the last line,
// it does not start an empty one.
func lastLine(content []byte) (string, bool) {
	if len(content) == 0 {
		return "", false
	}
	content = bytes.TrimSuffix(content, []byte("\n"))
	if i := bytes.LastIndexByte(content, '\n'); i >= 0 {
		content = content[i+1:]
	}
	return string(bytes.TrimSuffix(content, []byte("\r"))), true
}
