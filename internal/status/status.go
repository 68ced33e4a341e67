// Package status persists the fuse's single durable status record.
// The record is two tab-delimited fields, phase and reason, and the
// file is replaced whole on every write so readers never see a torn
// record.
package status

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/sweeney/waterfuse/internal/logic"
)

// DefaultPath is where the daemon keeps its status record.
const DefaultPath = "/var/run/waterfuse/waterfuse.state"

// FileSink writes status records atomically to a single file.
type FileSink struct {
	path string
}

// NewFileSink creates a sink writing to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// WriteStatus overwrites the status file with exactly one record.
// The temp-file-plus-rename dance means a crash mid-write leaves the
// previous record intact.
func (s *FileSink) WriteStatus(rec logic.StatusRecord) error {
	payload := fmt.Sprintf("%s\t%s\n", rec.Phase, rec.Reason)
	if err := renameio.WriteFile(s.path, []byte(payload), 0o644); err != nil {
		return fmt.Errorf("write status %s: %w", s.path, err)
	}
	return nil
}

// Read returns the record currently on disk.
func Read(path string) (logic.StatusRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return logic.StatusRecord{}, fmt.Errorf("read status %s: %w", path, err)
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return logic.StatusRecord{}, fmt.Errorf("malformed status record %q", strings.TrimSpace(string(data)))
	}
	return logic.StatusRecord{Phase: fields[0], Reason: fields[1]}, nil
}
