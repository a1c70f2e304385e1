// Package sink emits the gathered quota records as influx line protocol, for
// pickup by the site metric pipeline. Emission is optional and best effort; a
// sink failure never fails the collection run.
package sink

import (
	"fmt"
	"os"
	"time"

	lp "github.com/influxdata/line-protocol"

	"github.com/hpcugent/quotareport/pkg/quota"
)

// Sink appends quota metrics to a line-protocol file.
type Sink struct {
	file    *os.File
	encoder *lp.Encoder
}

// Open creates or appends to the line-protocol file at path.
func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}
	encoder := lp.NewEncoder(f)
	encoder.SetPrecision(time.Second)
	return &Sink{file: f, encoder: encoder}, nil
}

// WriteRecord emits one quota record. Block values are converted from KiB to
// bytes so the measurement lines up with the other storage metrics.
func (s *Sink) WriteRecord(storage, filesystem, quotaType string, rec quota.Record, ts time.Time) error {
	tags := map[string]string{
		"storage":    storage,
		"filesystem": filesystem,
		"quota_type": quotaType,
		"subject":    rec.SubjectID,
		"backend":    rec.Backend.String(),
	}
	if rec.FilesetName != "" {
		tags["fileset"] = rec.FilesetName
	}
	fields := map[string]interface{}{
		"block_used": rec.BlockUsed * 1024,
		"block_soft": rec.BlockSoft * 1024,
		"block_hard": rec.BlockHard * 1024,
		"files_used": rec.FilesUsed,
		"files_soft": rec.FilesSoft,
		"files_hard": rec.FilesHard,
	}

	m, err := lp.New("quota", tags, fields, ts)
	if err != nil {
		return fmt.Errorf("sink: build metric for %s: %w", rec.SubjectID, err)
	}
	if _, err := s.encoder.Encode(m); err != nil {
		return fmt.Errorf("sink: encode metric for %s: %w", rec.SubjectID, err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.file.Close()
}
