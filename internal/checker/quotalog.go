package checker

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cclog "github.com/hpcugent/quotareport/internal/ccLogger"
)

// logTimeFormat matches the historical dump file names, so the rotation and
// analysis tooling keeps working on the new files.
const logTimeFormat = "20060102-15:04"

// DumpQuotaLog stores the raw per-filesystem quota listing of one backend as
// timestamped gzipped JSON files under location. A filesystem that cannot be
// written is logged and counted, the others continue.
func DumpQuotaLog(ctx context.Context, ops Operations, backend, location string, now time.Time) (int, error) {
	quotaMap, err := ops.ListQuota(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("quota listing: %w", err)
	}
	if err := os.MkdirAll(location, 0755); err != nil {
		return 0, err
	}

	failed := 0
	for _, fs := range sortedKeys(quotaMap) {
		filename := fmt.Sprintf("%s_quota_%s_%s.gz", backend, now.Format(logTimeFormat), fs)
		if err := writeGzippedJSON(filepath.Join(location, filename), quotaMap[fs]); err != nil {
			cclog.ComponentError("QuotaLog", "failed storing quota information for filesystem", fs, ":", err.Error())
			failed++
			continue
		}
		cclog.ComponentInfo("QuotaLog", "stored quota information for filesystem", fs)
	}
	return failed, nil
}

func writeGzippedJSON(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	zw, _ := gzip.NewWriterLevel(f, gzip.BestCompression)
	if _, err := zw.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
