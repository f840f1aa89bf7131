package persist

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/icpmesh/meshwatch/pkg/log"
)

// Sweep deletes CSV history files whose modification time is older than
// retainDays. Returns the number removed.
func Sweep(dir string, retainDays int, now time.Time) (int, error) {
	cutoff := now.AddDate(0, 0, -retainDays)
	removed := 0

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".csv") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				log.Warn("Failed to remove expired history file", "path", path, "err", err.Error())
				return nil
			}
			removed++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return removed, err
	}
	return removed, nil
}

// RunRetention sweeps once at start and then on each interval tick until ctx
// is canceled.
func RunRetention(ctx context.Context, dir string, retainDays int, interval time.Duration) error {
	if retainDays <= 0 {
		<-ctx.Done()
		return nil
	}
	if interval <= 0 {
		interval = time.Hour
	}

	sweep := func() {
		n, err := Sweep(dir, retainDays, time.Now())
		if err != nil {
			log.Warn("Retention sweep failed", "err", err.Error())
			return
		}
		if n > 0 {
			log.Info("Retention sweep removed expired history", "files", n)
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sweep()
		}
	}
}
