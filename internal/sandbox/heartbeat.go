package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// HeartbeatFile is touched inside a sandbox's storage directory by agents
// that still need the sandbox; the garbage collector checks its mtime
// before reclaiming by age alone.
const HeartbeatFile = ".qa-heartbeat"

// Touch records a liveness heartbeat for the sandbox.
func (m *Manager) Touch(ctx context.Context, id string) error {
	rec, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.StoragePath == "" {
		return fmt.Errorf("sandbox %s has no storage directory", rec.ShortID)
	}
	return TouchDir(rec.StoragePath)
}

// TouchDir updates the heartbeat file under a storage directory, creating
// it if needed.
func TouchDir(dir string) error {
	path := filepath.Join(dir, HeartbeatFile)
	now := time.Now()
	if err := os.Chtimes(path, now, now); err == nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", path, err)
	}
	return f.Close()
}

// HeartbeatTime reads the last heartbeat under a storage directory.
// Returns false if no heartbeat was ever recorded.
func HeartbeatTime(dir string) (time.Time, bool) {
	info, err := os.Stat(filepath.Join(dir, HeartbeatFile))
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}
