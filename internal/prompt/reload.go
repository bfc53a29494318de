package prompt

import (
	"errors"
	"io/fs"
	"os"
	"time"
)

// ReloadIfChanged stats every tracked path and reports whether any
// modification time differs from lastSeen. lastSeen is updated in place; a
// missing file is recorded as the zero time so that its creation or deletion
// also counts as a change.
func ReloadIfChanged(tracked []string, lastSeen map[string]time.Time) bool {
	changed := false
	for _, path := range tracked {
		var mtime time.Time
		info, err := os.Stat(path)
		switch {
		case err == nil:
			mtime = info.ModTime()
		case errors.Is(err, fs.ErrNotExist):
		default:
			continue
		}
		prev, seen := lastSeen[path]
		if !seen || !prev.Equal(mtime) {
			lastSeen[path] = mtime
			changed = true
		}
	}
	return changed
}
