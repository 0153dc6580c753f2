package storage

import (
	"errors"
	"log/slog"
	"os"
)

// RemoveStaged deletes local staging files, ignoring ones already gone.
func RemoveStaged(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("remove staged file", "path", p, "error", err)
		}
	}
}
