package training

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// RunDirPattern matches the directories the trainer creates per run.
const RunDirPattern = "train*"

// LatestRunDir returns the most recently modified directory in base matching
// RunDirPattern, or "" when there is none.
func LatestRunDir(base string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(base, RunDirPattern))
	if err != nil {
		return "", err
	}

	var latest string
	var latestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", err
		}
		if !info.IsDir() {
			continue
		}
		// Glob sorts by name, so ties go to the later name.
		if latest == "" || !info.ModTime().Before(latestMod) {
			latest, latestMod = m, info.ModTime()
		}
	}
	return latest, nil
}
