package training

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestLatestRunDir(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "runs", "detect")

	got, err := LatestRunDir(base)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, "")

	now := time.Now()
	mkRunDir(t, root, "train", now.Add(-2*time.Hour), false)
	newest := mkRunDir(t, root, "train3", now, false)
	mkRunDir(t, root, "train2", now.Add(-time.Hour), false)
	mkRunDir(t, root, "val", now.Add(time.Hour), false)

	// Files matching the pattern are not run directories.
	stray := filepath.Join(base, "train_notes.txt")
	test.That(t, os.WriteFile(stray, []byte("x"), 0o644), test.ShouldBeNil)
	test.That(t, os.Chtimes(stray, now.Add(time.Hour), now.Add(time.Hour)), test.ShouldBeNil)

	got, err = LatestRunDir(base)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, newest)
}
