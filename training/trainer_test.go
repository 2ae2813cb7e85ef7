package training

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.viam.com/test"

	"github.com/Tutortoise/helmet-detection-service/tracking"
)

func TestTrainArgs(t *testing.T) {
	job := Job{Config: testConfig(0)}
	test.That(t, TrainArgs(job), test.ShouldResemble, []string{
		"detect", "train",
		"data=dataset/data.yaml",
		"model=yolo11n.pt",
		"epochs=0",
		"imgsz=640",
		"batch=4",
		"workers=4",
		"device=cpu",
		"project=runs/detect",
	})
}

func fakeYOLO(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	bin := filepath.Join(t.TempDir(), "yolo")
	test.That(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+script), 0o755), test.ShouldBeNil)
	return bin
}

func TestYOLOTrainer(t *testing.T) {
	bin := fakeYOLO(t, `echo "$@"
echo "run=$MLFLOW_RUN_ID" >&2
mkdir -p runs/detect/train/weights && echo w > runs/detect/train/weights/best.pt
`)
	work := t.TempDir()
	var stdout, stderr bytes.Buffer
	trainer := NewYOLOTrainer(bin, zap.NewNop())
	trainer.Dir = work
	trainer.Stdout = &stdout
	trainer.Stderr = &stderr

	job := Job{
		Config:      testConfig(3),
		TrackingURI: "http://mlflow:5000",
		Experiment:  tracking.Experiment{ExperimentID: "7", Name: "yolo11-cpu"},
		Run:         tracking.RunInfo{RunID: "abc123"},
	}
	test.That(t, trainer.Train(context.Background(), job), test.ShouldBeNil)
	test.That(t, strings.TrimSpace(stdout.String()), test.ShouldEqual, strings.Join(TrainArgs(job), " "))
	test.That(t, strings.TrimSpace(stderr.String()), test.ShouldEqual, "run=abc123")

	dir, err := LatestRunDir(filepath.Join(work, "runs", "detect"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, filepath.Base(dir), test.ShouldEqual, "train")
}

func TestYOLOTrainerFailure(t *testing.T) {
	bin := fakeYOLO(t, "exit 3\n")
	trainer := NewYOLOTrainer(bin, zap.NewNop())
	trainer.Stdout = &bytes.Buffer{}
	trainer.Stderr = &bytes.Buffer{}

	err := trainer.Train(context.Background(), Job{Config: testConfig(1)})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "code 3")

	trainer.Bin = filepath.Join(t.TempDir(), "missing")
	err = trainer.Train(context.Background(), Job{Config: testConfig(1)})
	test.That(t, err, test.ShouldNotBeNil)
}
