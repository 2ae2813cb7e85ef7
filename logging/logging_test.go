package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.viam.com/test"

	"github.com/Tutortoise/helmet-detection-service/config"
)

func TestNewLevels(t *testing.T) {
	logger, err := New("api", config.Logging{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logger.Core().Enabled(zapcore.DebugLevel), test.ShouldBeFalse)
	test.That(t, logger.Core().Enabled(zapcore.InfoLevel), test.ShouldBeTrue)

	logger, err = New("api", config.Logging{Debug: true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logger.Core().Enabled(zapcore.DebugLevel), test.ShouldBeTrue)
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")
	logger, err := New("train", config.Logging{LogFile: path})
	test.That(t, err, test.ShouldBeNil)

	logger.Info("run started", zap.String("run", "train_1"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	line := strings.TrimSpace(string(data))
	test.That(t, line, test.ShouldContainSubstring, `"msg":"run started"`)
	test.That(t, line, test.ShouldContainSubstring, `"logger":"train"`)
	test.That(t, line, test.ShouldContainSubstring, `"run":"train_1"`)
}
