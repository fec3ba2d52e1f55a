package logger

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func captureOutput(f func()) string {
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	outputChan := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outputChan <- buf.String()
	}()

	f()

	_ = w.Close()
	os.Stdout = oldStdout
	return <-outputChan
}

func TestNewLogger_ReturnsZerologBackedInstance(t *testing.T) {
	l := NewLogger()
	assert.NotNil(t, l)
	assert.IsType(t, &zerologLogger{}, l)
}

func TestNew_StructuredProducesJSONLines(t *testing.T) {
	output := captureOutput(func() {
		l := New(Options{Level: "info", Structured: true})
		l.Info("hello structured")
	})
	assert.Contains(t, output, `"message":"hello structured"`)
	assert.Contains(t, output, `"level":"info"`)
}

func TestNew_LevelFiltering(t *testing.T) {
	output := captureOutput(func() {
		l := New(Options{Level: "error", Structured: true})
		l.Info("should be filtered")
		l.Error("should appear")
	})
	assert.NotContains(t, output, "should be filtered")
	assert.Contains(t, output, "should appear")
}

func TestParseLevel_MapsKnownNamesCaseInsensitively(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"info", zerolog.InfoLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "level %q", tt.in)
	}
}

func TestWithField_AddsStructuredValue(t *testing.T) {
	output := captureOutput(func() {
		l := New(Options{Level: "info", Structured: true})
		l = l.WithField("job_id", "abc-123")
		l.Info("dispatched")
	})
	assert.Contains(t, output, `"job_id":"abc-123"`)
}

func TestWithField_ReturnsNewInstanceLeavingOriginalUnchanged(t *testing.T) {
	base := New(Options{Level: "info", Structured: true})
	withField := base.WithField("k", "v")
	assert.NotEqual(t, base, withField)

	output := captureOutput(func() { base.Info("plain") })
	assert.NotContains(t, output, `"k":"v"`)
}

func TestWithFields_AddsEveryEntry(t *testing.T) {
	output := captureOutput(func() {
		l := New(Options{Level: "info", Structured: true})
		l = l.WithFields(map[string]interface{}{
			"owner_id": 42,
			"retrying": true,
		})
		l.Info("batch progress")
	})
	assert.Contains(t, output, `"owner_id":42`)
	assert.Contains(t, output, `"retrying":true`)
}

func TestWithFields_EmptyMapIsNoop(t *testing.T) {
	output := captureOutput(func() {
		l := New(Options{Level: "info", Structured: true})
		l = l.WithFields(map[string]interface{}{})
		l.Info("no extra fields")
	})
	assert.Contains(t, output, "no extra fields")
}

func TestWithFieldChaining_AccumulatesAcrossCalls(t *testing.T) {
	output := captureOutput(func() {
		l := New(Options{Level: "info", Structured: true}).
			WithField("step", "import").
			WithField("workspace_id", "ws_1")
		l.Info("chained")
	})
	assert.Contains(t, output, `"step":"import"`)
	assert.Contains(t, output, `"workspace_id":"ws_1"`)
}

func TestFatal_ExitsWithStatusOne(t *testing.T) {
	if os.Getenv("LOGGER_FATAL_HELPER") == "1" {
		l := New(Options{Level: "info", Structured: true})
		l.Fatal("fatal message")
		os.Exit(2)
		return
	}

	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Skip("could not determine test file path")
		return
	}
	testDir := filepath.Dir(filename)
	testBinary := filepath.Join(testDir, "logger_fatal_test_bin")

	build := exec.Command("go", "test", "-c", "-o", testBinary, ".")
	build.Dir = testDir
	if err := build.Run(); err != nil {
		t.Skipf("could not build fatal helper binary: %v", err)
		return
	}
	defer os.Remove(testBinary)

	cmd := exec.Command(testBinary, "-test.run=^TestFatal_ExitsWithStatusOne$")
	cmd.Env = append(os.Environ(), "LOGGER_FATAL_HELPER=1")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitErr, ok := err.(*exec.ExitError)
	if ok {
		assert.Equal(t, 1, exitErr.ExitCode())
	} else {
		t.Logf("unexpected run result: %v, stderr=%s", err, stderr.String())
	}
}
