package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriter_LevelAndFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn").With(String("comp", "test"))

	log.Info("dropped")
	log.Warn("kept", Int("n", 2), Err(errors.New("boom")), Err(nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var ev map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, "warn", ev["level"])
	assert.Equal(t, "kept", ev["message"])
	assert.Equal(t, "test", ev["comp"])
	assert.Equal(t, float64(2), ev["n"])
	assert.Equal(t, "boom", ev["err"])
	assert.Contains(t, ev["caller"], "logging_test.go:")

	assert.True(t, log.Enabled(LevelError))
	assert.False(t, log.Enabled(LevelInfo))
}

func TestLogger_ZeroValueIsSilent(t *testing.T) {
	t.Parallel()
	var log Logger
	assert.True(t, log.IsZero())
	assert.False(t, Nop().IsZero())
	assert.NotPanics(t, func() { log.With(String("k", "v")).Error("nothing") })
}

func TestService_ApplySwapsFileSink(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "logs", "app.log")

	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Debug("below level")
	log.Info("first")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("second")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "below level")
	assert.Contains(t, string(raw), `"message":"first"`)
	assert.Contains(t, string(raw), `"message":"second"`)
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "info", " DEBUG ", "warning", "error", "trace"} {
		assert.True(t, ValidLevel(s), s)
	}
	assert.False(t, ValidLevel("loud"))
}
