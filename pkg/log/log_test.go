package log

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/rs/zerolog"
)

func TestVerbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		want      []string
	}{
		{verbosity: 0, want: []string{"info"}},
		{verbosity: 1, want: []string{"info", "debug"}},
		{verbosity: 2, want: []string{"info", "debug", "trace"}},
		{verbosity: -1, want: []string{"info"}},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		l := zerolog.New(&buf)
		logger := newLogr(&l, tt.verbosity)

		logger.Info("info")
		logger.V(1).Info("debug")
		logger.V(2).Info("trace")

		var got []string
		for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
			for _, msg := range []string{"info", "debug", "trace"} {
				if strings.Contains(line, `"message":"`+msg+`"`) {
					got = append(got, msg)
				}
			}
		}
		assert.Equal(t, tt.want, got, "verbosity %d", tt.verbosity)
	}
}

func TestErrorsAlwaysLogged(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)
	newLogr(&l, 0).Error(os.ErrNotExist, "failed")
	assert.Contains(t, buf.String(), `"message":"failed"`)
}

func TestConsoleWritesToStderr(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "")
	w, ok := output().(zerolog.ConsoleWriter)
	assert.True(t, ok)
	assert.Equal(t, os.Stderr, w.Out.(*os.File))

	t.Setenv("KUBERNETES_SERVICE_HOST", "10.0.0.1")
	assert.Equal(t, os.Stderr, output().(*os.File))
}
