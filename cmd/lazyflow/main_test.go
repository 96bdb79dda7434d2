package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/birdayz/lazyflow/karray"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestThresholdCommand(t *testing.T) {
	out, err := execute(t, "--shape", "2,3", "0.2", "0.6", "0.3", "0.1", "0.55", "0.99")
	assert.NoError(t, err)
	assert.Contains(t, out, "[false true false false true true]")
}

func TestThresholdCommandWithDiskCache(t *testing.T) {
	out, err := execute(t, "--cache-dir", t.TempDir(), "--block", "1", "--threshold", "2", "--invert", "1", "2", "3")
	assert.NoError(t, err)
	assert.Contains(t, out, "[true false false]")
}

func TestVerboseLogsStayOffStdout(t *testing.T) {
	out, err := execute(t, "-v", "2", "0.2", "0.6")
	assert.NoError(t, err)
	assert.Equal(t, "Array(bool, (2), [false true])\n", out)
}

func TestDotCommand(t *testing.T) {
	out, err := execute(t, "--dot", "1")
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "digraph lazyflow"))
	assert.Contains(t, out, "OpBlockCache -> OpThreshold")
}

func TestParseInput(t *testing.T) {
	a, err := parseInput("", []string{"1", "2"})
	assert.NoError(t, err)
	assert.Equal(t, karray.Shape{2}, a.Shape())

	_, err = parseInput("3", []string{"1", "2"})
	assert.Error(t, err)
	_, err = parseInput("", []string{"x"})
	assert.Error(t, err)
}
