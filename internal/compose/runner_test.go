package compose

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesStderrOnFailure(t *testing.T) {
	r := &CLIRunner{Binary: "sh", Timeout: 5 * time.Second}

	_, err := r.run(context.Background(), "up", "-c", "echo boom >&2; exit 7")
	require.Error(t, err)

	var pe *ProcessError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "up", pe.Op)
	assert.Contains(t, pe.Stderr, "boom")
	assert.True(t, errors.Is(err, ErrProcessControl))
}

func TestRunReturnsStdoutOnSuccess(t *testing.T) {
	r := &CLIRunner{Binary: "sh", Timeout: 5 * time.Second}

	out, err := r.run(context.Background(), "ps", "-c", "printf 'abc\\ndef\\n'")
	require.NoError(t, err)
	assert.Equal(t, []string{"abc", "def"}, splitLines(out))
}

func TestRunHonorsTimeout(t *testing.T) {
	r := &CLIRunner{Binary: "sh", Timeout: 100 * time.Millisecond}

	start := time.Now()
	_, err := r.run(context.Background(), "up", "-c", "sleep 5")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, splitLines(""))
	assert.Nil(t, splitLines("\n  \n"))
	assert.Equal(t, []string{"a", "b"}, splitLines(" a \n\nb\n"))
}
