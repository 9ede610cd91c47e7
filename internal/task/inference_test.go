package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInference_Run(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.png")
	output := filepath.Join(dir, "output.png")
	require.NoError(t, os.WriteFile(input, []byte("raster"), 0o644))

	// cp stands in for a model process: it consumes the appended input and
	// output path arguments.
	r := NewInference(time.Minute)
	err := r.Run(context.Background(), []string{"cp"}, []string{input}, output)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "raster", string(data))
}

func TestInference_EmptyCommand(t *testing.T) {
	r := NewInference(time.Minute)
	err := r.Run(context.Background(), nil, nil, "out")
	assert.ErrorIs(t, err, ErrInferenceFailed)
}

func TestInference_ProcessFailure(t *testing.T) {
	dir := t.TempDir()

	r := NewInference(time.Minute)
	err := r.Run(context.Background(), []string{"false"}, nil, filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, ErrInferenceFailed)
}

func TestInference_MissingOutput(t *testing.T) {
	dir := t.TempDir()

	// The process exits cleanly but never writes the output file.
	r := NewInference(time.Minute)
	err := r.Run(context.Background(), []string{"true"}, nil, filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestInference_Timeout(t *testing.T) {
	dir := t.TempDir()

	r := NewInference(50 * time.Millisecond)
	err := r.Run(context.Background(), []string{"sh", "-c", "sleep 5"}, nil, filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, ErrInferenceFailed)
}
