package main

import (
	"bytes"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunReturnsErrors(t *testing.T) {
	dir := t.TempDir()
	o := options{
		images:     filepath.Join(dir, "images"),
		labels:     filepath.Join(dir, "labels"),
		testImages: filepath.Join(dir, "test-images"),
		testLabels: filepath.Join(dir, "test-labels"),
		train:      10,
		epochs:     1,
		batch:      2,
		lr:         0.02,
		workers:    1,
		kernel:     "auto",
	}
	assert.ErrorIs(t, run(o, &bytes.Buffer{}), fs.ErrNotExist)

	o.kernel = "gpu"
	assert.ErrorContains(t, run(o, &bytes.Buffer{}), "unknown kernel")
}
