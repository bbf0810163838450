package main

import (
	"bytes"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunReturnsErrors(t *testing.T) {
	o := options{dir: t.TempDir(), epochs: 1, batch: 2, lr: 0.02, workers: 1, kernel: "scalar"}
	assert.ErrorIs(t, run(o, &bytes.Buffer{}), fs.ErrNotExist)

	o.kernel = "gpu"
	assert.ErrorContains(t, run(o, &bytes.Buffer{}), "unknown kernel")
}
