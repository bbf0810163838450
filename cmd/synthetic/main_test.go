package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/GoConvNet/internal/net"
)

func defaultOptions() options {
	return options{samples: 16, epochs: 2, batch: 4, lr: 1, workers: 2, seed: 1, kernel: "scalar"}
}

// TestRunReturnsErrors checks that failures surface as errors from run
// rather than terminating the process.
func TestRunReturnsErrors(t *testing.T) {
	t.Run("unknown kernel", func(t *testing.T) {
		o := defaultOptions()
		o.kernel = "gpu"
		_, err := run(o, &bytes.Buffer{})
		assert.ErrorContains(t, err, "unknown kernel")
	})

	t.Run("fit after build", func(t *testing.T) {
		o := defaultOptions()
		o.batch = 0
		_, err := run(o, &bytes.Buffer{})
		assert.ErrorIs(t, err, net.ErrBatchSize)
	})

	t.Run("no samples", func(t *testing.T) {
		o := defaultOptions()
		o.samples = 0
		_, err := run(o, &bytes.Buffer{})
		assert.ErrorIs(t, err, net.ErrNoData)
	})
}

func TestRunTrains(t *testing.T) {
	for _, name := range []string{"scalar", "lanes"} {
		t.Run(name, func(t *testing.T) {
			o := defaultOptions()
			o.kernel = name
			var out bytes.Buffer
			acc, err := run(o, &out)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, acc, float32(0))
			assert.LessOrEqual(t, acc, float32(1))
			assert.Contains(t, out.String(), "kernel "+name)
		})
	}
}

func TestGenerate(t *testing.T) {
	d, err := generate(6, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 0, 1, 0, 1}, d.Labels)
	for i := 0; i < d.N; i++ {
		for _, v := range d.Sample(i) {
			if d.Labels[i] == 1 {
				assert.GreaterOrEqual(t, v, float32(0.6))
			} else {
				assert.Less(t, v, float32(0.4))
			}
		}
	}
}
