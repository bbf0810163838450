package convnet

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointwiseDepthwiseNetwork(t *testing.T) {
	lanes, err := WithKernel("lanes")
	require.NoError(t, err)
	_, err = WithKernel("gpu")
	assert.Error(t, err)

	dw, err := Depthwise(3, 8, 2, 8, ReLU, lanes, WithSeed(1))
	require.NoError(t, err)
	pw, err := Pointwise(8, 2, 4, ReLU, lanes, WithSeed(2))
	require.NoError(t, err)
	pool, err := MaxPool(2, 8, 4, Identity)
	require.NoError(t, err)
	lin, err := Linear(4*4*4, 3, Sigmoid, WithSeed(3))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.BatchSize = 3
	cfg.Epochs = 2
	cfg.Loss = ScaledSquared(0.2)
	n := New(cfg).Add(dw).Add(pw).Add(pool).Add(lin)
	require.NoError(t, n.Build())
	defer n.Close()
	assert.Equal(t, dw.NumParams()+pw.NumParams()+lin.NumParams(), n.NumParams())

	rng := rand.New(rand.NewSource(1))
	const count = 9
	data := make([]float32, count*8*8*2)
	for i := range data {
		data[i] = rng.Float32()
	}
	labels := make([]byte, count)
	for i := range labels {
		labels[i] = byte(i % 3)
	}
	d, err := NewDataset(data, labels, count, 8, 2)
	require.NoError(t, err)

	history := &History{}
	n.SetData(d)
	n.SetCallbacks(history, StepLR(1, 0.5))
	require.NoError(t, n.Fit())
	require.Len(t, history.Epochs, 2)
	assert.Equal(t, 6, history.Batches)

	acc, err := n.GetAccuracy(data, labels, count)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, acc, float32(0))
	assert.LessOrEqual(t, acc, float32(1))
}
