package activations

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestActivate tests every supported activation against its definition.
func TestActivate(t *testing.T) {
	tests := []struct {
		name     string
		f        Func
		input    float32
		expected float32
	}{
		{"identity negative", Identity, -1.5, -1.5},
		{"relu negative", ReLU, -1, 0},
		{"relu zero", ReLU, 0, 0},
		{"relu positive", ReLU, 2.5, 2.5},
		{"tanh zero", Tanh, 0, 0},
		{"tanh one", Tanh, 1, float32(math.Tanh(1))},
		{"sigmoid zero", Sigmoid, 0, 0.5},
		{"sigmoid two", Sigmoid, 2, float32(1 / (1 + math.Exp(-2)))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, tt.f.Activate(tt.input), 1e-6)
		})
	}
}

// TestDerivativeFromOutput checks the output-based derivative against a finite difference.
func TestDerivativeFromOutput(t *testing.T) {
	const h = 1e-3
	for _, f := range []Func{Identity, ReLU, Tanh, Sigmoid} {
		for _, z := range []float64{-1.3, -0.2, 0.4, 1.7} {
			out := f.Activate(float32(z))
			numeric := (float64(f.Activate(float32(z+h))) - float64(f.Activate(float32(z-h)))) / (2 * h)
			assert.InDelta(t, numeric, float64(f.Derivative(out)), 1e-3, "%v at %v", f, z)
		}
	}
}

// TestValidate tests that only Softmax and unknown selectors are rejected.
func TestValidate(t *testing.T) {
	for _, f := range []Func{Identity, ReLU, Tanh, Sigmoid} {
		assert.NoError(t, f.Validate(), f.String())
	}
	assert.ErrorIs(t, Softmax.Validate(), ErrUnsupported)
	assert.ErrorIs(t, Func(42).Validate(), ErrUnsupported)
}

// TestParseFunc tests name round-tripping.
func TestParseFunc(t *testing.T) {
	for _, f := range []Func{Identity, ReLU, Tanh, Sigmoid, Softmax} {
		got, err := ParseFunc(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	got, err := ParseFunc(" ReLU ")
	require.NoError(t, err)
	assert.Equal(t, ReLU, got)

	_, err = ParseFunc("gelu")
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, "Func(9)", Func(9).String())
}

// TestActivateSlice tests in-place application.
func TestActivateSlice(t *testing.T) {
	x := []float32{-2, 0, 3}
	ReLU.ActivateSlice(x)
	assert.Equal(t, []float32{0, 0, 3}, x)

	y := []float32{-2, 0, 3}
	Identity.ActivateSlice(y)
	assert.Equal(t, []float32{-2, 0, 3}, y)
}
