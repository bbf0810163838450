package layer

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
	"github.com/FlavioCFOliveira/GoConvNet/internal/arena"
	"github.com/FlavioCFOliveira/GoConvNet/internal/kernel"
)

// inspected is the view of a layer the tests work through.
type inspected interface {
	Layer
	Weights() []float32
	Biases() []float32
	WeightGrad(worker int) []float32
	BiasGrad(worker int) []float32
	Input(worker int) []float32
	Output(worker int) []float32
	DeltaIn(worker int) []float32
	DeltaOut(worker int) []float32
}

// bindAlone wires l to freshly allocated buffers, as the only layer of a network.
func bindAlone(t testing.TB, l Layer, workers, outPad int) *arena.Arena {
	t.Helper()
	a := arena.New(workers)
	s := l.Shape()
	s.OutPad = outPad
	io := IO{
		Name:     "test",
		In:       a.Alloc("in", s.InputSize()),
		Out:      a.Alloc("out", s.OutBufferSize()),
		DeltaIn:  a.Alloc("delta.in", s.OutputSize()),
		DeltaOut: a.Alloc("delta.out", s.DeltaOutSize()),
		OutPad:   outPad,
	}
	require.NoError(t, l.Bind(a, io))
	return a
}

// setInput copies an unpadded depth-major sample into the padded input.
func setInput(l inspected, worker int, sample []float32) {
	s := l.Shape()
	in := l.Input(worker)
	p := s.InPadLen()
	for d := 0; d < s.InDepth; d++ {
		for y := 0; y < s.InLen; y++ {
			for x := 0; x < s.InLen; x++ {
				in[p*p*d+p*(y+s.Pad)+x+s.Pad] = sample[s.InLen*s.InLen*d+s.InLen*y+x]
			}
		}
	}
}

// output returns the unpadded depth-major output of worker.
func output(l inspected, worker int) []float32 {
	s := l.Shape()
	cs := s.conv()
	out := l.Output(worker)
	res := make([]float32, 0, s.OutputSize())
	for d := 0; d < s.OutDepth; d++ {
		for y := 0; y < s.OutLen; y++ {
			for x := 0; x < s.OutLen; x++ {
				res = append(res, out[cs.Out(x, y, d)])
			}
		}
	}
	return res
}

func random(rng *rand.Rand, n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = rng.Float32()*2 - 1
	}
	return s
}

// objective is sum(r * out) evaluated in float64.
func objective(l inspected, r []float32) float64 {
	var sum float64
	for i, v := range output(l, 0) {
		sum += float64(v) * float64(r[i])
	}
	return sum
}

func assertGradClose(t *testing.T, numeric, analytic float64, tol float64, msgAndArgs ...interface{}) {
	t.Helper()
	scale := math.Max(1, math.Abs(analytic))
	assert.LessOrEqual(t, math.Abs(numeric-analytic)/scale, tol, msgAndArgs...)
}

// gradientCheck compares the analytic gradients of the objective sum(r*out)
// with central differences, for the weights, the biases and the input.
func gradientCheck(t *testing.T, l inspected, h float32, tol float64) {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	s := l.Shape()
	sample := make([]float32, s.DeltaOutSize())
	for i := range sample {
		sample[i] = rng.Float32()
	}
	r := random(rng, s.OutputSize())

	setInput(l, 0, sample)
	l.InitBatch()
	l.Forward(0)
	copy(l.DeltaIn(0), r)
	l.BackProp(0)

	numeric := func(v *float32) float64 {
		orig := *v
		*v = orig + h
		l.Forward(0)
		up := objective(l, r)
		*v = orig - h
		l.Forward(0)
		down := objective(l, r)
		*v = orig
		return (up - down) / float64(2*h)
	}

	w, wg := l.Weights(), l.WeightGrad(0)
	for i := range w {
		assertGradClose(t, numeric(&w[i]), float64(wg[i]), tol, "weight %d", i)
	}
	b, bg := l.Biases(), l.BiasGrad(0)
	for i := range b {
		assertGradClose(t, numeric(&b[i]), float64(bg[i]), tol, "bias %d", i)
	}

	in, deltaOut := l.Input(0), l.DeltaOut(0)
	p := s.InPadLen()
	for d := 0; d < s.InDepth; d++ {
		for y := 0; y < s.InLen; y++ {
			for x := 0; x < s.InLen; x++ {
				got := numeric(&in[p*p*d+p*(y+s.Pad)+x+s.Pad])
				want := deltaOut[s.InLen*s.InLen*d+s.InLen*y+x]
				assertGradClose(t, got, float64(want), tol, "input (%d,%d,%d)", x, y, d)
			}
		}
	}
}

var kernels = []kernel.Kernel{kernel.Scalar{}, kernel.Lanes{}}

// TestConvGradientCheck tests a 3x3 same convolution 1->2 on a 4x4 input.
func TestConvGradientCheck(t *testing.T) {
	for _, k := range kernels {
		t.Run(k.Name(), func(t *testing.T) {
			c, err := NewConv(3, 4, 1, 4, 2, activations.Identity, WithKernel(k), WithSeed(1))
			require.NoError(t, err)
			bindAlone(t, c, 1, 0)
			gradientCheck(t, c, 1e-2, 1e-3)
		})
	}
}

func TestConvGradientCheckTanh(t *testing.T) {
	for _, k := range kernels {
		t.Run(k.Name(), func(t *testing.T) {
			c, err := NewConv(3, 5, 2, 3, 9, activations.Tanh, WithKernel(k), WithSeed(2))
			require.NoError(t, err)
			bindAlone(t, c, 1, 1)
			gradientCheck(t, c, 1e-2, 1e-2)
		})
	}
}

func TestDepthwiseGradientCheck(t *testing.T) {
	for _, k := range kernels {
		t.Run(k.Name(), func(t *testing.T) {
			c, err := NewDepthwise(3, 4, 10, 4, activations.Identity, WithKernel(k), WithSeed(3))
			require.NoError(t, err)
			assert.Len(t, c.Weights(), 3*3*10)
			bindAlone(t, c, 1, 0)
			gradientCheck(t, c, 1e-2, 1e-3)
		})
	}
}

func TestPointwiseGradientCheck(t *testing.T) {
	c, err := NewPointwise(3, 4, 8, activations.Sigmoid, WithKernel(kernel.Lanes{}), WithSeed(4))
	require.NoError(t, err)
	assert.Equal(t, KindPointwise, c.Kind())
	assert.Equal(t, 0, c.Shape().Pad)
	bindAlone(t, c, 1, 0)
	gradientCheck(t, c, 1e-2, 1e-2)
}

func TestLinearGradientCheck(t *testing.T) {
	l, err := NewLinear(6, 3, activations.Identity, WithSeed(5))
	require.NoError(t, err)
	bindAlone(t, l, 1, 0)
	gradientCheck(t, l, 1e-2, 1e-3)
}

func TestLinearPaddedOutput(t *testing.T) {
	l, err := NewLinear(4, 2, activations.Sigmoid, WithSeed(6))
	require.NoError(t, err)
	bindAlone(t, l, 1, 1)
	gradientCheck(t, l, 1e-2, 1e-2)

	out := l.Output(0)
	require.Len(t, out, 3*3*2)
	assert.Zero(t, out[0])
	assert.NotZero(t, out[4])
}

// TestLinearForward checks the product against a hand computation.
func TestLinearForward(t *testing.T) {
	l, err := NewLinear(2, 2, activations.Identity)
	require.NoError(t, err)
	bindAlone(t, l, 1, 0)
	copy(l.Weights(), []float32{1, 2, 3, 4}) // w[x][y]
	copy(l.Biases(), []float32{0.5, -0.5})
	copy(l.Input(0), []float32{1, 10})
	l.Forward(0)
	assert.Equal(t, []float32{31.5, 41.5}, l.Output(0))

	copy(l.DeltaIn(0), []float32{1, -1})
	l.InitBatch()
	l.BackProp(0)
	assert.Equal(t, []float32{-1, -1}, l.DeltaOut(0))
	assert.Equal(t, []float32{1, -1, 10, -10}, l.WeightGrad(0))
	assert.Equal(t, []float32{1, -1}, l.BiasGrad(0))
}

// TestShapeLaw tests the buffer sizes seen by the neighbours of each layer.
func TestShapeLaw(t *testing.T) {
	tests := []struct {
		name                string
		build               func() (Layer, error)
		outLen, outDepth    int
		inLen, inDepth, pad int
	}{
		{"same", func() (Layer, error) { return NewConv(3, 8, 2, 8, 5, activations.ReLU) }, 8, 5, 8, 2, 1},
		{"valid", func() (Layer, error) { return NewConv(5, 12, 1, 8, 3, activations.Tanh) }, 8, 3, 12, 1, 0},
		{"depthwise", func() (Layer, error) { return NewDepthwise(3, 6, 4, 6, activations.ReLU) }, 6, 4, 6, 4, 1},
		{"pointwise", func() (Layer, error) { return NewPointwise(5, 3, 7, activations.ReLU) }, 5, 7, 5, 3, 0},
		{"pool", func() (Layer, error) { return NewPool(2, 6, 3, activations.ReLU) }, 3, 3, 6, 3, 0},
		{"linear", func() (Layer, error) { return NewLinear(12, 4, activations.Sigmoid) }, 1, 4, 1, 12, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := tt.build()
			require.NoError(t, err)
			s := l.Shape()
			assert.Equal(t, tt.pad, s.Pad)
			assert.Equal(t, tt.outLen*tt.outLen*tt.outDepth, s.OutputSize())
			assert.Equal(t, tt.inLen*tt.inLen*tt.inDepth, s.DeltaOutSize())

			bindAlone(t, l, 2, 0)
			p := l.(inspected)
			for w := 0; w < 2; w++ {
				assert.Len(t, p.Output(w), tt.outLen*tt.outLen*tt.outDepth)
				assert.Len(t, p.DeltaOut(w), tt.inLen*tt.inLen*tt.inDepth)
			}
		})
	}
}

// TestPoolRouting tests the [[1,3],[4,2]] window through the layer.
func TestPoolRouting(t *testing.T) {
	for _, k := range kernels {
		t.Run(k.Name(), func(t *testing.T) {
			p, err := NewPool(2, 4, 1, activations.ReLU, WithKernel(k))
			require.NoError(t, err)
			bindAlone(t, p, 1, 0)
			setInput(p, 0, []float32{
				1, 3, 0, 0,
				4, 2, 0, 0,
				0, 0, 0, 0,
				0, 0, 0, 0,
			})
			p.Forward(0)
			assert.Equal(t, float32(4), p.Output(0)[0])
			assert.Equal(t, uint8(2), p.Argmax(0)[0])

			copy(p.DeltaIn(0), []float32{1, 0, 0, 0})
			p.InitBatch()
			p.BackProp(0)
			want := make([]float32, 16)
			want[4] = 1
			assert.Equal(t, want, p.DeltaOut(0))
			assert.NoError(t, p.Update(1, 0.01))
			assert.Zero(t, p.NumParams())
		})
	}
}

// TestPoolOddLength pools a 5x5 plane to 2x2; the last row and column
// are ignored in both directions.
func TestPoolOddLength(t *testing.T) {
	for _, k := range kernels {
		t.Run(k.Name(), func(t *testing.T) {
			p, err := NewPool(2, 5, 1, activations.Identity, WithKernel(k))
			require.NoError(t, err)
			assert.Equal(t, 2, p.Shape().OutLen)
			bindAlone(t, p, 1, 0)
			setInput(p, 0, []float32{
				1, 2, 5, 6, 9,
				3, 4, 7, 8, 9,
				0, 0, 1, 0, 9,
				0, 2, 0, 0, 9,
				9, 9, 9, 9, 9,
			})
			p.Forward(0)
			assert.Equal(t, []float32{4, 8, 2, 1}, output(p, 0))

			copy(p.DeltaIn(0), []float32{1, 2, 3, 4})
			p.InitBatch()
			p.BackProp(0)
			want := make([]float32, 25)
			want[5+1] = 1
			want[5+3] = 2
			want[15+1] = 3
			want[10+2] = 4
			assert.Equal(t, want, p.DeltaOut(0))
		})
	}
}

// TestAccumulation checks that a batch gradient is the sum of the
// single-sample gradients.
func TestAccumulation(t *testing.T) {
	c, err := NewConv(3, 5, 2, 5, 3, activations.Tanh, WithSeed(7))
	require.NoError(t, err)
	bindAlone(t, c, 1, 0)

	rng := rand.New(rand.NewSource(8))
	const n = 4
	samples := make([][]float32, n)
	deltas := make([][]float32, n)
	for i := range samples {
		samples[i] = random(rng, c.Shape().DeltaOutSize())
		deltas[i] = random(rng, c.Shape().OutputSize())
	}
	run := func(i int) {
		setInput(c, 0, samples[i])
		c.Forward(0)
		copy(c.DeltaIn(0), deltas[i])
		c.BackProp(0)
	}

	wantW := make([]float64, len(c.Weights()))
	wantB := make([]float64, len(c.Biases()))
	for i := 0; i < n; i++ {
		c.InitBatch()
		run(i)
		for j, g := range c.WeightGrad(0) {
			wantW[j] += float64(g)
		}
		for j, g := range c.BiasGrad(0) {
			wantB[j] += float64(g)
		}
	}

	c.InitBatch()
	for i := n - 1; i >= 0; i-- {
		run(i)
	}
	for j, g := range c.WeightGrad(0) {
		assert.InDelta(t, wantW[j], g, 1e-4)
	}
	for j, g := range c.BiasGrad(0) {
		assert.InDelta(t, wantB[j], g, 1e-4)
	}
}

// TestUpdateReducesWorkers checks that two workers produce the same step as
// one worker processing both samples.
func TestUpdateReducesWorkers(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	samples := [][]float32{random(rng, 16), random(rng, 16)}
	deltas := [][]float32{random(rng, 32), random(rng, 32)}

	step := func(workers int) []float32 {
		c, err := NewConv(3, 4, 1, 4, 2, activations.ReLU, WithSeed(10))
		require.NoError(t, err)
		bindAlone(t, c, workers, 0)
		c.InitBatch()
		for i := range samples {
			w := i % workers
			setInput(c, w, samples[i])
			c.Forward(w)
			copy(c.DeltaIn(w), deltas[i])
			c.BackProp(w)
		}
		require.NoError(t, c.Update(len(samples), 0.1))
		return append([]float32(nil), c.Weights()...)
	}

	one, two := step(1), step(2)
	assert.InDeltaSlice(t, one, two, 1e-6)
}

func TestUpdateChangesWeights(t *testing.T) {
	l, err := NewLinear(3, 2, activations.Sigmoid, WithSeed(11))
	require.NoError(t, err)
	bindAlone(t, l, 1, 0)
	before := append([]float32(nil), l.Weights()...)

	copy(l.Input(0), []float32{1, 1, 1})
	l.InitBatch()
	l.Forward(0)
	copy(l.DeltaIn(0), []float32{1, 1})
	l.BackProp(0)
	require.NoError(t, l.Update(1, 1))
	for i := range before {
		assert.Less(t, l.Weights()[i], before[i])
	}
	assert.Equal(t, 3*2+2, l.NumParams())
}

func TestUpdateErrors(t *testing.T) {
	c, err := NewConv(3, 4, 1, 4, 1, activations.ReLU)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Update(1, 0.01), ErrNotBound)
	assert.PanicsWithError(t, "layer: not bound: conv", func() { c.Forward(0) })
	assert.Panics(t, func() { c.InitBatch() })

	bindAlone(t, c, 1, 0)
	assert.ErrorIs(t, c.Update(1, 0.01), ErrBatchNotInitialized)

	c.InitBatch()
	assert.ErrorIs(t, c.Update(0, 0.01), ErrBatchSize)
	assert.NoError(t, c.Update(1, 0.01))
	assert.ErrorIs(t, c.Update(1, 0.01), ErrBatchNotInitialized)
}

func TestConstructorErrors(t *testing.T) {
	_, err := NewConv(3, 8, 1, 8, 4, activations.Softmax)
	assert.ErrorIs(t, err, activations.ErrUnsupported)
	_, err = NewLinear(4, 2, activations.Softmax)
	assert.ErrorIs(t, err, activations.ErrUnsupported)
	_, err = NewPool(2, 4, 1, activations.Softmax)
	assert.ErrorIs(t, err, activations.ErrUnsupported)

	_, err = NewConv(3, 8, 1, 5, 4, activations.ReLU)
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = NewConv(2, 8, 1, 8, 4, activations.ReLU)
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = NewConv(3, 8, 0, 8, 4, activations.ReLU)
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = NewPool(3, 6, 1, activations.ReLU)
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = NewPool(2, 1, 1, activations.ReLU)
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = NewLinear(0, 2, activations.ReLU)
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestBindErrors(t *testing.T) {
	c, err := NewConv(3, 4, 1, 4, 2, activations.ReLU)
	require.NoError(t, err)

	a := arena.New(1)
	io := IO{
		Name:     "bad",
		In:       a.Alloc("in", 16), // missing the halo
		Out:      a.Alloc("out", 32),
		DeltaIn:  a.Alloc("din", 32),
		DeltaOut: a.Alloc("dout", 16),
	}
	assert.ErrorIs(t, c.Bind(a, io), ErrInvalidShape)

	io.In = a.Alloc("in", 36)
	require.NoError(t, c.Bind(a, io))
	assert.Error(t, c.Bind(a, io))
}

// TestWeightInit tests the Glorot bound and the seeding.
func TestWeightInit(t *testing.T) {
	c1, err := NewConv(5, 8, 1, 8, 8, activations.ReLU, WithSeed(12))
	require.NoError(t, err)
	c2, err := NewConv(5, 8, 1, 8, 8, activations.ReLU, WithSeed(12))
	require.NoError(t, err)
	assert.Equal(t, c1.Weights(), c2.Weights())

	m := float32(math.Sqrt(6.0 / (25 * 9)))
	for _, w := range c1.Weights() {
		assert.LessOrEqual(t, w, m)
		assert.GreaterOrEqual(t, w, -m)
	}
	for _, b := range c1.Biases() {
		assert.Zero(t, b)
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "depthwise", KindDepthwise.String())
	assert.Equal(t, "Kind(9)", Kind(9).String())
}
