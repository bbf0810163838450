package layer

import (
	"fmt"

	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
	"github.com/FlavioCFOliveira/GoConvNet/internal/arena"
	"github.com/FlavioCFOliveira/GoConvNet/internal/kernel"
)

// Conv is a stride-1 convolution. The same type serves the dense,
// depthwise and pointwise variants; Kind tells them apart.
//
// Dense weights are laid out [ky][kx][inDepth][outDepth] and depthwise
// weights [ky][kx][depth], so the Width output channels a vector step
// works on are always contiguous.
type Conv struct {
	Base

	delta arena.Handle
	args  []kernel.ConvArgs
}

// NewConv creates a dense k x k convolution from an inLen x inLen x inDepth
// volume to an outLen x outLen x outDepth one. The padding is derived from
// the lengths: outLen == inLen gives a same convolution, outLen ==
// inLen-k+1 a valid one.
func NewConv(k, inLen, inDepth, outLen, outDepth int, act activations.Func, opts ...Option) (*Conv, error) {
	return newConv(KindConv, k, inLen, inDepth, outLen, outDepth, act, opts)
}

// NewDepthwise creates a k x k convolution that filters every channel on
// its own, with no mixing across channels.
func NewDepthwise(k, inLen, depth, outLen int, act activations.Func, opts ...Option) (*Conv, error) {
	return newConv(KindDepthwise, k, inLen, depth, outLen, depth, act, opts)
}

// NewPointwise creates a 1 x 1 convolution mixing channels per pixel.
func NewPointwise(inLen, inDepth, outDepth int, act activations.Func, opts ...Option) (*Conv, error) {
	return newConv(KindPointwise, 1, inLen, inDepth, inLen, outDepth, act, opts)
}

func newConv(kind Kind, k, inLen, inDepth, outLen, outDepth int, act activations.Func, opts []Option) (*Conv, error) {
	pad, err := padding(k, inLen, outLen)
	if err != nil {
		return nil, err
	}
	s := Shape{KernelLen: k, InLen: inLen, InDepth: inDepth, OutLen: outLen, OutDepth: outDepth, Pad: pad}
	numWeights := k * k * inDepth * outDepth
	if kind == KindDepthwise {
		numWeights = k * k * outDepth
	}
	b, err := newBase(kind, s, act, numWeights, outDepth, newOptions(opts))
	if err != nil {
		return nil, err
	}
	return &Conv{Base: b}, nil
}

// padding solves outLen = inLen + 2*pad - k + 1 for pad.
func padding(k, inLen, outLen int) (int, error) {
	twice := outLen - inLen + k - 1
	if k <= 0 || twice < 0 || twice%2 != 0 || twice/2 >= k {
		return 0, fmt.Errorf("%w: kernel %d cannot map length %d to %d", ErrInvalidShape, k, inLen, outLen)
	}
	return twice / 2, nil
}

// Bind attaches the layer to its arena buffers and allocates the local
// delta and per-worker kernel arguments.
func (c *Conv) Bind(a *arena.Arena, io IO) error {
	if err := c.bind(a, io); err != nil {
		return err
	}
	c.delta = a.Alloc(io.Name+".delta", c.shape.OutputSize())
	c.args = make([]kernel.ConvArgs, a.Workers())
	for w := range c.args {
		c.args[w] = kernel.ConvArgs{
			Shape:    c.shape.conv(),
			Act:      c.act,
			In:       a.View(io.In, w),
			Out:      a.View(io.Out, w),
			Wgt:      c.weights,
			Bias:     c.biases,
			DeltaIn:  a.View(io.DeltaIn, w),
			Delta:    a.View(c.delta, w),
			DeltaOut: a.View(io.DeltaOut, w),
			WgtGrad:  a.View(c.wGrad, w),
			BiasGrad: a.View(c.bGrad, w),
		}
	}
	return nil
}

// Forward convolves worker's input into its output buffer.
func (c *Conv) Forward(worker int) {
	c.mustBeBound()
	if c.kind == KindDepthwise {
		c.kern.DepthwiseForward(&c.args[worker])
		return
	}
	c.kern.ConvForward(&c.args[worker])
}

// BackProp computes the local delta, accumulates the weight and bias
// gradients and writes the input gradient, in that order.
func (c *Conv) BackProp(worker int) {
	c.mustBeBound()
	a := &c.args[worker]
	c.kern.ConvDelta(a)
	if c.kind == KindDepthwise {
		c.kern.DepthwiseWeightGrad(a)
		c.kern.ConvBiasGrad(a)
		c.kern.DepthwiseInputGrad(a)
		return
	}
	c.kern.ConvWeightGrad(a)
	c.kern.ConvBiasGrad(a)
	c.kern.ConvInputGrad(a)
}
