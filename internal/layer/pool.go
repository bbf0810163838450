package layer

import (
	"fmt"

	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
	"github.com/FlavioCFOliveira/GoConvNet/internal/arena"
	"github.com/FlavioCFOliveira/GoConvNet/internal/kernel"
)

// Pool is a 2x2, stride-2 max pooling layer. The gradient of each output
// cell goes entirely to the input that won the forward comparison.
type Pool struct {
	Base

	idx  [][]uint8 // winning tap per output cell, per worker
	args []kernel.PoolArgs
}

// NewPool creates a pooling layer over an inLen x inLen x depth volume.
// Only k == 2 is supported. The output is floor(inLen/2) wide; for odd
// inLen the last input row and column are never read.
func NewPool(k, inLen, depth int, act activations.Func, opts ...Option) (*Pool, error) {
	if k != 2 || inLen < 2 {
		return nil, fmt.Errorf("%w: pool kernel %d over length %d", ErrInvalidShape, k, inLen)
	}
	s := Shape{KernelLen: k, InLen: inLen, InDepth: depth, OutLen: inLen / 2, OutDepth: depth}
	b, err := newBase(KindPool, s, act, 0, 0, newOptions(opts))
	if err != nil {
		return nil, err
	}
	return &Pool{Base: b}, nil
}

// Bind attaches the layer to its arena buffers and sets up per-worker
// argmax storage.
func (p *Pool) Bind(a *arena.Arena, io IO) error {
	if err := p.bind(a, io); err != nil {
		return err
	}
	p.idx = make([][]uint8, a.Workers())
	p.args = make([]kernel.PoolArgs, a.Workers())
	for w := range p.args {
		p.idx[w] = make([]uint8, p.shape.OutputSize())
		p.args[w] = kernel.PoolArgs{
			Shape:    p.shape.conv(),
			Act:      p.act,
			In:       a.View(io.In, w),
			Out:      a.View(io.Out, w),
			Idx:      p.idx[w],
			DeltaIn:  a.View(io.DeltaIn, w),
			DeltaOut: a.View(io.DeltaOut, w),
		}
	}
	return nil
}

// Forward pools worker's input and records the winning taps.
func (p *Pool) Forward(worker int) {
	p.mustBeBound()
	p.kern.PoolForward(&p.args[worker])
}

// BackProp routes each output gradient to the tap that won.
func (p *Pool) BackProp(worker int) {
	p.mustBeBound()
	p.kern.PoolBackward(&p.args[worker])
}

// Argmax returns worker's winning-tap buffer: bit 0 is the x offset and
// bit 1 the y offset inside each window.
func (p *Pool) Argmax(worker int) []uint8 {
	p.mustBeBound()
	return p.idx[worker]
}
