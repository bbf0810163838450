// Package kernel implements the arithmetic of convolution and pooling layers.
//
// Two implementations share the Kernel interface: Scalar, the reference
// path, and Lanes, which works on groups of eight output channels at a time.
// Both must produce the same results up to floating-point reassociation.
package kernel

import (
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"

	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
)

// Width is the number of channels the Lanes kernel processes per step.
const Width = 8

// ConvShape describes the geometry of one convolution or pooling layer.
//
// Activation volumes are depth-major: every channel plane is contiguous.
// The input carries a zero halo of Pad cells, the output is written into a
// buffer whose halo is OutPad cells wide (the next layer's Pad). The local
// delta is channel-last so that eight neighbouring channels are contiguous.
type ConvShape struct {
	K        int
	InLen    int
	InDepth  int
	Pad      int
	OutLen   int
	OutDepth int
	OutPad   int
}

// InPadLen returns the padded spatial length of the input buffer.
func (s ConvShape) InPadLen() int { return s.InLen + 2*s.Pad }

// OutPadLen returns the padded spatial length of the output buffer.
func (s ConvShape) OutPadLen() int { return s.OutLen + 2*s.OutPad }

// In indexes the input buffer; x and y are in padded coordinates.
func (s ConvShape) In(x, y, d int) int {
	p := s.InPadLen()
	return p*p*d + p*y + x
}

// Out indexes the output buffer; x and y are in unpadded coordinates.
func (s ConvShape) Out(x, y, d int) int {
	p := s.OutPadLen()
	return p*p*d + p*(s.OutPad+y) + s.OutPad + x
}

// Delta indexes the channel-last local delta.
func (s ConvShape) Delta(x, y, d int) int {
	return (s.OutLen*y+x)*s.OutDepth + d
}

// DeltaIn indexes the gradient arriving from the next layer.
func (s ConvShape) DeltaIn(x, y, d int) int {
	return s.OutLen*s.OutLen*d + s.OutLen*y + x
}

// DeltaOut indexes the gradient propagated to the previous layer.
func (s ConvShape) DeltaOut(x, y, d int) int {
	return s.InLen*s.InLen*d + s.InLen*y + x
}

// Wgt indexes a dense kernel laid out as [ky][kx][inD][outD].
func (s ConvShape) Wgt(kx, ky, inD, outD int) int {
	return ((ky*s.K+kx)*s.InDepth+inD)*s.OutDepth + outD
}

// DWgt indexes a depthwise kernel laid out as [ky][kx][d].
func (s ConvShape) DWgt(kx, ky, d int) int {
	return (ky*s.K+kx)*s.OutDepth + d
}

// InputSize is the length of the padded input buffer.
func (s ConvShape) InputSize() int {
	p := s.InPadLen()
	return p * p * s.InDepth
}

// OutputSize is the length of the padded output buffer.
func (s ConvShape) OutputSize() int {
	p := s.OutPadLen()
	return p * p * s.OutDepth
}

// DeltaSize is the length of the local delta and incoming delta buffers.
func (s ConvShape) DeltaSize() int { return s.OutLen * s.OutLen * s.OutDepth }

// DeltaOutSize is the length of the outgoing delta buffer.
func (s ConvShape) DeltaOutSize() int { return s.InLen * s.InLen * s.InDepth }

// ConvArgs carries one worker's buffers for a convolution call.
type ConvArgs struct {
	Shape ConvShape
	Act   activations.Func

	In  []float32
	Out []float32

	Wgt  []float32
	Bias []float32

	DeltaIn  []float32
	Delta    []float32
	DeltaOut []float32

	WgtGrad  []float32
	BiasGrad []float32
}

// PoolArgs carries one worker's buffers for a 2x2 max-pooling call.
// Idx holds the winning tap per output cell in Delta order: bit 0 is the x
// offset and bit 1 the y offset inside the window.
type PoolArgs struct {
	Shape ConvShape
	Act   activations.Func

	In  []float32
	Out []float32
	Idx []uint8

	DeltaIn  []float32
	DeltaOut []float32
}

// Kernel is the arithmetic backend of the layers.
//
// Backward passes must be called in order: ConvDelta, the weight gradient,
// ConvBiasGrad, then the input gradient. Gradients are added to WgtGrad and
// BiasGrad, never overwritten.
type Kernel interface {
	Name() string

	ConvForward(a *ConvArgs)
	ConvDelta(a *ConvArgs)
	ConvWeightGrad(a *ConvArgs)
	ConvBiasGrad(a *ConvArgs)
	ConvInputGrad(a *ConvArgs)

	DepthwiseForward(a *ConvArgs)
	DepthwiseWeightGrad(a *ConvArgs)
	DepthwiseInputGrad(a *ConvArgs)

	PoolForward(a *PoolArgs)
	PoolBackward(a *PoolArgs)
}

// Default returns the fastest kernel for the running CPU.
func Default() Kernel {
	if cpuid.CPU.Supports(cpuid.AVX2, cpuid.FMA3) || cpuid.CPU.Supports(cpuid.ASIMD) {
		return Lanes{}
	}
	return Scalar{}
}

// ByName returns the kernel called name ("scalar", "lanes" or "auto").
func ByName(name string) (Kernel, error) {
	switch strings.ToLower(name) {
	case "scalar":
		return Scalar{}, nil
	case "lanes", "simd":
		return Lanes{}, nil
	case "", "auto":
		return Default(), nil
	}
	return nil, fmt.Errorf("kernel: unknown kernel %q", name)
}
