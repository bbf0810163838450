package kernel

import (
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
	"github.com/FlavioCFOliveira/GoConvNet/internal/arena"
)

// Lanes is the vectorised kernel. Convolutions are laid out as row blocks
// of channels by pixels and handed to blas32, whose float32 routines run
// on assembly where gonum ships it (amd64). Element-wise steps and pooling
// work Width channels at a time, with the depth%Width remainder going
// through the scalar routines.
type Lanes struct{}

// Name returns "lanes".
func (Lanes) Name() string { return "lanes" }

// blocks returns the end of the last full Width-channel block.
func blocks(depth int) int { return depth - depth%Width }

func general(rows, cols, stride int, data []float32) blas32.General {
	return blas32.General{Rows: rows, Cols: cols, Stride: stride, Data: data}
}

func strided(n, inc int, data []float32) blas32.Vector {
	return blas32.Vector{N: n, Inc: inc, Data: data}
}

// span returns the output columns [lo,hi) whose tap kx lands inside the
// unpadded input.
func span(kx, pad, outLen, inLen int) (lo, hi int) {
	return max(0, pad-kx), min(outLen, inLen+pad-kx)
}

func fill(s []float32, v float32) {
	for i := range s {
		s[i] = v
	}
}

// ConvForward computes one output row at a time as
// Out[outD][x] = Bias[outD] + sum over taps of W_tap^T * In_tap, where
// In_tap is the InDepth x OutLen window of input rows for that tap.
func (Lanes) ConvForward(a *ConvArgs) {
	s := a.Shape
	inPlane := s.InPadLen() * s.InPadLen()
	outPlane := s.OutPadLen() * s.OutPadLen()
	for outY := 0; outY < s.OutLen; outY++ {
		out := general(s.OutDepth, s.OutLen, outPlane, a.Out[s.Out(0, outY, 0):])
		for d := 0; d < s.OutDepth; d++ {
			fill(out.Data[d*outPlane:][:s.OutLen], a.Bias[d])
		}
		for kY := 0; kY < s.K; kY++ {
			for kX := 0; kX < s.K; kX++ {
				w := general(s.InDepth, s.OutDepth, s.OutDepth, a.Wgt[s.Wgt(kX, kY, 0, 0):])
				in := general(s.InDepth, s.OutLen, inPlane, a.In[s.In(kX, outY+kY, 0):])
				blas32.Gemm(blas.Trans, blas.NoTrans, 1, w, in, 1, out)
			}
		}
		for d := 0; d < s.OutDepth; d++ {
			a.Act.ActivateSlice(out.Data[d*outPlane:][:s.OutLen])
		}
	}
}

// ConvDelta multiplies the incoming gradient by the activation
// derivative, Width channels at a time.
func (Lanes) ConvDelta(a *ConvArgs) {
	s := a.Shape
	end := blocks(s.OutDepth)
	outPlane := s.OutPadLen() * s.OutPadLen()
	inPlane := s.OutLen * s.OutLen
	for y := 0; y < s.OutLen; y++ {
		for x := 0; x < s.OutLen; x++ {
			for d := 0; d < end; d += Width {
				out := gather(a.Out, s.Out(x, y, d), outPlane)
				delta := gather(a.DeltaIn, s.DeltaIn(x, y, d), inPlane)
				deriv := derivative(a.Act, &out)
				delta.mul(&deriv)
				delta.store(a.Delta, s.Delta(x, y, d))
			}
		}
	}
	convDelta(a, end, s.OutDepth)
}

// ConvWeightGrad adds In_tap * Delta_row into each tap's
// InDepth x OutDepth weight block.
func (Lanes) ConvWeightGrad(a *ConvArgs) {
	s := a.Shape
	inPlane := s.InPadLen() * s.InPadLen()
	for kY := 0; kY < s.K; kY++ {
		for kX := 0; kX < s.K; kX++ {
			grad := general(s.InDepth, s.OutDepth, s.OutDepth, a.WgtGrad[s.Wgt(kX, kY, 0, 0):])
			for outY := 0; outY < s.OutLen; outY++ {
				in := general(s.InDepth, s.OutLen, inPlane, a.In[s.In(kX, outY+kY, 0):])
				delta := general(s.OutLen, s.OutDepth, s.OutDepth, a.Delta[s.Delta(0, outY, 0):])
				blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, in, delta, 1, grad)
			}
		}
	}
}

// ConvBiasGrad adds every pixel's delta row into BiasGrad.
func (Lanes) ConvBiasGrad(a *ConvArgs) {
	s := a.Shape
	bias := strided(s.OutDepth, 1, a.BiasGrad)
	for p := 0; p < s.OutLen*s.OutLen; p++ {
		blas32.Axpy(1, strided(s.OutDepth, 1, a.Delta[p*s.OutDepth:]), bias)
	}
}

// ConvInputGrad scatters W_tap * Delta_row^T back onto the input row each
// tap reads, clipped to the unpadded input.
func (Lanes) ConvInputGrad(a *ConvArgs) {
	s := a.Shape
	arena.Clear(a.DeltaOut)
	plane := s.InLen * s.InLen
	for kY := 0; kY < s.K; kY++ {
		for kX := 0; kX < s.K; kX++ {
			x0, x1 := span(kX, s.Pad, s.OutLen, s.InLen)
			if x0 >= x1 {
				continue
			}
			w := general(s.InDepth, s.OutDepth, s.OutDepth, a.Wgt[s.Wgt(kX, kY, 0, 0):])
			for outY := 0; outY < s.OutLen; outY++ {
				iy := outY + kY - s.Pad
				if iy < 0 || iy >= s.InLen {
					continue
				}
				delta := general(x1-x0, s.OutDepth, s.OutDepth, a.Delta[s.Delta(x0, outY, 0):])
				out := general(s.InDepth, x1-x0, plane, a.DeltaOut[s.DeltaOut(x0+kX-s.Pad, iy, 0):])
				blas32.Gemm(blas.NoTrans, blas.Trans, 1, w, delta, 1, out)
			}
		}
	}
}

// DepthwiseForward accumulates each tap's weighted input row into the
// output row of its channel.
func (Lanes) DepthwiseForward(a *ConvArgs) {
	s := a.Shape
	for d := 0; d < s.OutDepth; d++ {
		for outY := 0; outY < s.OutLen; outY++ {
			out := a.Out[s.Out(0, outY, d):][:s.OutLen]
			fill(out, a.Bias[d])
			row := strided(s.OutLen, 1, out)
			for kY := 0; kY < s.K; kY++ {
				for kX := 0; kX < s.K; kX++ {
					in := strided(s.OutLen, 1, a.In[s.In(kX, outY+kY, d):])
					blas32.Axpy(a.Wgt[s.DWgt(kX, kY, d)], in, row)
				}
			}
			a.Act.ActivateSlice(out)
		}
	}
}

// DepthwiseWeightGrad adds the dot product of each channel's delta and
// tap input rows into WgtGrad.
func (Lanes) DepthwiseWeightGrad(a *ConvArgs) {
	s := a.Shape
	for kY := 0; kY < s.K; kY++ {
		for kX := 0; kX < s.K; kX++ {
			for d := 0; d < s.OutDepth; d++ {
				var sum float32
				for outY := 0; outY < s.OutLen; outY++ {
					delta := strided(s.OutLen, s.OutDepth, a.Delta[s.Delta(0, outY, d):])
					in := strided(s.OutLen, 1, a.In[s.In(kX, outY+kY, d):])
					sum += blas32.Dot(delta, in)
				}
				a.WgtGrad[s.DWgt(kX, kY, d)] += sum
			}
		}
	}
}

// DepthwiseInputGrad scatters the weighted delta rows back onto the
// input, clipped to the unpadded plane.
func (Lanes) DepthwiseInputGrad(a *ConvArgs) {
	s := a.Shape
	arena.Clear(a.DeltaOut)
	for d := 0; d < s.OutDepth; d++ {
		for kY := 0; kY < s.K; kY++ {
			for kX := 0; kX < s.K; kX++ {
				x0, x1 := span(kX, s.Pad, s.OutLen, s.InLen)
				if x0 >= x1 {
					continue
				}
				w := a.Wgt[s.DWgt(kX, kY, d)]
				for outY := 0; outY < s.OutLen; outY++ {
					iy := outY + kY - s.Pad
					if iy < 0 || iy >= s.InLen {
						continue
					}
					delta := strided(x1-x0, s.OutDepth, a.Delta[s.Delta(x0, outY, d):])
					out := strided(x1-x0, 1, a.DeltaOut[s.DeltaOut(x0+kX-s.Pad, iy, d):])
					blas32.Axpy(w, delta, out)
				}
			}
		}
	}
}

// PoolForward selects the maximum of the four taps without branching on
// the comparison: the winning value and its tap index are merged in with
// XOR/AND masks. The comparison is strict, so the first tap wins ties.
func (Lanes) PoolForward(a *PoolArgs) {
	s := a.Shape
	end := blocks(s.OutDepth)
	inPlane := s.InPadLen() * s.InPadLen()
	outPlane := s.OutPadLen() * s.OutPadLen()
	for outY := 0; outY < s.OutLen; outY++ {
		for outX := 0; outX < s.OutLen; outX++ {
			for d := 0; d < end; d += Width {
				var maxBits, maxIdx [Width]uint32
				first := gather(a.In, s.In(2*outX, 2*outY, d), inPlane)
				for l := range first {
					maxBits[l] = math.Float32bits(first[l])
				}
				for k := uint32(1); k < 4; k++ {
					in := gather(a.In, s.In(2*outX+int(k&1), 2*outY+int(k>>1), d), inPlane)
					for l := range in {
						mask := gtMask(in[l], math.Float32frombits(maxBits[l]))
						maxBits[l] ^= (maxBits[l] ^ math.Float32bits(in[l])) & mask
						maxIdx[l] ^= (maxIdx[l] ^ k) & mask
					}
				}
				var out vec
				idx := a.Idx[s.Delta(outX, outY, d):]
				for l := range out {
					out[l] = math.Float32frombits(maxBits[l])
					idx[l] = uint8(maxIdx[l])
				}
				activate(a.Act, &out)
				out.scatter(a.Out, s.Out(outX, outY, d), outPlane)
			}
		}
	}
	poolForward(a, end, s.OutDepth)
}

// PoolBackward clears DeltaOut and routes each gradient to its winning tap.
func (Lanes) PoolBackward(a *PoolArgs) {
	s := a.Shape
	arena.Clear(a.DeltaOut)
	end := blocks(s.OutDepth)
	outPlane := s.OutPadLen() * s.OutPadLen()
	deltaPlane := s.OutLen * s.OutLen
	for outY := 0; outY < s.OutLen; outY++ {
		for outX := 0; outX < s.OutLen; outX++ {
			for d := 0; d < end; d += Width {
				out := gather(a.Out, s.Out(outX, outY, d), outPlane)
				delta := gather(a.DeltaIn, s.DeltaIn(outX, outY, d), deltaPlane)
				deriv := derivative(a.Act, &out)
				delta.mul(&deriv)
				idx := a.Idx[s.Delta(outX, outY, d):]
				for l := range delta {
					k := idx[l]
					a.DeltaOut[s.DeltaOut(2*outX+int(k&1), 2*outY+int(k>>1), d+l)] = delta[l]
				}
			}
		}
	}
	poolBackward(a, end, s.OutDepth)
}

func activate(f activations.Func, v *vec) {
	switch f {
	case activations.Identity:
	case activations.ReLU:
		for l := range v {
			v[l] = math.Float32frombits(math.Float32bits(v[l]) & gtMask(v[l], 0))
		}
	default:
		for l := range v {
			v[l] = f.Activate(v[l])
		}
	}
}

func derivative(f activations.Func, out *vec) vec {
	if f == activations.ReLU {
		return reluDeriv(out)
	}
	var d vec
	for l := range out {
		d[l] = f.Derivative(out[l])
	}
	return d
}
