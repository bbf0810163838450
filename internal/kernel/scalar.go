package kernel

import "github.com/FlavioCFOliveira/GoConvNet/internal/arena"

// Scalar is the reference kernel. It is always available and is the
// baseline the Lanes kernel is tested against.
type Scalar struct{}

// Name returns "scalar".
func (Scalar) Name() string { return "scalar" }

// ConvForward computes every output cell as bias plus the window dot product.
func (Scalar) ConvForward(a *ConvArgs) { convForward(a, 0, a.Shape.OutDepth) }

// ConvDelta multiplies the incoming gradient by the activation derivative.
func (Scalar) ConvDelta(a *ConvArgs) { convDelta(a, 0, a.Shape.OutDepth) }

// ConvWeightGrad adds the input-delta correlation into WgtGrad.
func (Scalar) ConvWeightGrad(a *ConvArgs) { convWeightGrad(a, 0, a.Shape.OutDepth) }

// ConvBiasGrad adds the per-channel delta sum into BiasGrad.
func (Scalar) ConvBiasGrad(a *ConvArgs) { convBiasGrad(a, 0, a.Shape.OutDepth) }

// ConvInputGrad overwrites DeltaOut with the gradient of every input cell.
func (Scalar) ConvInputGrad(a *ConvArgs) {
	s := a.Shape
	for inD := 0; inD < s.InDepth; inD++ {
		for iy := 0; iy < s.InLen; iy++ {
			for ix := 0; ix < s.InLen; ix++ {
				a.DeltaOut[s.DeltaOut(ix, iy, inD)] = inputGradTerm(a, ix, iy, inD, 0, s.OutDepth)
			}
		}
	}
}

// DepthwiseForward convolves each channel with its own filter.
func (Scalar) DepthwiseForward(a *ConvArgs) { depthwiseForward(a, 0, a.Shape.OutDepth) }

// DepthwiseWeightGrad adds each channel's input-delta correlation into WgtGrad.
func (Scalar) DepthwiseWeightGrad(a *ConvArgs) { depthwiseWeightGrad(a, 0, a.Shape.OutDepth) }

// DepthwiseInputGrad overwrites DeltaOut with each channel's input gradient.
func (Scalar) DepthwiseInputGrad(a *ConvArgs) { depthwiseInputGrad(a, 0, a.Shape.OutDepth) }

// PoolForward keeps the largest of each 2x2 window and records its tap.
func (Scalar) PoolForward(a *PoolArgs) { poolForward(a, 0, a.Shape.OutDepth) }

// PoolBackward clears DeltaOut and routes each gradient to its winning tap.
func (Scalar) PoolBackward(a *PoolArgs) {
	arena.Clear(a.DeltaOut)
	poolBackward(a, 0, a.Shape.OutDepth)
}

// window returns the kernel offsets k for which o = i+pad-k is a valid
// output coordinate.
func window(i, pad, k, outLen int) (lo, hi int) {
	lo = i + pad - (outLen - 1)
	if lo < 0 {
		lo = 0
	}
	hi = i + pad
	if hi > k-1 {
		hi = k - 1
	}
	return lo, hi
}

func convForward(a *ConvArgs, d0, d1 int) {
	s := a.Shape
	for outD := d0; outD < d1; outD++ {
		for outY := 0; outY < s.OutLen; outY++ {
			for outX := 0; outX < s.OutLen; outX++ {
				var sum float32
				for inD := 0; inD < s.InDepth; inD++ {
					for kY := 0; kY < s.K; kY++ {
						for kX := 0; kX < s.K; kX++ {
							sum += a.In[s.In(outX+kX, outY+kY, inD)] * a.Wgt[s.Wgt(kX, kY, inD, outD)]
						}
					}
				}
				sum += a.Bias[outD]
				a.Out[s.Out(outX, outY, outD)] = a.Act.Activate(sum)
			}
		}
	}
}

func convDelta(a *ConvArgs, d0, d1 int) {
	s := a.Shape
	for d := d0; d < d1; d++ {
		for y := 0; y < s.OutLen; y++ {
			for x := 0; x < s.OutLen; x++ {
				deriv := a.Act.Derivative(a.Out[s.Out(x, y, d)])
				a.Delta[s.Delta(x, y, d)] = a.DeltaIn[s.DeltaIn(x, y, d)] * deriv
			}
		}
	}
}

func convWeightGrad(a *ConvArgs, d0, d1 int) {
	s := a.Shape
	for kY := 0; kY < s.K; kY++ {
		for kX := 0; kX < s.K; kX++ {
			for inD := 0; inD < s.InDepth; inD++ {
				for outD := d0; outD < d1; outD++ {
					var sum float32
					for outY := 0; outY < s.OutLen; outY++ {
						for outX := 0; outX < s.OutLen; outX++ {
							sum += a.Delta[s.Delta(outX, outY, outD)] * a.In[s.In(outX+kX, outY+kY, inD)]
						}
					}
					a.WgtGrad[s.Wgt(kX, kY, inD, outD)] += sum
				}
			}
		}
	}
}

func convBiasGrad(a *ConvArgs, d0, d1 int) {
	s := a.Shape
	for d := d0; d < d1; d++ {
		var sum float32
		for y := 0; y < s.OutLen; y++ {
			for x := 0; x < s.OutLen; x++ {
				sum += a.Delta[s.Delta(x, y, d)]
			}
		}
		a.BiasGrad[d] += sum
	}
}

// inputGradTerm sums, over output channels [d0,d1), the contributions of
// every output position whose receptive field covers input (ix, iy). It is
// the full correlation of the delta with the spatially reversed kernel,
// clipped to the valid output range.
func inputGradTerm(a *ConvArgs, ix, iy, inD, d0, d1 int) float32 {
	s := a.Shape
	kyLo, kyHi := window(iy, s.Pad, s.K, s.OutLen)
	kxLo, kxHi := window(ix, s.Pad, s.K, s.OutLen)
	var sum float32
	for outD := d0; outD < d1; outD++ {
		for kY := kyLo; kY <= kyHi; kY++ {
			outY := iy + s.Pad - kY
			for kX := kxLo; kX <= kxHi; kX++ {
				outX := ix + s.Pad - kX
				sum += a.Delta[s.Delta(outX, outY, outD)] * a.Wgt[s.Wgt(kX, kY, inD, outD)]
			}
		}
	}
	return sum
}

func depthwiseForward(a *ConvArgs, d0, d1 int) {
	s := a.Shape
	for d := d0; d < d1; d++ {
		for outY := 0; outY < s.OutLen; outY++ {
			for outX := 0; outX < s.OutLen; outX++ {
				var sum float32
				for kY := 0; kY < s.K; kY++ {
					for kX := 0; kX < s.K; kX++ {
						sum += a.In[s.In(outX+kX, outY+kY, d)] * a.Wgt[s.DWgt(kX, kY, d)]
					}
				}
				sum += a.Bias[d]
				a.Out[s.Out(outX, outY, d)] = a.Act.Activate(sum)
			}
		}
	}
}

func depthwiseWeightGrad(a *ConvArgs, d0, d1 int) {
	s := a.Shape
	for kY := 0; kY < s.K; kY++ {
		for kX := 0; kX < s.K; kX++ {
			for d := d0; d < d1; d++ {
				var sum float32
				for outY := 0; outY < s.OutLen; outY++ {
					for outX := 0; outX < s.OutLen; outX++ {
						sum += a.Delta[s.Delta(outX, outY, d)] * a.In[s.In(outX+kX, outY+kY, d)]
					}
				}
				a.WgtGrad[s.DWgt(kX, kY, d)] += sum
			}
		}
	}
}

func depthwiseInputGrad(a *ConvArgs, d0, d1 int) {
	s := a.Shape
	for d := d0; d < d1; d++ {
		for iy := 0; iy < s.InLen; iy++ {
			kyLo, kyHi := window(iy, s.Pad, s.K, s.OutLen)
			for ix := 0; ix < s.InLen; ix++ {
				kxLo, kxHi := window(ix, s.Pad, s.K, s.OutLen)
				var sum float32
				for kY := kyLo; kY <= kyHi; kY++ {
					for kX := kxLo; kX <= kxHi; kX++ {
						sum += a.Delta[s.Delta(ix+s.Pad-kX, iy+s.Pad-kY, d)] * a.Wgt[s.DWgt(kX, kY, d)]
					}
				}
				a.DeltaOut[s.DeltaOut(ix, iy, d)] = sum
			}
		}
	}
}

func poolForward(a *PoolArgs, d0, d1 int) {
	s := a.Shape
	for d := d0; d < d1; d++ {
		for outY := 0; outY < s.OutLen; outY++ {
			for outX := 0; outX < s.OutLen; outX++ {
				maxVal := a.In[s.In(2*outX, 2*outY, d)]
				var maxIdx uint8
				for k := uint8(1); k < 4; k++ {
					v := a.In[s.In(2*outX+int(k&1), 2*outY+int(k>>1), d)]
					if v > maxVal {
						maxVal, maxIdx = v, k
					}
				}
				a.Out[s.Out(outX, outY, d)] = a.Act.Activate(maxVal)
				a.Idx[s.Delta(outX, outY, d)] = maxIdx
			}
		}
	}
}

// poolBackward routes each cell's gradient to the tap that won the forward
// pass. DeltaOut must already be zero.
func poolBackward(a *PoolArgs, d0, d1 int) {
	s := a.Shape
	for d := d0; d < d1; d++ {
		for outY := 0; outY < s.OutLen; outY++ {
			for outX := 0; outX < s.OutLen; outX++ {
				k := a.Idx[s.Delta(outX, outY, d)]
				inX := 2*outX + int(k&1)
				inY := 2*outY + int(k>>1)
				deriv := a.Act.Derivative(a.Out[s.Out(outX, outY, d)])
				a.DeltaOut[s.DeltaOut(inX, inY, d)] = deriv * a.DeltaIn[s.DeltaIn(outX, outY, d)]
			}
		}
	}
}
