package kernel

import "math"

// vec is one group of Width float32 lanes.
type vec [Width]float32

func gather(s []float32, i, stride int) (v vec) {
	for l := range v {
		v[l] = s[i+l*stride]
	}
	return v
}

func (v *vec) store(s []float32, i int) {
	copy(s[i:i+Width], v[:])
}

func (v *vec) scatter(s []float32, i, stride int) {
	for l := range v {
		s[i+l*stride] = v[l]
	}
}

func (v *vec) mul(b *vec) {
	for l := range v {
		v[l] *= b[l]
	}
}

// gtMask returns all ones when a > b and zero otherwise. a > b holds
// exactly when a-b is positive and not NaN, that is when the bits of a-b
// lie in [1, +Inf]; both range checks are folded into one sign bit.
func gtMask(a, b float32) uint32 {
	d := int64(math.Float32bits(a-b)) - 1
	return uint32((^d & (d - 0x7f800000)) >> 63)
}

var oneBits = math.Float32bits(1)

// reluDeriv returns 1 in every lane whose output is positive, using the
// compare mask instead of a branch per lane.
func reluDeriv(out *vec) (d vec) {
	for l := range out {
		d[l] = math.Float32frombits(gtMask(out[l], 0) & oneBits)
	}
	return d
}
