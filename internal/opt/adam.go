// Package opt provides the parameter update rule and learning rate schedules.
package opt

import "math"

// Adam is the adaptive moment optimizer shared by every parameter of one
// layer. The moment estimates live alongside the parameters and are only
// touched by Step, which runs single-threaded after each batch.
type Adam struct {
	Beta1   float32
	Beta2   float32
	Epsilon float32

	m, v     []float32
	b1t, b2t float32
	steps    int
}

// NewAdam creates an optimizer for size parameters with the default
// decay rates.
func NewAdam(size int) *Adam {
	return &Adam{
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-6,
		m:       make([]float32, size),
		v:       make([]float32, size),
		b1t:     0.9,
		b2t:     0.999,
	}
}

// Size returns the number of parameters tracked.
func (a *Adam) Size() int { return len(a.m) }

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int { return a.steps }

// Step applies one update to params. grad holds gradients summed over a
// batch of batchSize samples; the mean is taken here. The step size grows
// with the square root of the batch size. The bias correction powers are
// advanced before use, so the first step divides by 1-Beta1^2.
func (a *Adam) Step(params, grad []float32, batchSize int, learningRate float32) {
	if len(params) != len(a.m) || len(grad) != len(a.m) {
		panic("opt: Adam size mismatch")
	}
	inv := 1 / float32(batchSize)
	alpha := 0.001 * float32(math.Sqrt(float64(batchSize))) * learningRate
	a.b1t *= a.Beta1
	a.b2t *= a.Beta2
	c1 := 1 / (1 - a.b1t)
	c2 := 1 / (1 - a.b2t)
	for i := range params {
		g := grad[i] * inv
		a.m[i] = a.Beta1*a.m[i] + (1-a.Beta1)*g
		a.v[i] = a.Beta2*a.v[i] + (1-a.Beta2)*g*g
		mHat := a.m[i] * c1
		vHat := a.v[i] * c2
		params[i] -= alpha * mHat / (float32(math.Sqrt(float64(vHat))) + a.Epsilon)
	}
	a.steps++
}

// Reset clears the moment estimates and the bias correction powers.
func (a *Adam) Reset() {
	for i := range a.m {
		a.m[i] = 0
		a.v[i] = 0
	}
	a.b1t, a.b2t = a.Beta1, a.Beta2
	a.steps = 0
}
