// Package activations provides the activation functions a layer can be built with.
package activations

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnsupported is returned when an activation cannot be used by a layer.
var ErrUnsupported = errors.New("activations: unsupported activation")

// Func selects the pointwise function applied after a layer's linear combination.
// The set is closed; the zero value is Identity.
type Func int

const (
	Identity Func = iota
	ReLU
	Tanh
	Sigmoid
	// Softmax is part of the enumeration but no layer accepts it.
	Softmax
)

var names = [...]string{
	Identity: "identity",
	ReLU:     "relu",
	Tanh:     "tanh",
	Sigmoid:  "sigmoid",
	Softmax:  "softmax",
}

// String returns the lower-case name of the function.
func (f Func) String() string {
	if f < 0 || int(f) >= len(names) {
		return fmt.Sprintf("Func(%d)", int(f))
	}
	return names[f]
}

// ParseFunc maps a name such as "relu" to its Func.
func ParseFunc(name string) (Func, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, s := range names {
		if s == n {
			return Func(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupported, name)
}

// Validate reports whether a layer can be constructed with f.
func (f Func) Validate() error {
	switch f {
	case Identity, ReLU, Tanh, Sigmoid:
		return nil
	case Softmax:
		return fmt.Errorf("%w: softmax is not implemented", ErrUnsupported)
	default:
		return fmt.Errorf("%w: %v", ErrUnsupported, f)
	}
}

// Activate computes f(x).
func (f Func) Activate(x float32) float32 {
	switch f {
	case ReLU:
		if x > 0 {
			return x
		}
		return 0
	case Tanh:
		return float32(math.Tanh(float64(x)))
	case Sigmoid:
		return float32(1 / (1 + math.Exp(-float64(x))))
	default:
		return x
	}
}

// Derivative computes f'(z) from the activated output out = f(z).
// Softmax reports 1, which only the fully-connected table ever consults.
func (f Func) Derivative(out float32) float32 {
	switch f {
	case ReLU:
		if out > 0 {
			return 1
		}
		return 0
	case Tanh:
		return 1 - out*out
	case Sigmoid:
		return out * (1 - out)
	default:
		return 1
	}
}

// ActivateSlice applies f in place.
func (f Func) ActivateSlice(x []float32) {
	if f == Identity {
		return
	}
	for i, v := range x {
		x[i] = f.Activate(v)
	}
}
