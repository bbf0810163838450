// Package loss provides the training objective applied to the network output.
package loss

// Loss measures a prediction against a class label.
type Loss interface {
	// Value returns the loss of pred for the given class.
	Value(pred []float32, label int) float32

	// Delta writes the gradient of Value with respect to pred into dst.
	Delta(pred []float32, label int, dst []float32)
}

// ScaledSquared is a squared error against the one-hot encoded label:
// Scale/2 * sum((pred - onehot)^2). Its gradient is Scale*(pred - onehot).
type ScaledSquared struct {
	Scale float32
}

// Default is the objective used for training unless configured otherwise.
var Default = ScaledSquared{Scale: 0.2}

// Value returns Scale/2 times the squared error against the one-hot label.
func (l ScaledSquared) Value(pred []float32, label int) float32 {
	var sum float32
	for i, p := range pred {
		d := p - onehot(i, label)
		sum += d * d
	}
	return l.Scale / 2 * sum
}

// Delta writes Scale*(pred - onehot(label)) into dst.
func (l ScaledSquared) Delta(pred []float32, label int, dst []float32) {
	if len(dst) != len(pred) {
		panic("loss: ScaledSquared: prediction and delta must have same length")
	}
	for i, p := range pred {
		dst[i] = l.Scale * (p - onehot(i, label))
	}
}

func onehot(i, label int) float32 {
	if i == label {
		return 1
	}
	return 0
}
