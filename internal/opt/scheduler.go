package opt

import "math"

// Scheduler adjusts the learning rate between epochs.
type Scheduler interface {
	// Next returns the learning rate for the following epoch, given the
	// rate used for the epoch that just finished and its mean loss.
	Next(lr, loss float32) float32
}

// StepLR decays the learning rate by Gamma every StepSize epochs.
type StepLR struct {
	StepSize int
	Gamma    float32

	epoch int
}

// NewStepLR multiplies the rate by gamma every stepSize epochs.
func NewStepLR(stepSize int, gamma float32) *StepLR {
	return &StepLR{StepSize: stepSize, Gamma: gamma}
}

// Next returns the rate for the next epoch.
func (s *StepLR) Next(lr, _ float32) float32 {
	s.epoch++
	if s.StepSize > 0 && s.epoch%s.StepSize == 0 {
		return lr * s.Gamma
	}
	return lr
}

// ExponentialLR decays the learning rate by Gamma every epoch.
type ExponentialLR struct {
	Gamma float32
}

// NewExponentialLR multiplies the rate by gamma every epoch.
func NewExponentialLR(gamma float32) *ExponentialLR {
	return &ExponentialLR{Gamma: gamma}
}

// Next returns lr scaled by Gamma.
func (s *ExponentialLR) Next(lr, _ float32) float32 { return lr * s.Gamma }

// ReduceLROnPlateau reduces the learning rate when the loss has stopped
// improving for Patience epochs.
type ReduceLROnPlateau struct {
	Factor    float32
	Patience  int
	Threshold float32
	Cooldown  int
	MinLR     float32

	bestLoss        float32
	numBadEpochs    int
	cooldownCounter int
}

// NewReduceLROnPlateau creates a plateau scheduler that never goes below
// minLR.
func NewReduceLROnPlateau(factor float32, patience int, threshold, minLR float32) *ReduceLROnPlateau {
	return &ReduceLROnPlateau{
		Factor:    factor,
		Patience:  patience,
		Threshold: threshold,
		MinLR:     minLR,
		bestLoss:  math.MaxFloat32,
	}
}

// Next returns the rate for the next epoch given the last epoch's loss.
func (s *ReduceLROnPlateau) Next(lr, loss float32) float32 {
	if s.cooldownCounter > 0 {
		s.cooldownCounter--
		return lr
	}

	if loss < s.bestLoss-s.Threshold {
		s.bestLoss = loss
		s.numBadEpochs = 0
	} else {
		s.numBadEpochs++
	}

	if s.numBadEpochs < s.Patience {
		return lr
	}
	s.numBadEpochs = 0
	s.cooldownCounter = s.Cooldown
	if next := lr * s.Factor; next > s.MinLR {
		return next
	}
	return s.MinLR
}
