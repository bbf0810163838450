package net

import (
	"log"
	"time"

	"github.com/FlavioCFOliveira/GoConvNet/internal/opt"
)

// EpochStats summarises one training epoch.
type EpochStats struct {
	Epoch        int
	Loss         float32 // mean training loss per sample
	ValAccuracy  float32 // accuracy on the epoch's validation fold
	LearningRate float32
	Duration     time.Duration
}

// Callback defines the interface for training callbacks. Epochs are
// numbered from 1, batches from 0. Callbacks run on the goroutine that
// called Fit, between batches.
type Callback interface {
	OnTrainBegin(n *Network)
	OnTrainEnd(n *Network)
	OnEpochBegin(epoch int, n *Network)
	OnEpochEnd(epoch int, stats EpochStats, n *Network)
	OnBatchBegin(batch int, n *Network)
	OnBatchEnd(batch int, loss float32, n *Network)
}

// BaseCallback provides default empty implementations for Callback.
type BaseCallback struct{}

// OnTrainBegin does nothing.
func (c BaseCallback) OnTrainBegin(n *Network) {}
// OnTrainEnd does nothing.
func (c BaseCallback) OnTrainEnd(n *Network) {}
// OnEpochBegin does nothing.
func (c BaseCallback) OnEpochBegin(epoch int, n *Network) {}
// OnEpochEnd does nothing.
func (c BaseCallback) OnEpochEnd(epoch int, stats EpochStats, n *Network) {}
// OnBatchBegin does nothing.
func (c BaseCallback) OnBatchBegin(batch int, n *Network) {}
// OnBatchEnd does nothing.
func (c BaseCallback) OnBatchEnd(batch int, loss float32, n *Network) {}

// SchedulerCallback adjusts the network's learning rate after every epoch.
type SchedulerCallback struct {
	BaseCallback
	scheduler opt.Scheduler
}

// NewSchedulerCallback wraps scheduler as a callback.
func NewSchedulerCallback(scheduler opt.Scheduler) *SchedulerCallback {
	return &SchedulerCallback{scheduler: scheduler}
}

// OnEpochEnd sets the learning rate for the next epoch.
func (c *SchedulerCallback) OnEpochEnd(epoch int, stats EpochStats, n *Network) {
	n.SetLearningRate(c.scheduler.Next(n.LearningRate(), stats.Loss))
}

// Logger logs training progress every Interval epochs.
type Logger struct {
	BaseCallback
	Interval int
	Out      *log.Logger // defaults to log.Default()
}

// OnEpochEnd prints the epoch summary when epoch is a multiple of Interval.
func (c Logger) OnEpochEnd(epoch int, stats EpochStats, n *Network) {
	if c.Interval <= 0 || epoch%c.Interval != 0 {
		return
	}
	out := c.Out
	if out == nil {
		out = log.Default()
	}
	out.Printf("epoch %d: loss=%.6f val_acc=%.4f (%s)", epoch, stats.Loss, stats.ValAccuracy, stats.Duration.Round(time.Millisecond))
}

// History records the statistics of every epoch.
type History struct {
	BaseCallback
	Epochs  []EpochStats
	Batches int
}

// OnTrainBegin clears the previous run.
func (h *History) OnTrainBegin(n *Network) {
	h.Epochs = h.Epochs[:0]
	h.Batches = 0
}

// OnEpochEnd appends stats.
func (h *History) OnEpochEnd(epoch int, stats EpochStats, n *Network) {
	h.Epochs = append(h.Epochs, stats)
}

// OnBatchEnd counts the batch.
func (h *History) OnBatchEnd(batch int, loss float32, n *Network) {
	h.Batches++
}
