// Package convnet exposes the network, its layers and the data loaders
// behind one import.
package convnet

import (
	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
	"github.com/FlavioCFOliveira/GoConvNet/internal/dataset"
	"github.com/FlavioCFOliveira/GoConvNet/internal/kernel"
	"github.com/FlavioCFOliveira/GoConvNet/internal/layer"
	"github.com/FlavioCFOliveira/GoConvNet/internal/loss"
	"github.com/FlavioCFOliveira/GoConvNet/internal/net"
	"github.com/FlavioCFOliveira/GoConvNet/internal/opt"
)

// Re-export common types for easier access
type (
	Network    = net.Network
	Config     = net.Config
	Layer      = layer.Layer
	Option     = layer.Option
	Activation = activations.Func
	Loss       = loss.Loss
	Dataset    = dataset.Dataset
	Callback   = net.Callback
	EpochStats = net.EpochStats
	History    = net.History
)

// Activations
const (
	Identity = activations.Identity
	ReLU     = activations.ReLU
	Tanh     = activations.Tanh
	Sigmoid  = activations.Sigmoid
)

// Network creation
func New(cfg Config) *Network {
	return net.New(cfg)
}

func DefaultConfig() Config {
	return net.DefaultConfig()
}

// Layers
func Conv(k, inLen, inDepth, outLen, outDepth int, act Activation, opts ...Option) (*layer.Conv, error) {
	return layer.NewConv(k, inLen, inDepth, outLen, outDepth, act, opts...)
}

func Depthwise(k, inLen, depth, outLen int, act Activation, opts ...Option) (*layer.Conv, error) {
	return layer.NewDepthwise(k, inLen, depth, outLen, act, opts...)
}

func Pointwise(inLen, inDepth, outDepth int, act Activation, opts ...Option) (*layer.Conv, error) {
	return layer.NewPointwise(inLen, inDepth, outDepth, act, opts...)
}

func MaxPool(k, inLen, depth int, act Activation, opts ...Option) (*layer.Pool, error) {
	return layer.NewPool(k, inLen, depth, act, opts...)
}

func Linear(inSize, outSize int, act Activation, opts ...Option) (*layer.Linear, error) {
	return layer.NewLinear(inSize, outSize, act, opts...)
}

// Layer options
func WithSeed(seed int64) Option {
	return layer.WithSeed(seed)
}

// WithKernel selects the arithmetic backend by name: "scalar" or "lanes".
func WithKernel(name string) (Option, error) {
	k, err := kernel.ByName(name)
	if err != nil {
		return nil, err
	}
	return layer.WithKernel(k), nil
}

// Losses
func ScaledSquared(scale float32) Loss {
	return loss.ScaledSquared{Scale: scale}
}

// Callbacks
func Logger(interval int) net.Logger {
	return net.Logger{Interval: interval}
}

func CSVLogger(filename string, appendMode bool) *net.CSVLogger {
	return net.NewCSVLogger(filename, appendMode)
}

func StepLR(stepSize int, gamma float32) Callback {
	return net.NewSchedulerCallback(opt.NewStepLR(stepSize, gamma))
}

func ExponentialLR(gamma float32) Callback {
	return net.NewSchedulerCallback(opt.NewExponentialLR(gamma))
}

func ReduceLROnPlateau(factor float32, patience int, threshold, minLR float32) Callback {
	return net.NewSchedulerCallback(opt.NewReduceLROnPlateau(factor, patience, threshold, minLR))
}

// Data
func NewDataset(data []float32, labels []byte, n, length, depth int) (*Dataset, error) {
	return dataset.New(data, labels, n, length, depth)
}

func LoadMNIST(imagesPath, labelsPath string) (*Dataset, error) {
	return dataset.LoadMNIST(imagesPath, labelsPath)
}

func LoadCIFAR(paths ...string) (*Dataset, error) {
	return dataset.LoadCIFAR(paths...)
}

func LoadCSV(filename string, length, depth int, hasHeader bool) (*Dataset, error) {
	return dataset.LoadCSV(filename, length, depth, hasHeader)
}
