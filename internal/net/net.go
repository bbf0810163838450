// Package net provides the network orchestrator: layer assembly, buffer
// wiring, the training loop and evaluation.
package net

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/FlavioCFOliveira/GoConvNet/internal/arena"
	"github.com/FlavioCFOliveira/GoConvNet/internal/dataset"
	"github.com/FlavioCFOliveira/GoConvNet/internal/kernel"
	"github.com/FlavioCFOliveira/GoConvNet/internal/layer"
	"github.com/FlavioCFOliveira/GoConvNet/internal/loss"
	"github.com/FlavioCFOliveira/GoConvNet/internal/parallel"
)

var (
	// ErrEmptyNetwork is returned by Build when no layer was added.
	ErrEmptyNetwork = errors.New("net: network has no layers")
	// ErrAlreadyBuilt is returned by a second call to Build.
	ErrAlreadyBuilt = errors.New("net: network already built")
	// ErrNotBuilt is returned by operations that need Build first.
	ErrNotBuilt = errors.New("net: network not built")
	// ErrShapeMismatch reports adjacent layers whose sizes do not chain,
	// or samples and labels of the wrong length.
	ErrShapeMismatch = errors.New("net: shape mismatch")
	// ErrBatchSize reports a batch size outside [1, samples].
	ErrBatchSize = errors.New("net: invalid batch size")
	// ErrNoData is returned when there is no dataset or it is empty.
	ErrNoData = errors.New("net: no training data")
	// ErrLayerAfterBuild is recorded by Add once the network is built.
	ErrLayerAfterBuild = errors.New("net: layer added after Build")
)

// Config holds the hyperparameters of a training run.
type Config struct {
	Workers      int // size of the worker pool; <= 0 uses every logical core
	BatchSize    int
	Epochs       int
	LearningRate float32
	Seed         int64 // seeds the per-epoch shuffle

	// ValidationFolds splits the training set for the accuracy reported
	// after each epoch; epoch e evaluates fold e mod ValidationFolds.
	// Zero disables the report.
	ValidationFolds int

	Loss   loss.Loss   // defaults to loss.Default
	Logger *log.Logger // receives one line describing the network at Build
}

// DefaultConfig returns the configuration used by New when fields are unset.
func DefaultConfig() Config {
	return Config{
		Workers:         parallel.DefaultSize(),
		BatchSize:       32,
		Epochs:          1,
		LearningRate:    0.01,
		Seed:            1,
		ValidationFolds: 10,
		Loss:            loss.Default,
	}
}

// Network is an ordered chain of layers trained with data-parallel
// mini-batches. Every worker owns a full copy of the activation and delta
// buffers; parameters are shared and only written by Update.
type Network struct {
	cfg    Config
	layers []layer.Layer
	err    error

	built bool
	pool  *parallel.Pool
	arena *arena.Arena

	input     arena.Handle // padded input of the first layer
	output    arena.Handle // output of the last layer
	lossDelta arena.Handle // gradient of the loss w.r.t. output

	lossSums []float64   // per worker
	correct  []int       // per worker
	scores   [][]float64 // per worker, for the arg-max

	data      *dataset.Dataset
	callbacks []Callback
	rng       *rand.Rand
}

// New creates an empty network.
func New(cfg Config) *Network {
	if cfg.Loss == nil {
		cfg.Loss = loss.Default
	}
	return &Network{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// Add appends l to the network. Errors are reported by Build.
func (n *Network) Add(l layer.Layer) *Network {
	switch {
	case n.built:
		n.err = errors.Join(n.err, ErrLayerAfterBuild)
	case l == nil:
		n.err = errors.Join(n.err, fmt.Errorf("net: layer %d is nil", len(n.layers)))
	default:
		n.layers = append(n.layers, l)
	}
	return n
}

// Err returns the errors recorded by Add.
func (n *Network) Err() error { return n.err }

// SetData sets the dataset Fit trains on.
func (n *Network) SetData(d *dataset.Dataset) { n.data = d }

// SetBatchSize sets the number of samples per update.
func (n *Network) SetBatchSize(size int) { n.cfg.BatchSize = size }

// SetEpochs sets the number of passes Fit makes over the data.
func (n *Network) SetEpochs(epochs int) { n.cfg.Epochs = epochs }

// SetLearningRate sets the rate used by the next update.
func (n *Network) SetLearningRate(lr float32) { n.cfg.LearningRate = lr }

// SetCallbacks replaces the callbacks invoked during Fit.
func (n *Network) SetCallbacks(callbacks ...Callback) { n.callbacks = callbacks }

// LearningRate returns the current learning rate.
func (n *Network) LearningRate() float32 { return n.cfg.LearningRate }

// Config returns a copy of the network's configuration.
func (n *Network) Config() Config { return n.cfg }

// Layers returns the layers in forward order.
func (n *Network) Layers() []layer.Layer { return n.layers }

// Workers returns the size of the worker pool, or 0 before Build.
func (n *Network) Workers() int {
	if n.pool == nil {
		return 0
	}
	return n.pool.Size()
}

// Edges returns the buffer graph created by Build.
func (n *Network) Edges() []arena.Edge {
	if n.arena == nil {
		return nil
	}
	return n.arena.Edges()
}

func layerName(i int, l layer.Layer) string {
	return fmt.Sprintf("%s%d", l.Kind(), i)
}

// checkChain verifies that each layer's output feeds the next layer's input.
func (n *Network) checkChain() error {
	for i := 1; i < len(n.layers); i++ {
		prev, next := n.layers[i-1].Shape(), n.layers[i].Shape()
		ok := prev.OutputSize() == next.DeltaOutSize()
		if n.layers[i].Kind() != layer.KindLinear {
			ok = ok && prev.OutLen == next.InLen && prev.OutDepth == next.InDepth
		}
		if !ok {
			return fmt.Errorf("%w: %s outputs %dx%dx%d, %s expects %dx%dx%d", ErrShapeMismatch,
				layerName(i-1, n.layers[i-1]), prev.OutLen, prev.OutLen, prev.OutDepth,
				layerName(i, n.layers[i]), next.InLen, next.InLen, next.InDepth)
		}
	}
	return nil
}

// Build wires the layers together. The first layer reads the network
// input, the last writes the network output and reads the loss delta, and
// every adjacent pair shares one activation and one delta buffer. The
// producer writes its output straight into the consumer's padded input.
func (n *Network) Build() error {
	if n.built {
		return ErrAlreadyBuilt
	}
	if n.err != nil {
		return n.err
	}
	if len(n.layers) == 0 {
		return ErrEmptyNetwork
	}
	if err := n.checkChain(); err != nil {
		return err
	}

	n.pool = parallel.New(n.cfg.Workers)
	a := arena.New(n.pool.Size())
	count := len(n.layers)
	first, last := n.layers[0], n.layers[count-1]

	acts := make([]arena.Handle, count+1)
	deltas := make([]arena.Handle, count+1)
	acts[0] = a.Alloc("input", first.Shape().InputSize())
	for i := 1; i < count; i++ {
		acts[i] = a.Alloc(fmt.Sprintf("act%d", i), n.layers[i].Shape().InputSize())
	}
	acts[count] = a.Alloc("output", last.Shape().OutputSize())
	for i := 0; i < count; i++ {
		deltas[i] = a.Alloc(fmt.Sprintf("delta%d", i), n.layers[i].Shape().DeltaOutSize())
	}
	deltas[count] = a.Alloc("loss.delta", last.Shape().OutputSize())

	for i, l := range n.layers {
		name := layerName(i, l)
		producer, consumer := "input", "loss"
		if i > 0 {
			producer = layerName(i-1, n.layers[i-1])
		}
		outPad := 0
		if i+1 < count {
			outPad = n.layers[i+1].Shape().Pad
			consumer = layerName(i+1, n.layers[i+1])
		}
		a.Connect(acts[i], producer, name)
		a.Connect(deltas[i+1], consumer, name)

		io := layer.IO{
			Name:     name,
			In:       acts[i],
			Out:      acts[i+1],
			DeltaIn:  deltas[i+1],
			DeltaOut: deltas[i],
			OutPad:   outPad,
		}
		if err := l.Bind(a, io); err != nil {
			n.pool.Close()
			n.pool = nil
			return fmt.Errorf("net: bind %s: %w", name, err)
		}
	}
	a.Connect(acts[count], layerName(count-1, last), "loss")

	n.arena = a
	n.input, n.output, n.lossDelta = acts[0], acts[count], deltas[count]
	n.lossSums = make([]float64, n.pool.Size())
	n.correct = make([]int, n.pool.Size())
	n.scores = make([][]float64, n.pool.Size())
	for w := range n.scores {
		n.scores[w] = make([]float64, last.Shape().OutputSize())
	}
	n.built = true

	if n.cfg.Logger != nil {
		n.cfg.Logger.Printf("network: %d layers, %d params, %d workers, kernel %s",
			count, n.NumParams(), n.pool.Size(), n.kernelName())
	}
	return nil
}

func (n *Network) kernelName() string {
	for _, l := range n.layers {
		if k, ok := l.(interface{ Kernel() kernel.Kernel }); ok && l.Kind() != layer.KindLinear {
			return k.Kernel().Name()
		}
	}
	return "none"
}

// NumParams returns the number of trainable values across all layers.
func (n *Network) NumParams() int {
	total := 0
	for _, l := range n.layers {
		total += l.NumParams()
	}
	return total
}

// Summary writes one row per layer with its output shape and parameter
// count.
func (n *Network) Summary(w io.Writer) {
	fmt.Fprintln(w, "_________________________________________________________________")
	fmt.Fprintf(w, "%-20s %-20s %-10s\n", "Layer (kind)", "Output Shape", "Param #")
	fmt.Fprintln(w, "=================================================================")
	for i, l := range n.layers {
		s := l.Shape()
		shape := fmt.Sprintf("(%d, %d, %d)", s.OutLen, s.OutLen, s.OutDepth)
		if l.Kind() == layer.KindLinear {
			shape = fmt.Sprintf("(%d)", s.OutDepth)
		}
		fmt.Fprintf(w, "%-20s %-20s %-10d\n", layerName(i, l), shape, l.NumParams())
	}
	fmt.Fprintln(w, "=================================================================")
	fmt.Fprintf(w, "Total params: %d\n", n.NumParams())
}

// Close stops the worker pool.
func (n *Network) Close() {
	if n.pool != nil {
		n.pool.Close()
	}
}

// load copies sample into worker's padded input buffer. The halo is never
// written, so it stays zero.
func (n *Network) load(worker int, sample []float32) {
	s := n.layers[0].Shape()
	in := n.arena.View(n.input, worker)
	p := s.InPadLen()
	for d := 0; d < s.InDepth; d++ {
		for y := 0; y < s.InLen; y++ {
			src := sample[(d*s.InLen+y)*s.InLen:][:s.InLen]
			copy(in[p*p*d+p*(y+s.Pad)+s.Pad:], src)
		}
	}
}

func (n *Network) forward(worker int, sample []float32) []float32 {
	n.load(worker, sample)
	for _, l := range n.layers {
		l.Forward(worker)
	}
	return n.arena.View(n.output, worker)
}

func (n *Network) trainSample(worker int, sample []float32, label int) {
	out := n.forward(worker, sample)
	n.lossSums[worker] += float64(n.cfg.Loss.Value(out, label))
	n.cfg.Loss.Delta(out, label, n.arena.View(n.lossDelta, worker))
	for i := len(n.layers) - 1; i >= 0; i-- {
		n.layers[i].BackProp(worker)
	}
}

// predict returns the index of the largest output; ties go to the lowest index.
func (n *Network) predict(worker int, sample []float32) int {
	out := n.forward(worker, sample)
	scores := n.scores[worker]
	for i, v := range out {
		scores[i] = float64(v)
	}
	return floats.MaxIdx(scores)
}

func (n *Network) checkData(d *dataset.Dataset) error {
	if want := n.layers[0].Shape().DeltaOutSize(); d.SampleSize() != want {
		return fmt.Errorf("%w: samples have %d values, input layer expects %d", ErrShapeMismatch, d.SampleSize(), want)
	}
	return d.CheckLabels(n.layers[len(n.layers)-1].Shape().OutputSize())
}

// Fit trains the network on the data set by SetData for the configured
// number of epochs. Each epoch shuffles the samples and runs
// floor(N / BatchSize) batches; the remaining samples of the shuffled order
// are skipped for that epoch. A batch is spread over the workers, the
// layers are updated once every worker is done, and the network is then
// ready for the next batch.
func (n *Network) Fit() error {
	if !n.built {
		return ErrNotBuilt
	}
	if n.err != nil {
		return n.err
	}
	if n.data == nil || n.data.N == 0 {
		return ErrNoData
	}
	if err := n.checkData(n.data); err != nil {
		return err
	}
	batchSize := n.cfg.BatchSize
	if batchSize <= 0 || batchSize > n.data.N {
		return fmt.Errorf("%w: %d for %d samples", ErrBatchSize, batchSize, n.data.N)
	}

	order := make([]int, n.data.N)
	for i := range order {
		order[i] = i
	}
	batches := n.data.N / batchSize
	updateErrs := make([]error, len(n.layers))

	for _, cb := range n.callbacks {
		cb.OnTrainBegin(n)
	}
	for epoch := 0; epoch < n.cfg.Epochs; epoch++ {
		for _, cb := range n.callbacks {
			cb.OnEpochBegin(epoch+1, n)
		}
		start := time.Now()
		n.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var epochLoss float64
		for b := 0; b < batches; b++ {
			for _, cb := range n.callbacks {
				cb.OnBatchBegin(b, n)
			}
			batch := order[b*batchSize : (b+1)*batchSize]
			for _, l := range n.layers {
				l.InitBatch()
			}
			for w := range n.lossSums {
				n.lossSums[w] = 0
			}
			n.pool.For(len(batch), func(worker, i int) {
				idx := batch[i]
				n.trainSample(worker, n.data.Sample(idx), n.data.Label(idx))
			})

			lr := n.cfg.LearningRate
			n.pool.For(len(n.layers), func(_, i int) {
				updateErrs[i] = n.layers[i].Update(batchSize, lr)
			})
			if err := errors.Join(updateErrs...); err != nil {
				return err
			}

			var batchLoss float64
			for _, s := range n.lossSums {
				batchLoss += s
			}
			epochLoss += batchLoss
			for _, cb := range n.callbacks {
				cb.OnBatchEnd(b, float32(batchLoss/float64(batchSize)), n)
			}
		}

		stats := EpochStats{
			Epoch:        epoch + 1,
			Loss:         float32(epochLoss / float64(batches*batchSize)),
			LearningRate: n.cfg.LearningRate,
		}
		if folds := n.cfg.ValidationFolds; folds > 0 {
			if fold := n.data.Fold(epoch, folds); fold.N > 0 {
				stats.ValAccuracy = n.accuracy(fold)
			}
		}
		stats.Duration = time.Since(start)
		for _, cb := range n.callbacks {
			cb.OnEpochEnd(epoch+1, stats, n)
		}
	}
	for _, cb := range n.callbacks {
		cb.OnTrainEnd(n)
	}
	return nil
}

// accuracy runs every sample of d through the network, spread over the
// workers, and returns the fraction classified correctly.
func (n *Network) accuracy(d *dataset.Dataset) float32 {
	for w := range n.correct {
		n.correct[w] = 0
	}
	n.pool.For(d.N, func(worker, i int) {
		if n.predict(worker, d.Sample(i)) == d.Label(i) {
			n.correct[worker]++
		}
	})
	total := 0
	for _, c := range n.correct {
		total += c
	}
	return float32(total) / float32(d.N)
}

// Evaluate returns the accuracy of the network on d.
func (n *Network) Evaluate(d *dataset.Dataset) (float32, error) {
	if !n.built {
		return 0, ErrNotBuilt
	}
	if d == nil || d.N == 0 {
		return 0, ErrNoData
	}
	if err := n.checkData(d); err != nil {
		return 0, err
	}
	return n.accuracy(d), nil
}

// GetAccuracy returns the fraction of the first count samples of data that
// the network classifies as labels says. Every sample is evaluated.
func (n *Network) GetAccuracy(data []float32, labels []byte, count int) (float32, error) {
	if !n.built {
		return 0, ErrNotBuilt
	}
	s := n.layers[0].Shape()
	d, err := dataset.New(data, labels, count, s.InLen, s.InDepth)
	if err != nil {
		return 0, err
	}
	return n.Evaluate(d)
}

// Predict classifies one sample on worker 0's buffers. It must not run
// concurrently with Fit or another prediction.
func (n *Network) Predict(sample []float32) (int, error) {
	if !n.built {
		return 0, ErrNotBuilt
	}
	if want := n.layers[0].Shape().DeltaOutSize(); len(sample) != want {
		return 0, fmt.Errorf("%w: sample has %d values, want %d", ErrShapeMismatch, len(sample), want)
	}
	return n.predict(0, sample), nil
}
