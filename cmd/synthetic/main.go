package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"

	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
	"github.com/FlavioCFOliveira/GoConvNet/internal/dataset"
	"github.com/FlavioCFOliveira/GoConvNet/internal/kernel"
	"github.com/FlavioCFOliveira/GoConvNet/internal/layer"
	"github.com/FlavioCFOliveira/GoConvNet/internal/net"
)

type options struct {
	samples int
	epochs  int
	batch   int
	lr      float64
	workers int
	seed    int64
	kernel  string
}

// Two-class intensity task on generated 8x8 images: dark images are class
// 0, bright ones class 1.
func main() {
	var o options
	flag.IntVar(&o.samples, "samples", 16, "number of generated samples")
	flag.IntVar(&o.epochs, "epochs", 50, "training epochs")
	flag.IntVar(&o.batch, "batch", 4, "mini-batch size")
	flag.Float64Var(&o.lr, "lr", 0.01, "learning rate")
	flag.IntVar(&o.workers, "workers", 2, "worker goroutines (0 = logical cores)")
	flag.Int64Var(&o.seed, "seed", 1, "seed for the data, the weights and the shuffle")
	flag.StringVar(&o.kernel, "kernel", "auto", "arithmetic kernel: scalar, lanes or auto")
	flag.Parse()

	log.SetFlags(0)
	log.SetPrefix("synthetic: ")
	acc, err := run(o, os.Stdout)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Training accuracy: %.1f%%\n", acc*100)
}

// run trains on the generated set and returns the accuracy on it.
func run(o options, stdout io.Writer) (float32, error) {
	k, err := kernel.ByName(o.kernel)
	if err != nil {
		return 0, err
	}
	data, err := generate(o.samples, o.seed)
	if err != nil {
		return 0, err
	}

	cfg := net.DefaultConfig()
	cfg.Workers = o.workers
	cfg.BatchSize = o.batch
	cfg.Epochs = o.epochs
	cfg.LearningRate = float32(o.lr)
	cfg.Seed = o.seed
	cfg.Logger = log.New(stdout, "", 0)

	conv, err := layer.NewConv(3, 8, 1, 8, 4, activations.ReLU, layer.WithKernel(k), layer.WithSeed(o.seed))
	if err != nil {
		return 0, err
	}
	lin, err := layer.NewLinear(8*8*4, 2, activations.Sigmoid, layer.WithKernel(k), layer.WithSeed(o.seed+1))
	if err != nil {
		return 0, err
	}
	network := net.New(cfg).Add(conv).Add(lin)
	if err := network.Build(); err != nil {
		return 0, err
	}
	defer network.Close()

	network.SetData(data)
	network.SetCallbacks(net.Logger{Interval: 10, Out: cfg.Logger})
	if err := network.Fit(); err != nil {
		return 0, err
	}
	return network.GetAccuracy(data.Data, data.Labels, data.N)
}

func generate(n int, seed int64) (*dataset.Dataset, error) {
	rng := rand.New(rand.NewSource(seed))
	values := make([]float32, 0, n*64)
	labels := make([]byte, n)
	for i := 0; i < n; i++ {
		lo := float32(0)
		if i%2 == 1 {
			labels[i] = 1
			lo = 0.6
		}
		for p := 0; p < 64; p++ {
			values = append(values, lo+0.4*rng.Float32())
		}
	}
	return dataset.New(values, labels, n, 8, 1)
}
