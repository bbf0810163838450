package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
	"github.com/FlavioCFOliveira/GoConvNet/internal/dataset"
	"github.com/FlavioCFOliveira/GoConvNet/internal/kernel"
	"github.com/FlavioCFOliveira/GoConvNet/internal/layer"
	"github.com/FlavioCFOliveira/GoConvNet/internal/net"
)

type options struct {
	dir     string
	epochs  int
	batch   int
	lr      float64
	workers int
	kernel  string
	csv     string
}

// CIFAR-10 classification with a depthwise separable first block.
func main() {
	var o options
	flag.StringVar(&o.dir, "dir", "cifar-10-batches-bin", "directory holding the CIFAR-10 binary batches")
	flag.IntVar(&o.epochs, "epochs", 10, "training epochs")
	flag.IntVar(&o.batch, "batch", 16, "mini-batch size")
	flag.Float64Var(&o.lr, "lr", 0.02, "learning rate")
	flag.IntVar(&o.workers, "workers", 0, "worker goroutines (0 = logical cores)")
	flag.StringVar(&o.kernel, "kernel", "auto", "arithmetic kernel: scalar, lanes or auto")
	flag.StringVar(&o.csv, "csv", "", "write per-epoch statistics to this CSV file")
	flag.Parse()

	log.SetFlags(0)
	log.SetPrefix("cifar: ")
	if err := run(o, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(o options, stdout io.Writer) error {
	k, err := kernel.ByName(o.kernel)
	if err != nil {
		return err
	}
	var batches []string
	for i := 1; i <= 5; i++ {
		batches = append(batches, filepath.Join(o.dir, fmt.Sprintf("data_batch_%d.bin", i)))
	}
	data, err := dataset.LoadCIFAR(batches...)
	if err != nil {
		return err
	}
	test, err := dataset.LoadCIFAR(filepath.Join(o.dir, "test_batch.bin"))
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Loaded %d training and %d test images\n", data.N, test.N)

	cfg := net.DefaultConfig()
	cfg.Workers = o.workers
	cfg.BatchSize = o.batch
	cfg.Epochs = o.epochs
	cfg.LearningRate = float32(o.lr)
	cfg.Logger = log.New(stdout, "", 0)

	network := net.New(cfg)
	var errs []error
	add := func(l layer.Layer, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		network.Add(l)
	}
	kern := layer.WithKernel(k)
	add(layer.NewDepthwise(5, 32, 3, 32, activations.ReLU, kern))
	add(layer.NewPointwise(32, 3, 32, activations.ReLU, kern))
	add(layer.NewPool(2, 32, 32, activations.ReLU, kern))
	add(layer.NewConv(5, 16, 32, 16, 32, activations.ReLU, kern))
	add(layer.NewPool(2, 16, 32, activations.ReLU, kern))
	add(layer.NewConv(5, 8, 32, 8, 64, activations.ReLU, kern))
	add(layer.NewPool(2, 8, 64, activations.ReLU, kern))
	add(layer.NewLinear(4*4*64, 64, activations.Identity, kern))
	add(layer.NewLinear(64, 10, activations.Sigmoid, kern))
	if err := errors.Join(errs...); err != nil {
		return err
	}
	if err := network.Build(); err != nil {
		return err
	}
	defer network.Close()
	network.Summary(stdout)

	callbacks := []net.Callback{net.Logger{Interval: 1, Out: cfg.Logger}}
	var csvLog *net.CSVLogger
	if o.csv != "" {
		csvLog = net.NewCSVLogger(o.csv, false)
		callbacks = append(callbacks, csvLog)
	}
	network.SetData(data)
	network.SetCallbacks(callbacks...)

	start := time.Now()
	if err := network.Fit(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Training took %s\n", time.Since(start).Round(time.Millisecond))
	if csvLog != nil && csvLog.Err() != nil {
		log.Printf("csv log: %v", csvLog.Err())
	}

	acc, err := network.Evaluate(test)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Test accuracy: %.2f%%\n", acc*100)
	return nil
}
