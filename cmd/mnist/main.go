package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/FlavioCFOliveira/GoConvNet/internal/activations"
	"github.com/FlavioCFOliveira/GoConvNet/internal/dataset"
	"github.com/FlavioCFOliveira/GoConvNet/internal/kernel"
	"github.com/FlavioCFOliveira/GoConvNet/internal/layer"
	"github.com/FlavioCFOliveira/GoConvNet/internal/net"
)

type options struct {
	images, labels         string
	testImages, testLabels string
	train                  int
	epochs                 int
	batch                  int
	lr                     float64
	workers                int
	kernel                 string
	csv                    string
}

// LeNet-style digit classification on the MNIST IDX files.
func main() {
	var o options
	flag.StringVar(&o.images, "images", "train-images-idx3-ubyte", "training images (IDX)")
	flag.StringVar(&o.labels, "labels", "train-labels-idx1-ubyte", "training labels (IDX)")
	flag.StringVar(&o.testImages, "test-images", "t10k-images-idx3-ubyte", "test images (IDX)")
	flag.StringVar(&o.testLabels, "test-labels", "t10k-labels-idx1-ubyte", "test labels (IDX)")
	flag.IntVar(&o.train, "train", 50000, "number of training samples to use")
	flag.IntVar(&o.epochs, "epochs", 30, "training epochs")
	flag.IntVar(&o.batch, "batch", 16, "mini-batch size")
	flag.Float64Var(&o.lr, "lr", 0.02, "learning rate")
	flag.IntVar(&o.workers, "workers", 0, "worker goroutines (0 = logical cores)")
	flag.StringVar(&o.kernel, "kernel", "auto", "arithmetic kernel: scalar, lanes or auto")
	flag.StringVar(&o.csv, "csv", "", "write per-epoch statistics to this CSV file")
	flag.Parse()

	log.SetFlags(0)
	log.SetPrefix("mnist: ")
	if err := run(o, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(o options, stdout io.Writer) error {
	k, err := kernel.ByName(o.kernel)
	if err != nil {
		return err
	}
	data, err := dataset.LoadMNIST(o.images, o.labels)
	if err != nil {
		return err
	}
	test, err := dataset.LoadMNIST(o.testImages, o.testLabels)
	if err != nil {
		return err
	}
	data = data.Slice(0, o.train)
	fmt.Fprintf(stdout, "Loaded %d training and %d test images of %dx%d\n", data.N, test.N, data.Len, data.Len)

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
	add(layer.NewConv(5, 28, 1, 28, 6, activations.ReLU, kern))
	add(layer.NewPool(2, 28, 6, activations.ReLU, kern))
	add(layer.NewConv(5, 14, 6, 10, 16, activations.ReLU, kern))
	add(layer.NewPool(2, 10, 16, activations.ReLU, kern))
	add(layer.NewConv(5, 5, 16, 1, 120, activations.ReLU, kern))
	add(layer.NewLinear(120, 10, activations.Sigmoid, kern))
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

	acc, err := network.GetAccuracy(test.Data, test.Labels, test.N)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Test accuracy: %.2f%%\n", acc*100)
	return nil
}
