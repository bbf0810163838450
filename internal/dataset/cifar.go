package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// CIFAR-10 binary records: one label byte, then 32x32 red, green and blue
// planes.
const (
	cifarLen    = 32
	cifarDepth  = 3
	cifarRecord = 1 + cifarLen*cifarLen*cifarDepth
)

// ReadCIFAR reads CIFAR-10 binary records until EOF. Pixels are scaled to
// [0, 1]; the planes are already depth-major.
func ReadCIFAR(r io.Reader) ([]float32, []byte, error) {
	var data []float32
	var labels []byte
	rec := make([]byte, cifarRecord)
	for {
		_, err := io.ReadFull(r, rec)
		if errors.Is(err, io.EOF) {
			return data, labels, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: cifar record %d: %v", ErrFormat, len(labels), err)
		}
		labels = append(labels, rec[0])
		for _, b := range rec[1:] {
			data = append(data, (1.0/255)*float32(b))
		}
	}
}

// LoadCIFAR reads and concatenates CIFAR-10 batch files.
func LoadCIFAR(paths ...string) (*Dataset, error) {
	var data []float32
	var labels []byte
	for _, path := range paths {
		d, l, err := readCIFARFile(path)
		if err != nil {
			return nil, err
		}
		data = append(data, d...)
		labels = append(labels, l...)
	}
	return New(data, labels, len(labels), cifarLen, cifarDepth)
}

func readCIFARFile(path string) ([]float32, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	data, labels, err := ReadCIFAR(bufio.NewReader(f))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, labels, nil
}
