// Package dataset holds labelled image samples in the layout the network
// consumes: every sample is a square depth-major volume of float32 values,
// followed by the next sample, with one byte label per sample.
package dataset

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalid is returned for buffers inconsistent with the sample geometry.
	ErrInvalid = errors.New("dataset: invalid")
	// ErrFormat is returned for malformed input files.
	ErrFormat = errors.New("dataset: bad format")
)

// Dataset is a set of N samples of Len x Len x Depth values.
type Dataset struct {
	Data   []float32
	Labels []byte
	N      int
	Len    int
	Depth  int
}

// New wraps data and labels without copying them.
func New(data []float32, labels []byte, n, length, depth int) (*Dataset, error) {
	if n < 0 || length <= 0 || depth <= 0 {
		return nil, fmt.Errorf("%w: %d samples of %dx%dx%d", ErrInvalid, n, length, length, depth)
	}
	if want := n * length * length * depth; len(data) < want {
		return nil, fmt.Errorf("%w: %d values for %d samples, want %d", ErrInvalid, len(data), n, want)
	}
	if len(labels) < n {
		return nil, fmt.Errorf("%w: %d labels for %d samples", ErrInvalid, len(labels), n)
	}
	return &Dataset{Data: data, Labels: labels, N: n, Len: length, Depth: depth}, nil
}

// SampleSize returns the number of values per sample.
func (d *Dataset) SampleSize() int { return d.Len * d.Len * d.Depth }

// Sample returns sample i. The slice aliases the dataset.
func (d *Dataset) Sample(i int) []float32 {
	size := d.SampleSize()
	return d.Data[i*size : (i+1)*size]
}

// Label returns the class of sample i.
func (d *Dataset) Label(i int) int { return int(d.Labels[i]) }

// Slice returns samples [lo, hi) sharing the underlying buffers.
func (d *Dataset) Slice(lo, hi int) *Dataset {
	if lo < 0 {
		lo = 0
	}
	if hi > d.N {
		hi = d.N
	}
	if hi < lo {
		hi = lo
	}
	size := d.SampleSize()
	return &Dataset{
		Data:   d.Data[lo*size : hi*size],
		Labels: d.Labels[lo:hi],
		N:      hi - lo,
		Len:    d.Len,
		Depth:  d.Depth,
	}
}

// Fold returns the k-th of folds equal parts: samples [k*N/folds, (k+1)*N/folds).
func (d *Dataset) Fold(k, folds int) *Dataset {
	if folds <= 0 {
		return d.Slice(0, d.N)
	}
	k %= folds
	return d.Slice(k*d.N/folds, (k+1)*d.N/folds)
}

// Split returns the first ratio of the samples and the rest.
func (d *Dataset) Split(ratio float32) (*Dataset, *Dataset) {
	at := int(float32(d.N) * ratio)
	return d.Slice(0, at), d.Slice(at, d.N)
}

// CheckLabels verifies that every label is below classes.
func (d *Dataset) CheckLabels(classes int) error {
	for i, l := range d.Labels[:d.N] {
		if int(l) >= classes {
			return fmt.Errorf("%w: sample %d has label %d, network has %d outputs", ErrInvalid, i, l, classes)
		}
	}
	return nil
}

// Normalize rescales every feature to [0, 1] using its minimum and maximum
// over the dataset. Constant features become 0.
func (d *Dataset) Normalize() {
	if d.N == 0 {
		return
	}
	size := d.SampleSize()
	lo := make([]float32, size)
	hi := make([]float32, size)
	copy(lo, d.Sample(0))
	copy(hi, d.Sample(0))
	for i := 1; i < d.N; i++ {
		for j, v := range d.Sample(i) {
			if v < lo[j] {
				lo[j] = v
			}
			if v > hi[j] {
				hi[j] = v
			}
		}
	}
	for i := 0; i < d.N; i++ {
		s := d.Sample(i)
		for j := range s {
			if diff := hi[j] - lo[j]; diff != 0 {
				s[j] = (s[j] - lo[j]) / diff
			} else {
				s[j] = 0
			}
		}
	}
}
