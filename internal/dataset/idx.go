package dataset

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	idxImageMagic = 2051
	idxLabelMagic = 2049
)

// ReadIDXImages reads an IDX3 image file. Pixels are scaled from [0, 255]
// to [0, 1]. It returns the pixels, the image count and the side length.
func ReadIDXImages(r io.Reader) ([]float32, int, int, error) {
	var hdr struct{ Magic, N, Rows, Cols uint32 }
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: idx image header: %v", ErrFormat, err)
	}
	if hdr.Magic != idxImageMagic {
		return nil, 0, 0, fmt.Errorf("%w: idx image magic %d", ErrFormat, hdr.Magic)
	}
	if hdr.Rows != hdr.Cols {
		return nil, 0, 0, fmt.Errorf("%w: images are %dx%d, want square", ErrFormat, hdr.Rows, hdr.Cols)
	}

	buf := make([]byte, int(hdr.N)*int(hdr.Rows)*int(hdr.Cols))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: idx image data: %v", ErrFormat, err)
	}
	data := make([]float32, len(buf))
	for i, b := range buf {
		data[i] = (1.0 / 255) * float32(b)
	}
	return data, int(hdr.N), int(hdr.Rows), nil
}

// ReadIDXLabels reads an IDX1 label file.
func ReadIDXLabels(r io.Reader) ([]byte, error) {
	var hdr struct{ Magic, N uint32 }
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: idx label header: %v", ErrFormat, err)
	}
	if hdr.Magic != idxLabelMagic {
		return nil, fmt.Errorf("%w: idx label magic %d", ErrFormat, hdr.Magic)
	}
	labels := make([]byte, hdr.N)
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, fmt.Errorf("%w: idx label data: %v", ErrFormat, err)
	}
	return labels, nil
}

// LoadMNIST reads an MNIST image file and its label file.
func LoadMNIST(imagesPath, labelsPath string) (*Dataset, error) {
	f, err := os.Open(imagesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open images: %w", err)
	}
	defer f.Close()
	data, n, side, err := ReadIDXImages(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", imagesPath, err)
	}

	lf, err := os.Open(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels: %w", err)
	}
	defer lf.Close()
	labels, err := ReadIDXLabels(bufio.NewReader(lf))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", labelsPath, err)
	}
	if len(labels) != n {
		return nil, fmt.Errorf("%w: %d images but %d labels", ErrInvalid, n, len(labels))
	}
	return New(data, labels, n, side, 1)
}
