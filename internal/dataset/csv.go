package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// LoadCSV reads one sample per row: the class label in column 0, then the
// length*length*depth values of the sample in depth-major order.
// hasHeader skips the first line if true.
func LoadCSV(filename string, length, depth int, hasHeader bool) (*Dataset, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}

	startRow := 0
	if hasHeader {
		startRow = 1
	}
	if len(records) <= startRow {
		return nil, fmt.Errorf("%w: csv file has no data rows", ErrFormat)
	}

	size := length * length * depth
	n := len(records) - startRow
	data := make([]float32, 0, n*size)
	labels := make([]byte, 0, n)
	for i := startRow; i < len(records); i++ {
		record := records[i]
		if len(record) != size+1 {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrFormat, i, len(record), size+1)
		}
		label, err := strconv.ParseUint(record[0], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: label at row %d: %v", ErrFormat, i, err)
		}
		labels = append(labels, byte(label))
		for j, valStr := range record[1:] {
			val, err := strconv.ParseFloat(valStr, 32)
			if err != nil {
				return nil, fmt.Errorf("failed to parse value at row %d, col %d: %w", i, j+1, err)
			}
			data = append(data, float32(val))
		}
	}
	return New(data, labels, n, length, depth)
}
