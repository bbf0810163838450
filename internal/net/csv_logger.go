package net

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"strconv"
)

// CSVLogger writes one row per epoch to a CSV file.
type CSVLogger struct {
	BaseCallback
	Filename string
	Append   bool

	file   *os.File
	writer *csv.Writer
	err    error
}

// NewCSVLogger creates a new CSVLogger.
func NewCSVLogger(filename string, append bool) *CSVLogger {
	return &CSVLogger{
		Filename: filename,
		Append:   append,
	}
}

// Err returns the first error met while writing the file.
func (c *CSVLogger) Err() error { return c.err }

func (c *CSVLogger) fail(err error) {
	if c.err == nil {
		c.err = err
	}
	log.Printf("CSVLogger: %v", err)
}

// OnTrainBegin opens the file and writes the header unless appending
// to a non-empty file.
func (c *CSVLogger) OnTrainBegin(n *Network) {
	mode := os.O_CREATE | os.O_WRONLY
	if c.Append {
		mode |= os.O_APPEND
	} else {
		mode |= os.O_TRUNC
	}

	file, err := os.OpenFile(c.Filename, mode, 0644)
	if err != nil {
		c.fail(fmt.Errorf("failed to open file %s: %w", c.Filename, err))
		return
	}
	c.file = file
	c.writer = csv.NewWriter(file)

	// Write header if not appending or if file is empty
	info, err := file.Stat()
	if err == nil && (info.Size() == 0 || !c.Append) {
		c.writer.Write([]string{"epoch", "loss", "val_accuracy", "time_seconds"})
		c.writer.Flush()
	}
}

// OnEpochEnd writes one row per epoch.
func (c *CSVLogger) OnEpochEnd(epoch int, stats EpochStats, n *Network) {
	if c.writer == nil {
		return
	}

	record := []string{
		strconv.Itoa(epoch),
		fmt.Sprintf("%.6f", stats.Loss),
		fmt.Sprintf("%.4f", stats.ValAccuracy),
		fmt.Sprintf("%.2f", stats.Duration.Seconds()),
	}
	if err := c.writer.Write(record); err != nil {
		c.fail(fmt.Errorf("failed to write record: %w", err))
	}
	c.writer.Flush()
}

// OnTrainEnd flushes and closes the file.
func (c *CSVLogger) OnTrainEnd(n *Network) {
	if c.file != nil {
		c.writer.Flush()
		if err := c.file.Close(); err != nil {
			c.fail(err)
		}
		c.file = nil
		c.writer = nil
	}
}
