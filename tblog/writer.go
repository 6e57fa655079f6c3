// Package tblog writes TensorBoard-compatible event files: scalar curves and
// PNG image summaries in TFRecord-framed Event protos.
package tblog

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"
)

// EventWriter appends scalar and image summaries to a single event file in
// the given directory. Not safe for concurrent use.
type EventWriter struct {
	file *os.File
	buf  *bufio.Writer
	path string
}

// NewEventWriter creates the log directory if needed, opens a fresh event
// file and writes the version header record.
func NewEventWriter(dir string) (*EventWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	now := time.Now()
	path := filepath.Join(dir, fmt.Sprintf("events.out.tfevents.%d.%s", now.Unix(), hostname))

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event file: %v", err)
	}

	w := &EventWriter{
		file: file,
		buf:  bufio.NewWriter(file),
		path: path,
	}

	header := encodeFileVersionEvent(float64(now.UnixNano())/1e9, "brain.Event:2")
	if err := writeRecord(w.buf, header); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write event file header: %v", err)
	}

	return w, nil
}

// Path returns the event file path.
func (w *EventWriter) Path() string {
	return w.path
}

// AddScalar appends one point of a scalar curve.
func (w *EventWriter) AddScalar(tag string, step int64, value float32) error {
	event := encodeScalarEvent(wallTime(), step, tag, value)
	if err := writeRecord(w.buf, event); err != nil {
		return fmt.Errorf("failed to write scalar %s: %v", tag, err)
	}
	return w.buf.Flush()
}

// AddImage appends a PNG-encoded image summary.
func (w *EventWriter) AddImage(tag string, step int64, img image.Image) error {
	var encoded bytes.Buffer
	if err := png.Encode(&encoded, img); err != nil {
		return fmt.Errorf("failed to encode image %s: %v", tag, err)
	}

	bounds := img.Bounds()
	event := encodeImageEvent(wallTime(), step, tag,
		bounds.Dy(), bounds.Dx(), 1, encoded.Bytes())
	if err := writeRecord(w.buf, event); err != nil {
		return fmt.Errorf("failed to write image %s: %v", tag, err)
	}
	return w.buf.Flush()
}

// Close flushes and closes the event file.
func (w *EventWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func wallTime() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
