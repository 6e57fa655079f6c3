package training

import (
	"fmt"
	"image"
	"sort"

	"voxseg/tblog"
	"voxseg/tensor"
)

// TensorBoardHandler writes training curves to an event file: the loss after
// every iteration and every recorded metric after each epoch. When attached
// to a trainer alongside a validation handler, it also renders the input,
// target and prediction center slices of the last validated batch as an
// image summary.
type TensorBoardHandler struct {
	writer    *tblog.EventWriter
	evaluator *Evaluator // optional, source of example slices
}

// NewTensorBoardHandler creates the handler. evaluator may be nil to disable
// image summaries.
func NewTensorBoardHandler(writer *tblog.EventWriter, evaluator *Evaluator) (*TensorBoardHandler, error) {
	if writer == nil {
		return nil, fmt.Errorf("event writer cannot be nil")
	}
	return &TensorBoardHandler{writer: writer, evaluator: evaluator}, nil
}

// OnIterationCompleted logs the iteration loss.
func (h *TensorBoardHandler) OnIterationCompleted(ctx *RunContext) error {
	return h.writer.AddScalar("train/loss", int64(ctx.Iteration), float32(ctx.LastLoss))
}

// OnEpochCompleted logs every recorded metric against the epoch, plus the
// example slice montage when an evaluator is wired.
func (h *TensorBoardHandler) OnEpochCompleted(ctx *RunContext) error {
	names := make([]string, 0, len(ctx.Metrics))
	for name := range ctx.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.writer.AddScalar(name, int64(ctx.Epoch), float32(ctx.Metrics[name])); err != nil {
			return err
		}
	}

	if h.evaluator == nil {
		return nil
	}
	images, labels, logits := h.evaluator.LastBatch()
	if images == nil || labels == nil || logits == nil {
		return nil
	}

	montage, err := exampleSlices(images, labels, logits)
	if err != nil {
		return fmt.Errorf("failed to render example slices: %v", err)
	}
	return h.writer.AddImage("val/example", int64(ctx.Epoch), montage)
}

// exampleSlices renders the center axial slice of the first sample's input,
// target and prediction side by side.
func exampleSlices(images, labels, logits *tensor.Tensor) (image.Image, error) {
	z := images.Shape[4] / 2
	input, err := tblog.GrayscaleSlice(images, 0, 0, z)
	if err != nil {
		return nil, err
	}
	target, err := tblog.GrayscaleSlice(labels, 0, 0, z)
	if err != nil {
		return nil, err
	}
	pred, err := tblog.GrayscaleSlice(logits, 0, 0, z)
	if err != nil {
		return nil, err
	}
	return tblog.Montage([]*image.Gray{input, target, pred})
}
