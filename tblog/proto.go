package tblog

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire-level encoding of the TensorBoard Event protobuf. Only the fields the
// scalar and image summaries need are emitted.
//
// Event:          wall_time=1 (double), step=2 (int64),
//                 file_version=3 (string), summary=5 (message)
// Summary:        value=1 (repeated message)
// Summary.Value:  tag=1 (string), simple_value=2 (float), image=4 (message)
// Summary.Image:  height=1, width=2, colorspace=3,
//                 encoded_image_string=4 (bytes)

func encodeFileVersionEvent(wallTime float64, version string) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(wallTime))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, version)
	return b
}

func encodeScalarEvent(wallTime float64, step int64, tag string, value float32) []byte {
	var val []byte
	val = protowire.AppendTag(val, 1, protowire.BytesType)
	val = protowire.AppendString(val, tag)
	val = protowire.AppendTag(val, 2, protowire.Fixed32Type)
	val = protowire.AppendFixed32(val, math.Float32bits(value))

	return encodeSummaryEvent(wallTime, step, val)
}

func encodeImageEvent(wallTime float64, step int64, tag string, height, width, colorspace int, png []byte) []byte {
	var img []byte
	img = protowire.AppendTag(img, 1, protowire.VarintType)
	img = protowire.AppendVarint(img, uint64(height))
	img = protowire.AppendTag(img, 2, protowire.VarintType)
	img = protowire.AppendVarint(img, uint64(width))
	img = protowire.AppendTag(img, 3, protowire.VarintType)
	img = protowire.AppendVarint(img, uint64(colorspace))
	img = protowire.AppendTag(img, 4, protowire.BytesType)
	img = protowire.AppendBytes(img, png)

	var val []byte
	val = protowire.AppendTag(val, 1, protowire.BytesType)
	val = protowire.AppendString(val, tag)
	val = protowire.AppendTag(val, 4, protowire.BytesType)
	val = protowire.AppendBytes(val, img)

	return encodeSummaryEvent(wallTime, step, val)
}

func encodeSummaryEvent(wallTime float64, step int64, value []byte) []byte {
	var summary []byte
	summary = protowire.AppendTag(summary, 1, protowire.BytesType)
	summary = protowire.AppendBytes(summary, value)

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(wallTime))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(step))
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendBytes(b, summary)
	return b
}
