package tblog

import (
	"encoding/binary"
	"hash/crc32"
	"io"
)

// TensorBoard event files are TFRecord streams: a little-endian length,
// a masked CRC32-C of the length bytes, the payload, and a masked CRC32-C of
// the payload.

var crcTable = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, crcTable)
	return ((crc >> 15) | (crc << 17)) + 0xa282ead8
}

func writeRecord(w io.Writer, payload []byte) error {
	var header [12]byte
	binary.LittleEndian.PutUint64(header[0:8], uint64(len(payload)))
	binary.LittleEndian.PutUint32(header[8:12], maskedCRC(header[0:8]))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC(payload))
	_, err := w.Write(footer[:])
	return err
}
