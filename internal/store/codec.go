package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"cardscan/pkg/geometry"
)

var errCorruptBlob = errors.New("corrupt feature blob")

// Keypoints are stored as a little-endian count followed by float32 x/y pairs.
func encodeKeypoints(pts []geometry.Point2D) []byte {
	buf := make([]byte, 4+8*len(pts))
	binary.LittleEndian.PutUint32(buf, uint32(len(pts)))
	off := 4
	for _, p := range pts {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(p.X)))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(float32(p.Y)))
		off += 8
	}
	return buf
}

func decodeKeypoints(buf []byte) ([]geometry.Point2D, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	if len(buf) < 4 {
		return nil, errCorruptBlob
	}
	n := int(binary.LittleEndian.Uint32(buf))
	if len(buf) != 4+8*n {
		return nil, fmt.Errorf("%w: %d keypoints in %d bytes", errCorruptBlob, n, len(buf))
	}
	pts := make([]geometry.Point2D, n)
	off := 4
	for i := range pts {
		pts[i] = geometry.Point2D{
			X: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))),
			Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off+4:]))),
		}
		off += 8
	}
	return pts, nil
}

// Descriptors are stored as count and per-descriptor size followed by the
// concatenated rows. Rows must share one size.
func encodeDescriptors(rows [][]byte) ([]byte, error) {
	size := 0
	if len(rows) > 0 {
		size = len(rows[0])
	}
	buf := make([]byte, 8, 8+size*len(rows))
	binary.LittleEndian.PutUint32(buf, uint32(len(rows)))
	binary.LittleEndian.PutUint32(buf[4:], uint32(size))
	for i, r := range rows {
		if len(r) != size {
			return nil, fmt.Errorf("descriptor %d has %d bytes, expected %d", i, len(r), size)
		}
		buf = append(buf, r...)
	}
	return buf, nil
}

func decodeDescriptors(buf []byte) ([][]byte, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	if len(buf) < 8 {
		return nil, errCorruptBlob
	}
	n := int(binary.LittleEndian.Uint32(buf))
	size := int(binary.LittleEndian.Uint32(buf[4:]))
	if len(buf) != 8+n*size {
		return nil, fmt.Errorf("%w: %d descriptors of %d bytes in %d bytes", errCorruptBlob, n, size, len(buf))
	}
	data := buf[8:]
	rows := make([][]byte, n)
	for i := range rows {
		rows[i] = append([]byte(nil), data[i*size:(i+1)*size]...)
	}
	return rows, nil
}
