package vp9test

import "encoding/binary"

// IVF wraps frames into an IVF file with a 1/30 time base. Frame i gets pts i.
func IVF(width, height uint16, frames ...[]byte) []byte {
	out := make([]byte, 32) //nolint:mnd
	copy(out, "DKIF")
	binary.LittleEndian.PutUint16(out[6:], 32) //nolint:mnd
	copy(out[8:], "VP90")
	binary.LittleEndian.PutUint16(out[12:], width)
	binary.LittleEndian.PutUint16(out[14:], height)
	binary.LittleEndian.PutUint32(out[16:], 30) //nolint:mnd
	binary.LittleEndian.PutUint32(out[20:], 1)
	binary.LittleEndian.PutUint32(out[24:], uint32(len(frames))) //nolint:gosec // test streams are short
	for i, f := range frames {
		var fh [12]byte
		binary.LittleEndian.PutUint32(fh[0:], uint32(len(f))) //nolint:gosec // test frames are small
		binary.LittleEndian.PutUint64(fh[4:], uint64(i))      //nolint:gosec // non-negative
		out = append(out, fh[:]...)
		out = append(out, f...)
	}
	return out
}
