package soft

import (
	"encoding/binary"
	"errors"

	"github.com/opd-ai/vpuomx/omx"
)

var (
	sequenceMagic = [4]byte{'V', 'P', 'U', 'S'}
	frameMagic    = [4]byte{'V', 'P', 'U', 'F'}
)

const (
	sequenceHeaderSize = 16
	frameHeaderSize    = 12
	// samples taken from each input picture
	frameSampleStride = 256
	maxFrameSamples   = 4096
)

var errShortHeader = errors.New("soft: short header")

type sequenceHeader struct {
	Coding omx.Coding
	Width  uint32
	Height uint32
}

func (h sequenceHeader) marshal() []byte {
	b := make([]byte, sequenceHeaderSize)
	copy(b, sequenceMagic[:])
	binary.LittleEndian.PutUint32(b[4:], uint32(h.Coding))
	binary.LittleEndian.PutUint32(b[8:], h.Width)
	binary.LittleEndian.PutUint32(b[12:], h.Height)
	return b
}

func parseSequenceHeader(b []byte) (sequenceHeader, bool) {
	if len(b) < sequenceHeaderSize || [4]byte(b[:4]) != sequenceMagic {
		return sequenceHeader{}, false
	}
	return sequenceHeader{
		Coding: omx.Coding(binary.LittleEndian.Uint32(b[4:])),
		Width:  binary.LittleEndian.Uint32(b[8:]),
		Height: binary.LittleEndian.Uint32(b[12:]),
	}, true
}

type frameHeader struct {
	Seq      uint32
	KeyFrame bool
	Samples  uint32
}

func (h frameHeader) marshal() []byte {
	b := make([]byte, frameHeaderSize)
	copy(b, frameMagic[:])
	binary.LittleEndian.PutUint32(b[4:], h.Seq)
	binary.LittleEndian.PutUint16(b[8:], uint16(h.Samples))
	if h.KeyFrame {
		b[10] = 1
	}
	return b
}

func parseFrameHeader(b []byte) (frameHeader, error) {
	if len(b) < frameHeaderSize || [4]byte(b[:4]) != frameMagic {
		return frameHeader{}, errShortHeader
	}
	return frameHeader{
		Seq:      binary.LittleEndian.Uint32(b[4:]),
		Samples:  uint32(binary.LittleEndian.Uint16(b[8:])),
		KeyFrame: b[10] == 1,
	}, nil
}

// sample picks every frameSampleStride-th byte of a picture.
func sample(picture []byte) []byte {
	n := (len(picture) + frameSampleStride - 1) / frameSampleStride
	if n > maxFrameSamples {
		n = maxFrameSamples
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = picture[i*frameSampleStride]
	}
	return out
}

// reconstruct spreads samples back over a picture.
func reconstruct(dst, samples []byte) {
	if len(samples) == 0 {
		clear(dst)
		return
	}
	for i := range dst {
		j := i / frameSampleStride
		if j >= len(samples) {
			j = len(samples) - 1
		}
		dst[i] = samples[j]
	}
}
