package codec

import (
	"fmt"
	"math"

	"github.com/opd-ai/vpuomx/omx"
)

// GOPLength converts the framework's P/B frame counts into the distance
// between key frames: L = (P+1)(B+1).
func GOPLength(pFrames, bFrames int) (int, error) {
	if pFrames < 0 || bFrames < 0 {
		return 0, fmt.Errorf("%w: negative frame count p=%d b=%d", omx.ErrBadParameter, pFrames, bFrames)
	}
	p, b := int64(pFrames)+1, int64(bFrames)+1
	if p*b > math.MaxInt32 {
		return 0, fmt.Errorf("%w: gop length overflows for p=%d b=%d", omx.ErrBadParameter, pFrames, bFrames)
	}
	return int(p * b), nil
}

// PFrames is the inverse of GOPLength: P = L/(B+1) - 1.
//
// The inverse is only defined for B >= 0 and L > B; anything else is
// rejected rather than producing a negative count. When L is not a
// multiple of B+1 the result rounds down.
func PFrames(gopLength, bFrames int) (int, error) {
	if bFrames < 0 {
		return 0, fmt.Errorf("%w: negative b-frame count %d", omx.ErrBadParameter, bFrames)
	}
	if gopLength <= bFrames {
		return 0, fmt.Errorf("%w: gop length %d must exceed b-frame count %d", omx.ErrBadParameter, gopLength, bFrames)
	}
	return gopLength/(bFrames+1) - 1, nil
}
