package recorder

import (
	"encoding/binary"
	"math"
)

// TargetRate is the sample rate the backend expects.
const TargetRate = 16000

// rateTolerance is how far a native rate may sit from TargetRate before a
// block is resampled.
const rateTolerance = 1.0

// Downsample picks every ratio-th sample of in, where ratio is
// native/target. The output holds floor(len(in)/ratio) samples and
// out[i] = in[floor(i*ratio)]. No low-pass filter is applied. When the
// two rates agree within a hertz the input is returned as is.
func Downsample(in []float32, native, target float64) []float32 {
	if target <= 0 || native <= 0 || math.Abs(native-target) <= rateTolerance {
		return in
	}
	ratio := native / target
	n := int(math.Floor(float64(len(in)) / ratio))
	out := make([]float32, n)
	for i := range out {
		j := int(math.Floor(float64(i) * ratio))
		if j >= len(in) {
			j = len(in) - 1
		}
		out[i] = in[j]
	}
	return out
}

// Quantize maps a sample in [-1, 1] to a signed 16-bit value. Values are
// clamped first; negatives scale by 32768 and positives by 32767 so both
// ends of the range are reachable. NaN maps to silence.
func Quantize(s float32) int16 {
	if s != s {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// EncodePCM16 encodes samples as little-endian signed 16-bit PCM.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(Quantize(s)))
	}
	return out
}

// Convert resamples one captured block to TargetRate and encodes it.
func Convert(block []float32, nativeRate float64) []byte {
	return EncodePCM16(Downsample(block, nativeRate, TargetRate))
}
