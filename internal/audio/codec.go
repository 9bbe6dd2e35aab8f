package audio

import "encoding/base64"

// SampleRate is the realtime wire format: mono PCM16LE at 24 kHz.
const SampleRate = 24000

// FloatToPCM16 converts normalized float samples to signed 16-bit PCM.
// Scaling is asymmetric to cover the full signed range: negatives scale by
// 32768, non-negatives by 32767. Inputs outside [-1, 1] are clamped.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s < -1 {
			s = -1
		} else if s > 1 {
			s = 1
		}
		if s < 0 {
			out[i] = int16(s * 32768)
		} else {
			out[i] = int16(s * 32767)
		}
	}
	return out
}

// PCM16ToFloat is the inverse of FloatToPCM16 with the same asymmetric
// divisor choice. The round trip is not bit exact but stays within one
// quantization step per sample.
func PCM16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		if s < 0 {
			out[i] = float32(s) / 32768
		} else {
			out[i] = float32(s) / 32767
		}
	}
	return out
}

// Int16ToBytes serializes samples as little-endian PCM16 wire bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToInt16 parses little-endian PCM16 wire bytes. A trailing odd byte
// is dropped.
func BytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return out
}

// EncodeTransportText reencodes PCM bytes into the printable-safe form the
// text-framed transport requires. The binary transport sends raw bytes and
// bypasses this entirely.
func EncodeTransportText(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeTransportText is the inverse of EncodeTransportText.
func DecodeTransportText(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
