// Package audio captures microphone-like sample streams and encodes them for
// transport to a speech-to-text endpoint.
package audio

import (
	"encoding/binary"
	"math"
)

// Encoding names the byte format frames are emitted in.
type Encoding string

const (
	// EncodingLinear16 is raw signed 16-bit little-endian PCM.
	EncodingLinear16 Encoding = "linear16"
	// EncodingWAV wraps each frame in a self-contained WAV container.
	EncodingWAV Encoding = "wav"
)

// Float32ToPCM16 converts samples in [-1, 1] to 16-bit little-endian PCM.
// Out-of-range samples are clamped.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	v := float64(s)
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(v * math.MaxInt16))
}

// PCM16ToFloat32 is the inverse of Float32ToPCM16.
func PCM16ToFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / math.MaxInt16
	}
	return out
}

// DecodeFloat32LE decodes little-endian IEEE-754 float32 samples.
// Trailing bytes that do not form a whole sample are ignored.
func DecodeFloat32LE(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// EncodeFloat32LE encodes samples as little-endian IEEE-754 float32.
func EncodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// RMS returns the root mean square level of 16-bit PCM data, in [0, 1].
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// PCMToWAV wraps 16-bit PCM data with a 44 byte WAV header.
func PCMToWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	dataLen := len(pcm)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	header := make([]byte, 44, 44+dataLen)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataLen))
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen))

	return append(header, pcm...)
}

func applyGain(samples []float32, gain float64) {
	if gain == 1 {
		return
	}
	for i := range samples {
		samples[i] = float32(float64(samples[i]) * gain)
	}
}
