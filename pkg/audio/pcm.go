// Package audio holds the PCM sample conversions shared by the capture and
// playback paths of the realtime voice session.
package audio

import (
	"encoding/binary"
	"time"
)

// Negotiated audio shapes for the live session: the microphone side captures
// 16 kHz mono, the assistant side synthesizes 24 kHz mono, both PCM16LE.
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000
	Channels           = 1
	BytesPerSample     = 2

	// CaptureFrameSamples is the fixed capture chunk size the platform
	// delivers per callback.
	CaptureFrameSamples = 4096
)

// Float32ToPCM16LE converts normalized float samples to little-endian signed
// 16-bit PCM. Samples outside [-1, 1] are clipped.
func Float32ToPCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// PCM16LEToFloat32 decodes little-endian signed 16-bit PCM into normalized
// float samples, de-interleaved by channel. A trailing odd byte is dropped.
func PCM16LEToFloat32(data []byte, channels int) [][]float32 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(data) / 2 / channels
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			v := int16(binary.LittleEndian.Uint16(data[(i*channels+ch)*2:]))
			out[ch][i] = float32(v) / 32768.0
		}
	}
	return out
}

// Duration returns the playback duration of a raw PCM byte payload.
func Duration(numBytes, sampleRate, channels int) time.Duration {
	bytesPerSecond := sampleRate * channels * BytesPerSample
	if bytesPerSecond <= 0 || numBytes <= 0 {
		return 0
	}
	return time.Duration(numBytes) * time.Second / time.Duration(bytesPerSecond)
}

// SampleDuration returns the playback duration of a float sample slice.
func SampleDuration(numSamples, sampleRate int) time.Duration {
	if sampleRate <= 0 || numSamples <= 0 {
		return 0
	}
	return time.Duration(numSamples) * time.Second / time.Duration(sampleRate)
}

// PCMToWAV wraps raw PCM with a 44-byte WAV header so dumped session audio can
// be inspected with ordinary players.
func PCMToWAV(pcm []byte, sampleRate, bitsPerSample, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitsPerSample))
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	return append(header, pcm...)
}
