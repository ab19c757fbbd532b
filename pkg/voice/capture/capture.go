// Package capture provides the microphone source for the voice session,
// backed by portaudio.
package capture

import (
	"io"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/balanceai/balance/pkg/audio"
	"github.com/balanceai/balance/pkg/core"
)

// Mic captures mono float32 frames from the default input device. It
// satisfies the voice session's CaptureSource contract: Open delivers
// fixed-size frames until the returned closer releases the device.
type Mic struct {
	SampleRate   int // default 16 kHz
	FrameSamples int // default 4096
}

type micStream struct {
	stream *portaudio.Stream
	mu     sync.Mutex
	closed bool
}

// Open initializes portaudio, acquires the default input device, and starts
// delivering frames to onFrame from the audio callback. The slice passed to
// onFrame is owned by the callback; copy it if it must outlive the call.
func (m *Mic) Open(onFrame func(samples []float32)) (closer io.Closer, err error) {
	rate := m.SampleRate
	if rate <= 0 {
		rate = audio.CaptureSampleRate
	}
	frame := m.FrameSamples
	if frame <= 0 {
		frame = audio.CaptureFrameSamples
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, core.NewPermissionError("initialize audio host: " + err.Error())
	}
	defer func() {
		if err != nil {
			_ = portaudio.Terminate()
		}
	}()

	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, core.NewPermissionError("no input device: " + err.Error())
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: audio.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: frame,
	}

	stream, err := portaudio.OpenStream(params, func(in []float32) {
		onFrame(in)
	})
	if err != nil {
		return nil, core.NewPermissionError("open input stream: " + err.Error())
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, core.NewPermissionError("start input stream: " + err.Error())
	}
	return &micStream{stream: stream}, nil
}

// Close stops the stream and releases the device. Safe to call twice.
func (s *micStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.stream.Stop()
	err := s.stream.Close()
	_ = portaudio.Terminate()
	return err
}
