package protocol

import (
	"errors"
	"testing"
)

func TestDecodeClientMessageHello(t *testing.T) {
	data := []byte(`{
		"type":"hello","protocol_version":"1","model":"gemini-2.5-flash-native-audio",
		"audio_in":{"encoding":"pcm_s16le","sample_rate_hz":16000,"channels":1},
		"audio_out":{"encoding":"pcm_s16le","sample_rate_hz":24000,"channels":1}
	}`)
	msg, err := DecodeClientMessage(data)
	if err != nil {
		t.Fatalf("DecodeClientMessage: %v", err)
	}
	hello, ok := msg.(ClientHello)
	if !ok {
		t.Fatalf("decoded %T, want ClientHello", msg)
	}
	if hello.AudioIn.SampleRateHz != 16000 || hello.AudioOut.SampleRateHz != 24000 {
		t.Fatalf("audio rates = %d/%d, want 16000/24000", hello.AudioIn.SampleRateHz, hello.AudioOut.SampleRateHz)
	}
}

func TestDecodeClientMessageRejectsBadHello(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		param string
	}{
		{"missing model", `{"type":"hello","protocol_version":"1","audio_in":{"encoding":"pcm_s16le","sample_rate_hz":16000,"channels":1},"audio_out":{"encoding":"pcm_s16le","sample_rate_hz":24000,"channels":1}}`, "model"},
		{"wrong encoding", `{"type":"hello","protocol_version":"1","model":"m","audio_in":{"encoding":"opus","sample_rate_hz":16000,"channels":1},"audio_out":{"encoding":"pcm_s16le","sample_rate_hz":24000,"channels":1}}`, "audio_in.encoding"},
		{"empty frame", `{"type":"audio_frame"}`, "data_b64"},
		{"bad control", `{"type":"control","op":"reboot"}`, "op"},
		{"missing type", `{"op":"interrupt"}`, "type"},
	}
	for _, tc := range cases {
		_, err := DecodeClientMessage([]byte(tc.frame))
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("%s: error type %T, want *DecodeError", tc.name, err)
		}
		if de.Param != tc.param {
			t.Fatalf("%s: param = %q, want %q", tc.name, de.Param, tc.param)
		}
	}
}

func TestDecodeServerMessageTaggedUnion(t *testing.T) {
	msg, err := DecodeServerMessage([]byte(`{"type":"message","input_text":"hi","audio_b64":"AAAA","turn_complete":true}`))
	if err != nil {
		t.Fatalf("DecodeServerMessage: %v", err)
	}
	frame, ok := msg.(ServerMessage)
	if !ok {
		t.Fatalf("decoded %T, want ServerMessage", msg)
	}
	if frame.InputText != "hi" || frame.AudioB64 != "AAAA" || !frame.TurnComplete {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if frame.OutputText != "" || frame.Interrupted {
		t.Fatalf("absent fields should be zero: %+v", frame)
	}
}

func TestDecodeServerMessageUnknownTypePassesThrough(t *testing.T) {
	msg, err := DecodeServerMessage([]byte(`{"type":"metrics","rtt_ms":12}`))
	if err != nil {
		t.Fatalf("DecodeServerMessage: %v", err)
	}
	unknown, ok := msg.(UnknownFrame)
	if !ok {
		t.Fatalf("decoded %T, want UnknownFrame", msg)
	}
	if unknown.Type != "metrics" {
		t.Fatalf("unknown type = %q, want metrics", unknown.Type)
	}
}
