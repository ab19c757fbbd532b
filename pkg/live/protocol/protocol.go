// Package protocol defines the JSON frames spoken on the balance live-voice
// relay websocket. Every frame carries a required "type" tag; decoding is
// strict about required fields but tolerant of unknown frame types so the
// protocol can grow without breaking older clients.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ProtocolVersion1 = "1"

	EncodingPCM16LE = "pcm_s16le"
)

// DecodeError reports a malformed or unsupported frame.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// AudioFormat describes one direction of the negotiated audio shape.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// ClientHello opens a live session.
type ClientHello struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Model           string      `json:"model"`
	Voice           string      `json:"voice,omitempty"`
	System          string      `json:"system,omitempty"`
	AudioIn         AudioFormat `json:"audio_in"`
	AudioOut        AudioFormat `json:"audio_out"`
}

// ClientAudioFrame carries one base64-encoded capture frame.
type ClientAudioFrame struct {
	Type    string `json:"type"`
	Seq     int64  `json:"seq,omitempty"`
	DataB64 string `json:"data_b64"`
}

// ClientControl carries a session control operation.
type ClientControl struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

// Control operations accepted by the relay.
const (
	ControlInterrupt  = "interrupt"
	ControlEndSession = "end_session"
)

// ServerHelloAck confirms session establishment.
type ServerHelloAck struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

// ServerMessage is the relay's tagged-union content frame. Any subset of the
// optional fields may be present in a single frame.
type ServerMessage struct {
	Type         string `json:"type"`
	InputText    string `json:"input_text,omitempty"`
	OutputText   string `json:"output_text,omitempty"`
	AudioB64     string `json:"audio_b64,omitempty"`
	TurnComplete bool   `json:"turn_complete,omitempty"`
	Interrupted  bool   `json:"interrupted,omitempty"`
}

// ServerError reports a terminal session error.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// UnknownFrame preserves frames this client does not understand.
type UnknownFrame struct {
	Type string
	Raw  json.RawMessage
}

// DecodeClientMessage decodes and validates a frame sent by the client.
func DecodeClientMessage(data []byte) (any, error) {
	typ, err := frameType(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "audio_frame":
		var msg ClientAudioFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_frame", "")
		}
		if strings.TrimSpace(msg.DataB64) == "" {
			return nil, badRequest("audio_frame.data_b64 is required", "data_b64")
		}
		return msg, nil
	case "control":
		var msg ClientControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control", "")
		}
		op := strings.TrimSpace(msg.Op)
		switch op {
		case ControlInterrupt, ControlEndSession:
		case "":
			return nil, badRequest("control.op is required", "op")
		default:
			return nil, unsupported("unsupported control operation", "op")
		}
		msg.Op = op
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// DecodeServerMessage decodes a frame sent by the relay. Unknown types are
// returned as UnknownFrame rather than an error.
func DecodeServerMessage(data []byte) (any, error) {
	typ, err := frameType(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case "hello_ack":
		var msg ServerHelloAck
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello_ack", "")
		}
		return msg, nil
	case "message":
		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid message frame", "")
		}
		return msg, nil
	case "error":
		var msg ServerError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid error frame", "")
		}
		return msg, nil
	default:
		return UnknownFrame{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

// ValidateHello checks the required hello fields.
func ValidateHello(msg ClientHello) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	if strings.TrimSpace(msg.Model) == "" {
		return badRequest("hello.model is required", "model")
	}
	for name, format := range map[string]AudioFormat{
		"audio_in":  msg.AudioIn,
		"audio_out": msg.AudioOut,
	} {
		if strings.TrimSpace(format.Encoding) != EncodingPCM16LE {
			return unsupported("audio encoding must be pcm_s16le", name+".encoding")
		}
		if format.SampleRateHz <= 0 {
			return badRequest("sample_rate_hz must be > 0", name+".sample_rate_hz")
		}
		if format.Channels <= 0 {
			return badRequest("channels must be > 0", name+".channels")
		}
	}
	return nil
}

func frameType(data []byte) (string, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return "", badRequest("missing type", "type")
	}
	return typ, nil
}
