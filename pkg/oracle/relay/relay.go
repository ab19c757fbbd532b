// Package relay dials the balance live-voice relay over websocket. The relay
// speaks the frames in pkg/live/protocol and fronts whichever realtime backend
// the deployment runs, so clients need no provider credentials.
package relay

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/balanceai/balance/pkg/audio"
	"github.com/balanceai/balance/pkg/core"
	"github.com/balanceai/balance/pkg/live/protocol"
	"github.com/balanceai/balance/pkg/oracle"
)

const defaultConnectTimeout = 15 * time.Second

// Dialer connects live sessions through a relay endpoint.
type Dialer struct {
	URL     string // ws:// or wss:// endpoint
	APIKey  string // optional bearer token
	Timeout time.Duration
	Logger  *slog.Logger
}

type session struct {
	conn *websocket.Conn
	cb   oracle.LiveCallbacks
	log  *slog.Logger

	seq       atomic.Int64
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

// DialLive opens a websocket to the relay, performs the hello handshake, and
// starts the read loop. OnReady fires once the relay acknowledges the hello.
func (d *Dialer) DialLive(ctx context.Context, cfg oracle.LiveConfig, cb oracle.LiveCallbacks) (oracle.LiveSession, error) {
	if strings.TrimSpace(d.URL) == "" {
		return nil, core.NewInvalidRequestError("relay URL is required", "url")
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	headers := make(http.Header)
	if d.APIKey != "" {
		headers.Set("Authorization", "Bearer "+d.APIKey)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, d.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, core.NewUnavailableError(fmt.Sprintf("relay dial failed (status %d): %v", resp.StatusCode, err))
		}
		return nil, core.NewUnavailableError("relay dial failed: " + err.Error())
	}

	hello := protocol.ClientHello{
		Type:            "hello",
		ProtocolVersion: protocol.ProtocolVersion1,
		Model:           cfg.Model,
		Voice:           cfg.Voice,
		System:          cfg.System,
		AudioIn: protocol.AudioFormat{
			Encoding:     protocol.EncodingPCM16LE,
			SampleRateHz: cfg.InputSampleRate,
			Channels:     audio.Channels,
		},
		AudioOut: protocol.AudioFormat{
			Encoding:     protocol.EncodingPCM16LE,
			SampleRateHz: cfg.OutputSampleRate,
			Channels:     audio.Channels,
		},
	}
	if err := protocol.ValidateHello(hello); err != nil {
		_ = conn.Close()
		return nil, core.NewInvalidRequestError(err.Error(), "")
	}
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, core.NewUnavailableError("send hello: " + err.Error())
	}

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, core.NewUnavailableError("read hello_ack: " + err.Error())
	}
	_ = conn.SetReadDeadline(time.Time{})

	first, err := protocol.DecodeServerMessage(payload)
	if err != nil {
		_ = conn.Close()
		return nil, core.NewAPIError("malformed hello_ack: " + err.Error())
	}
	switch frame := first.(type) {
	case protocol.ServerHelloAck:
		s := &session{conn: conn, cb: cb, log: log, done: make(chan struct{})}
		log.Debug("relay session established", "session_id", frame.SessionID)
		if cb.OnReady != nil {
			cb.OnReady()
		}
		go s.readLoop()
		return s, nil
	case protocol.ServerError:
		_ = conn.Close()
		return nil, &core.Error{Type: core.ErrAPI, Message: frame.Message, Code: frame.Code}
	default:
		_ = conn.Close()
		return nil, core.NewAPIError(fmt.Sprintf("unexpected first relay frame %T", first))
	}
}

// SendAudio ships one capture frame, base64-encoded, with a monotonic
// sequence number.
func (s *session) SendAudio(pcm []byte) error {
	if s.closed.Load() {
		return core.NewUnavailableError("relay session is closed")
	}
	frame := protocol.ClientAudioFrame{
		Type:    "audio_frame",
		Seq:     s.seq.Add(1),
		DataB64: base64.StdEncoding.EncodeToString(pcm),
	}
	return s.writeJSON(frame)
}

func (s *session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		return core.NewUnavailableError("relay write: " + err.Error())
	}
	return nil
}

// Close ends the session. It signals end_session, sends a close frame, and
// tears the connection down; the read loop exits on its own. Safe to call
// more than once, including from inside the session callbacks.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		_ = s.conn.WriteJSON(protocol.ClientControl{Type: "control", Op: protocol.ControlEndSession})
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

// readLoop pumps frames until the connection ends. done closes before the
// terminal callback runs, so Close may be called from inside OnClose or
// OnError without waiting on this goroutine.
func (s *session) readLoop() {
	terminal := s.pump()
	close(s.done)
	if terminal != nil {
		terminal()
	}
}

// pump reads and dispatches frames, returning the terminal callback to run
// once the session is unblocked, if any.
func (s *session) pump() func() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if !s.closed.Load() && s.cb.OnClose != nil {
					return s.cb.OnClose
				}
				return nil
			}
			if s.cb.OnError != nil {
				readErr := core.NewUnavailableError("relay read: " + err.Error())
				return func() { s.cb.OnError(readErr) }
			}
			return nil
		}

		frame, err := protocol.DecodeServerMessage(data)
		if err != nil {
			s.log.Debug("dropping malformed relay frame", "err", err)
			continue
		}
		switch msg := frame.(type) {
		case protocol.ServerMessage:
			frag, err := fragmentFromMessage(msg)
			if err != nil {
				s.log.Debug("dropping relay audio payload", "err", err)
			}
			if !frag.Empty() && s.cb.OnMessage != nil {
				s.cb.OnMessage(frag)
			}
		case protocol.ServerError:
			if s.cb.OnError != nil {
				srvErr := &core.Error{Type: core.ErrAPI, Message: msg.Message, Code: msg.Code}
				return func() { s.cb.OnError(srvErr) }
			}
			return nil
		case protocol.UnknownFrame:
			s.log.Debug("ignoring unknown relay frame", "type", msg.Type)
		}
	}
}

// fragmentFromMessage maps one relay content frame onto the oracle fragment
// shape. A bad audio payload drops only the audio; the text fields survive.
func fragmentFromMessage(msg protocol.ServerMessage) (oracle.Fragment, error) {
	frag := oracle.Fragment{
		InputText:    msg.InputText,
		OutputText:   msg.OutputText,
		TurnComplete: msg.TurnComplete,
		Interrupted:  msg.Interrupted,
	}
	if msg.AudioB64 == "" {
		return frag, nil
	}
	pcm, err := base64.StdEncoding.DecodeString(msg.AudioB64)
	if err != nil {
		return frag, core.NewAPIError("invalid audio_b64: " + err.Error())
	}
	frag.Audio = pcm
	return frag, nil
}
