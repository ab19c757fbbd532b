package main

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/balanceai/balance/pkg/live/protocol"
	"github.com/balanceai/balance/pkg/oracle"
)

// relayServer terminates client websockets speaking pkg/live/protocol and
// bridges each one onto an upstream live session. Clients get realtime voice
// without holding provider credentials.
type relayServer struct {
	dialer   oracle.LiveDialer
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func newRelayServer(dialer oracle.LiveDialer, log *slog.Logger) *relayServer {
	return &relayServer{dialer: dialer, log: log}
}

// wsWriter serializes frame writes; upstream callbacks and the client read
// loop both write to the same connection.
type wsWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsWriter) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func (s *relayServer) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	out := &wsWriter{conn: conn}

	hello, err := readHello(conn)
	if err != nil {
		_ = out.writeJSON(protocol.ServerError{Type: "error", Code: "bad_request", Message: err.Error()})
		return
	}

	sessionID := uuid.NewString()
	log := s.log.With("session_id", sessionID)

	cfg := oracle.LiveConfig{
		Model:            hello.Model,
		Voice:            hello.Voice,
		System:           hello.System,
		InputSampleRate:  hello.AudioIn.SampleRateHz,
		OutputSampleRate: hello.AudioOut.SampleRateHz,
	}
	upstream, err := s.dialer.DialLive(r.Context(), cfg, oracle.LiveCallbacks{
		OnReady: func() {
			_ = out.writeJSON(protocol.ServerHelloAck{Type: "hello_ack", SessionID: sessionID})
		},
		OnMessage: func(frag oracle.Fragment) {
			msg := protocol.ServerMessage{
				Type:         "message",
				InputText:    frag.InputText,
				OutputText:   frag.OutputText,
				TurnComplete: frag.TurnComplete,
				Interrupted:  frag.Interrupted,
			}
			if len(frag.Audio) > 0 {
				msg.AudioB64 = base64.StdEncoding.EncodeToString(frag.Audio)
			}
			if err := out.writeJSON(msg); err != nil {
				log.Debug("client write failed", "err", err)
			}
		},
		OnError: func(err error) {
			_ = out.writeJSON(protocol.ServerError{Type: "error", Code: "upstream", Message: err.Error()})
			_ = conn.Close()
		},
		OnClose: func() {
			_ = conn.Close()
		},
	})
	if err != nil {
		log.Warn("upstream dial failed", "err", err)
		_ = out.writeJSON(protocol.ServerError{Type: "error", Code: "unavailable", Message: err.Error()})
		return
	}
	defer upstream.Close()

	log.Info("live session bridged", "model", cfg.Model)
	s.clientLoop(conn, upstream, log)
}

// clientLoop forwards client frames upstream until the client goes away or
// asks to end the session.
func (s *relayServer) clientLoop(conn *websocket.Conn, upstream oracle.LiveSession, log *slog.Logger) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := protocol.DecodeClientMessage(data)
		if err != nil {
			log.Debug("dropping malformed client frame", "err", err)
			continue
		}
		switch msg := frame.(type) {
		case protocol.ClientAudioFrame:
			pcm, err := base64.StdEncoding.DecodeString(msg.DataB64)
			if err != nil {
				log.Debug("dropping undecodable audio frame", "seq", msg.Seq)
				continue
			}
			if err := upstream.SendAudio(pcm); err != nil {
				log.Debug("upstream send failed", "err", err)
			}
		case protocol.ClientControl:
			if msg.Op == protocol.ControlEndSession {
				return
			}
			// interrupt is detected upstream from the audio itself
		}
	}
}

func readHello(conn *websocket.Conn) (protocol.ClientHello, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return protocol.ClientHello{}, err
	}
	frame, err := protocol.DecodeClientMessage(data)
	if err != nil {
		return protocol.ClientHello{}, err
	}
	hello, ok := frame.(protocol.ClientHello)
	if !ok {
		return protocol.ClientHello{}, protocolError("first frame must be hello")
	}
	return hello, nil
}

type protocolError string

func (e protocolError) Error() string { return string(e) }
