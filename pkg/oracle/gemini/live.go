package gemini

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"google.golang.org/genai"

	"github.com/balanceai/balance/pkg/core"
	"github.com/balanceai/balance/pkg/oracle"
)

type liveSession struct {
	sess *genai.Session
	rate int

	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

// DialLive opens a native-audio live session. Connect blocks until the setup
// handshake completes, so OnReady fires before the first SendAudio is useful.
func (c *Client) DialLive(ctx context.Context, cfg oracle.LiveConfig, cb oracle.LiveCallbacks) (oracle.LiveSession, error) {
	model := cfg.Model
	if model == "" {
		model = LiveModel
	}
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}

	connectCfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}
	if cfg.System != "" {
		connectCfg.SystemInstruction = genai.NewContentFromText(cfg.System, genai.RoleUser)
	}

	sess, err := c.api.Live.Connect(ctx, model, connectCfg)
	if err != nil {
		return nil, core.NewOracleError("live connect", err)
	}

	s := &liveSession{sess: sess, rate: cfg.InputSampleRate, done: make(chan struct{})}
	if cb.OnReady != nil {
		cb.OnReady()
	}
	go s.readLoop(cb)
	return s, nil
}

// SendAudio ships one capture frame as a realtime media blob.
func (s *liveSession) SendAudio(pcm []byte) error {
	if s.closed.Load() {
		return core.NewUnavailableError("live session is closed")
	}
	err := s.sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			Data:     pcm,
			MIMEType: fmt.Sprintf("audio/pcm;rate=%d", s.rate),
		},
	})
	if err != nil {
		return core.NewOracleError("send audio", err)
	}
	return nil
}

// Close tears the session down. Safe to call more than once, including from
// inside the session callbacks.
func (s *liveSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		_ = s.sess.Close()
	})
	<-s.done
	return nil
}

// readLoop pumps server messages until the stream ends. done closes before
// the terminal callback runs, so Close may be called from inside OnClose or
// OnError without waiting on this goroutine.
func (s *liveSession) readLoop(cb oracle.LiveCallbacks) {
	terminal := s.pump(cb)
	close(s.done)
	if terminal != nil {
		terminal()
	}
}

func (s *liveSession) pump(cb oracle.LiveCallbacks) func() {
	for {
		msg, err := s.sess.Receive()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			if err == io.EOF {
				if cb.OnClose != nil {
					return cb.OnClose
				}
				return nil
			}
			if cb.OnError != nil {
				recvErr := core.NewOracleError("live receive", err)
				return func() { cb.OnError(recvErr) }
			}
			return nil
		}
		frag := fragmentFromServerMessage(msg)
		if !frag.Empty() && cb.OnMessage != nil {
			cb.OnMessage(frag)
		}
	}
}

// fragmentFromServerMessage flattens one live server message onto the oracle
// fragment shape. Absent fields stay zero; any subset may be present at once.
func fragmentFromServerMessage(msg *genai.LiveServerMessage) oracle.Fragment {
	var frag oracle.Fragment
	if msg == nil || msg.ServerContent == nil {
		return frag
	}
	sc := msg.ServerContent
	if sc.InputTranscription != nil {
		frag.InputText = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		frag.OutputText = sc.OutputTranscription.Text
	}
	frag.TurnComplete = sc.TurnComplete
	frag.Interrupted = sc.Interrupted
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				frag.Audio = part.InlineData.Data
				break
			}
		}
	}
	return frag
}
