// Package oracle defines the contracts the balance core uses to talk to its
// generative-AI backend. Components depend on these interfaces only; concrete
// backends live in subpackages so tests can substitute fakes.
package oracle

import "context"

// Fragment is one decoded message from a live conversational-audio session.
// Any subset of fields may be present in a single message; consumers must
// process the fields that are set and skip the rest.
type Fragment struct {
	// InputText is a transcript delta of what the user said.
	InputText string
	// OutputText is a transcript delta of what the model is saying.
	OutputText string
	// Audio is a raw PCM16LE mono payload at the session's playback rate,
	// already decoded from the transport encoding.
	Audio []byte
	// TurnComplete marks the end of one user/model exchange.
	TurnComplete bool
	// Interrupted signals barge-in: all pending playback must stop now.
	Interrupted bool
}

// Empty reports whether no field of the fragment carries information.
func (f Fragment) Empty() bool {
	return f.InputText == "" && f.OutputText == "" && len(f.Audio) == 0 &&
		!f.TurnComplete && !f.Interrupted
}

// LiveCallbacks receive session lifecycle and message events. Callbacks are
// invoked from the backend's read loop, one at a time, in arrival order.
type LiveCallbacks struct {
	OnReady   func()
	OnMessage func(Fragment)
	OnError   func(error)
	OnClose   func()
}

// LiveConfig configures a live audio session.
type LiveConfig struct {
	Model string
	// Voice selects the synthesized voice; backends apply their default when
	// empty.
	Voice string
	// System is an optional system instruction for the conversation.
	System string

	InputSampleRate  int // capture rate, Hz (default 16000)
	OutputSampleRate int // playback rate, Hz (default 24000)
}

// LiveSession is an open bidirectional audio stream.
type LiveSession interface {
	// SendAudio sends one capture frame of PCM16LE mono audio,
	// fire-and-forget. Implementations must be safe to call from the capture
	// callback goroutine.
	SendAudio(pcm []byte) error
	// Close tears down the session. Idempotent; closing an already-closed
	// session returns nil.
	Close() error
}

// LiveDialer opens live audio sessions.
type LiveDialer interface {
	DialLive(ctx context.Context, cfg LiveConfig, cb LiveCallbacks) (LiveSession, error)
}

// Client is the request/response oracle surface used by the non-realtime
// pages of the app.
type Client interface {
	GeneratePlan(ctx context.Context, quiz []QuizAnswer, goals []string) (*WellnessPlan, error)
	AnalyzeFoodImage(ctx context.Context, image []byte, mimeType string) (string, error)
	AnalyzeDigitalHabits(ctx context.Context, text string) (string, error)
	GenerateCommunityPosts(ctx context.Context) ([]CommunityPost, error)
	ChatResponse(ctx context.Context, history, input string) (string, error)

	StartVideo(ctx context.Context, prompt, aspectRatio string) (*VideoOperation, error)
	PollVideo(ctx context.Context, op *VideoOperation) (*VideoOperation, error)
}

// QuizAnswer pairs a quiz question with the answer the user picked.
type QuizAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// PlanActivity is one actionable item inside a wellness plan section.
type PlanActivity struct {
	Name         string   `json:"name"`
	Duration     string   `json:"duration"`
	Description  string   `json:"description"`
	Instructions []string `json:"instructions"`
}

// PlanSection covers one wellness category (mental, physical, digital).
type PlanSection struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Activities  []PlanActivity `json:"activities"`
}

// WellnessPlan is the structured plan generated from quiz answers.
type WellnessPlan struct {
	Summary          string      `json:"summary"`
	MentalWellness   PlanSection `json:"mentalWellness"`
	PhysicalWellness PlanSection `json:"physicalWellness"`
	DigitalWellness  PlanSection `json:"digitalWellness"`
}

// CommunityPost is one generated community feed entry.
type CommunityPost struct {
	User string `json:"user"`
	Text string `json:"text"`
}

// VideoOperation tracks a long-running video generation job. Name is the
// backend operation handle; VideoURI is set once Done.
type VideoOperation struct {
	Name     string
	Done     bool
	VideoURI string
}
