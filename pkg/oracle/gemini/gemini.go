// Package gemini backs the oracle contracts with the Gemini API via the
// google.golang.org/genai SDK.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/balanceai/balance/pkg/core"
	"github.com/balanceai/balance/pkg/oracle"
)

// Model names used by each surface.
const (
	TextModel  = "gemini-2.5-flash"
	LiveModel  = "gemini-2.5-flash-native-audio-preview-09-2025"
	VideoModel = "veo-3.1-fast-generate-preview"

	DefaultVoice = "Zephyr"
)

// Config configures the backend.
type Config struct {
	APIKey string
	// TextModel overrides the default request/response model.
	TextModel string
	Logger    *slog.Logger
}

// Client implements oracle.Client and oracle.LiveDialer on the Gemini API.
type Client struct {
	api       *genai.Client
	textModel string
	log       *slog.Logger
}

// New creates a Gemini-backed oracle client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, core.NewInvalidRequestError("API key is required", "api_key")
	}
	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, core.NewOracleError("create client", err)
	}
	model := cfg.TextModel
	if model == "" {
		model = TextModel
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{api: api, textModel: model, log: log}, nil
}

// GeneratePlan builds a structured wellness plan from quiz answers and goals.
// The response is constrained to the plan schema, so a parse failure means the
// backend broke its contract.
func (c *Client) GeneratePlan(ctx context.Context, quiz []oracle.QuizAnswer, goals []string) (*oracle.WellnessPlan, error) {
	var sb strings.Builder
	for _, qa := range quiz {
		fmt.Fprintf(&sb, "Question: %s\nAnswer: %s\n\n", qa.Question, qa.Answer)
	}
	prompt := fmt.Sprintf(`Based on the following quiz answers, create a personalized wellness plan.

Quiz Answers:
%s
User's Goals: %s

The plan should be holistic, covering mental, physical, and digital wellness.
- For each category (mental, physical, digital), provide a title, a short description, and exactly 3 actionable activities.
- Each activity needs a name, a duration (e.g., "15 minutes"), a brief description, and a short, numbered list of instructions.
- Provide an overall summary of the plan, written in a supportive and encouraging tone.
- The entire response MUST be a valid JSON object. Do not include any text outside of the JSON structure.
`, sb.String(), strings.Join(goals, ", "))

	resp, err := c.api.Models.GenerateContent(ctx, c.textModel, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   wellnessPlanSchema(),
	})
	if err != nil {
		return nil, core.NewOracleError("generate plan", err)
	}
	var plan oracle.WellnessPlan
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Text())), &plan); err != nil {
		return nil, core.NewAPIError("invalid plan format: " + err.Error())
	}
	return &plan, nil
}

// AnalyzeFoodImage returns a markdown nutritional estimate for a food photo.
func (c *Client) AnalyzeFoodImage(ctx context.Context, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", core.NewInvalidRequestError("image data is required", "image")
	}
	content := genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromBytes(image, mimeType),
		genai.NewPartFromText("Analyze the food in this image. Provide a nutritional estimate (calories, protein, carbs, fats) and a general health assessment. Format the response as markdown."),
	}, genai.RoleUser)
	resp, err := c.api.Models.GenerateContent(ctx, c.textModel, []*genai.Content{content}, nil)
	if err != nil {
		return "", core.NewOracleError("analyze food image", err)
	}
	return resp.Text(), nil
}

// AnalyzeDigitalHabits returns coaching feedback on a description of the
// user's digital habits.
func (c *Client) AnalyzeDigitalHabits(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf(`As an AI wellness coach, analyze the following text describing a user's digital habits or containing content they've been exposed to. Provide constructive, positive, and actionable feedback. If the text is negative, offer strategies for coping. If it describes habits, suggest ways to improve digital wellness. Format as markdown.

User input: %q`, text)
	resp, err := c.api.Models.GenerateContent(ctx, c.textModel, genai.Text(prompt), nil)
	if err != nil {
		return "", core.NewOracleError("analyze digital habits", err)
	}
	return resp.Text(), nil
}

// GenerateCommunityPosts produces a batch of anonymous motivational posts.
func (c *Client) GenerateCommunityPosts(ctx context.Context) ([]oracle.CommunityPost, error) {
	prompt := `Generate 5 anonymous, supportive, and motivational posts for a wellness app community. Each post should have a 'user' (like "Mindful User" or "Active Soul") and 'text'. The entire response must be a valid JSON array of objects.`
	resp, err := c.api.Models.GenerateContent(ctx, c.textModel, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   communityPostsSchema(),
	})
	if err != nil {
		return nil, core.NewOracleError("generate community posts", err)
	}
	var posts []oracle.CommunityPost
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Text())), &posts); err != nil {
		return nil, core.NewAPIError("invalid posts format: " + err.Error())
	}
	return posts, nil
}

// ChatResponse answers one chat turn given the rendered history.
func (c *Client) ChatResponse(ctx context.Context, history, input string) (string, error) {
	prompt := fmt.Sprintf("You are BalanceAI, a friendly and supportive wellness assistant. Here is the conversation history:\n%s\n\nUser: %s\nBalanceAI:", history, input)
	resp, err := c.api.Models.GenerateContent(ctx, c.textModel, genai.Text(prompt), nil)
	if err != nil {
		return "", core.NewOracleError("chat response", err)
	}
	return resp.Text(), nil
}

// StartVideo kicks off a long-running video generation job.
func (c *Client) StartVideo(ctx context.Context, prompt, aspectRatio string) (*oracle.VideoOperation, error) {
	op, err := c.api.Models.GenerateVideos(ctx, VideoModel, prompt, nil, &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		Resolution:     "720p",
		AspectRatio:    aspectRatio,
	})
	if err != nil {
		return nil, core.NewOracleError("start video", err)
	}
	return videoOperation(op), nil
}

// PollVideo refreshes the state of a running video job.
func (c *Client) PollVideo(ctx context.Context, op *oracle.VideoOperation) (*oracle.VideoOperation, error) {
	if op == nil || op.Name == "" {
		return nil, core.NewInvalidRequestError("operation name is required", "name")
	}
	updated, err := c.api.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: op.Name}, nil)
	if err != nil {
		return nil, core.NewOracleError("poll video", err)
	}
	return videoOperation(updated), nil
}

func videoOperation(op *genai.GenerateVideosOperation) *oracle.VideoOperation {
	out := &oracle.VideoOperation{Name: op.Name, Done: op.Done}
	if op.Response != nil {
		for _, v := range op.Response.GeneratedVideos {
			if v != nil && v.Video != nil && v.Video.URI != "" {
				out.VideoURI = v.Video.URI
				break
			}
		}
	}
	return out
}

func activitySchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"name":        {Type: genai.TypeString},
			"duration":    {Type: genai.TypeString},
			"description": {Type: genai.TypeString},
			"instructions": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
		},
		Required: []string{"name", "duration", "description", "instructions"},
	}
}

func sectionSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":       {Type: genai.TypeString},
			"description": {Type: genai.TypeString},
			"activities": {
				Type:  genai.TypeArray,
				Items: activitySchema(),
			},
		},
		Required: []string{"title", "description", "activities"},
	}
}

func wellnessPlanSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary":          {Type: genai.TypeString},
			"mentalWellness":   sectionSchema(),
			"physicalWellness": sectionSchema(),
			"digitalWellness":  sectionSchema(),
		},
		Required: []string{"summary", "mentalWellness", "physicalWellness", "digitalWellness"},
	}
}

func communityPostsSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"user": {Type: genai.TypeString},
				"text": {Type: genai.TypeString},
			},
			Required: []string{"user", "text"},
		},
	}
}
