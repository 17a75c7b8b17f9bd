package dispatch

import (
	"encoding/json"
	"strings"

	"github.com/VyoJ/SahayakAI/internal/config"
)

// Wire types for the Computer Use API. The service owns the schema, so
// decoding ignores unknown fields and keeps the raw body on the result.

// chatRequest carries the task under both field names the service has used
type chatRequest struct {
	Message         string `json:"message"`
	TaskDescription string `json:"task_description"`
	SessionID       string `json:"session_id"`
}

type chatResponse struct {
	Status    string `json:"status"`
	Result    string `json:"result"`
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

func (r chatResponse) text() string {
	if r.Result != "" {
		return r.Result
	}
	return r.Response
}

func (r chatResponse) succeeded() bool {
	return strings.EqualFold(strings.TrimSpace(r.Status), "success")
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// SessionConfig is the provider configuration pushed to a new session
type SessionConfig struct {
	PlannerModel          string `json:"planner_model,omitempty"`
	ActorModel            string `json:"actor_model,omitempty"`
	PlannerProvider       string `json:"planner_provider,omitempty"`
	ActorProvider         string `json:"actor_provider,omitempty"`
	PlannerAPIKey         string `json:"planner_api_key,omitempty"`
	ActorAPIKey           string `json:"actor_api_key,omitempty"`
	OnlyNMostRecentImages int    `json:"only_n_most_recent_images,omitempty"`
	CustomSystemPrompt    string `json:"custom_system_prompt,omitempty"`
}

// SessionConfigFrom converts provider settings, or returns nil when none are set
func SessionConfigFrom(p config.ProviderConfig) *SessionConfig {
	if !p.Enabled() {
		return nil
	}
	return &SessionConfig{
		PlannerModel:          p.PlannerModel,
		ActorModel:            p.ActorModel,
		PlannerProvider:       p.PlannerProvider,
		ActorProvider:         p.ActorProvider,
		PlannerAPIKey:         p.APIKey,
		ActorAPIKey:           p.APIKey,
		OnlyNMostRecentImages: p.OnlyNMostRecentImages,
		CustomSystemPrompt:    p.CustomSystemPrompt,
	}
}

type configureSessionRequest struct {
	SessionID string        `json:"session_id"`
	Config    SessionConfig `json:"config"`
}

// SessionInfo is the remote's view of a session, with API keys redacted by the service
type SessionInfo struct {
	SessionID string                 `json:"session_id"`
	State     map[string]interface{} `json:"state"`
}

type messagesResponse struct {
	Messages []json.RawMessage `json:"messages"`
}

// Health is the remote's health report
type Health struct {
	Status           string `json:"status"`
	ScreensAvailable int    `json:"screens_available"`
	ActiveSessions   int    `json:"active_sessions"`
	Platform         string `json:"platform"`
}

// Healthy reports whether the remote described itself as healthy
func (h *Health) Healthy() bool {
	return h != nil && strings.EqualFold(h.Status, "healthy")
}

// Screens lists the displays the remote can drive
type Screens struct {
	Screens      []string `json:"screens"`
	PrimaryIndex int      `json:"primary_index"`
	TotalScreens int      `json:"total_screens"`
}
