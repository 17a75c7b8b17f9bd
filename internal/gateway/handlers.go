package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/VyoJ/SahayakAI/internal/dispatch"
	"github.com/VyoJ/SahayakAI/internal/logger"
	"github.com/VyoJ/SahayakAI/internal/task"
)

const maxRequestBytes = 1 << 20

// SubmitRequest is the body of POST /api/conversations/{id}/tasks
type SubmitRequest struct {
	TaskDescription string `json:"task_description"`
	Idempotent      bool   `json:"idempotent,omitempty"`
}

// SubmitResponse is returned for a completed task
type SubmitResponse struct {
	ConversationID string         `json:"conversation_id"`
	State          dispatch.State `json:"state"`
	Result         *task.Result   `json:"result"`
}

// ConversationView describes a conversation's binding
type ConversationView struct {
	ConversationID string         `json:"conversation_id"`
	State          dispatch.State `json:"state"`
	SessionID      string         `json:"session_id,omitempty"`
	BoundAt        *time.Time     `json:"bound_at,omitempty"`
	Busy           bool           `json:"busy"`
}

// ErrorResponse carries a dispatch error kind and the remote's own words
type ErrorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Ambiguous bool   `json:"ambiguous"`
	Temporary bool   `json:"temporary,omitempty"`
}

// handleSubmitTask runs a task on the conversation's session
func (g *Gateway) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req SubmitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		g.logger.Warn("Failed to decode task", logger.Fields{
			"conversation_id": id,
			"error":           err.Error(),
		})
		g.writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  string(dispatch.KindInvalidInput),
			Detail: "invalid request body: " + err.Error(),
		})
		return
	}

	ctx := r.Context()
	conv, err := g.conversation(ctx, id)
	if err != nil {
		g.writeInternal(w, "Failed to load conversation", id, err)
		return
	}

	var opts []task.Option
	if req.Idempotent {
		opts = append(opts, task.Idempotent())
	}
	if rid := r.Header.Get("X-Request-ID"); rid != "" {
		opts = append(opts, task.WithID(rid))
	}

	result, err := conv.Submit(ctx, req.TaskDescription, opts...)
	g.release(id, conv)
	if err != nil {
		g.writeDispatchError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, SubmitResponse{
		ConversationID: id,
		State:          conv.State(),
		Result:         result,
	})
}

// handleGetConversation reports the conversation's binding
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := g.lookup(r.Context(), id)
	if err != nil {
		g.writeInternal(w, "Failed to load conversation", id, err)
		return
	}
	g.writeJSON(w, http.StatusOK, viewOf(conv))
}

// handleListConversations lists all known conversations
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ids, err := g.conversationIDs(ctx)
	if err != nil {
		g.writeInternal(w, "Failed to list conversations", "", err)
		return
	}

	views := make([]ConversationView, 0, len(ids))
	for _, id := range ids {
		conv, err := g.lookup(ctx, id)
		if err != nil {
			g.writeInternal(w, "Failed to load conversation", id, err)
			return
		}
		views = append(views, viewOf(conv))
	}

	g.writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": views,
		"total":         len(views),
	})
}

// handleResetConversation forgets the session, and with ?remote=true deletes it on the remote too
func (g *Gateway) handleResetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	conv, err := g.conversation(ctx, id)
	if err != nil {
		g.writeInternal(w, "Failed to load conversation", id, err)
		return
	}

	previous := conv.SessionID()
	if r.URL.Query().Get("remote") == "true" {
		err = conv.ResetRemote(ctx, g.remote)
	} else {
		err = conv.Reset(ctx)
	}
	g.release(id, conv)

	var de *dispatch.Error
	switch {
	case errors.As(err, &de):
		g.writeDispatchError(w, err)
		return
	case err != nil:
		g.writeInternal(w, "Failed to reset conversation", id, err)
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id":  id,
		"state":            conv.State(),
		"previous_session": previous,
	})
}

// handleStats returns in-process dispatch statistics
func (g *Gateway) handleStats(w http.ResponseWriter, _ *http.Request) {
	if g.metrics == nil {
		http.Error(w, "Metrics not configured", http.StatusServiceUnavailable)
		return
	}
	g.writeJSON(w, http.StatusOK, g.metrics.Snapshot())
}

// handleHealth reports the gateway and remote health
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	}

	status := http.StatusOK
	remote, err := g.remote.Health(r.Context())
	switch {
	case err != nil:
		g.logger.Error("Remote health check failed", logger.Fields{
			"error": err.Error(),
		})
		health["status"] = "unhealthy"
		health["remote_error"] = err.Error()
		status = http.StatusServiceUnavailable
	case !remote.Healthy():
		health["status"] = "unhealthy"
		health["remote"] = remote
		status = http.StatusServiceUnavailable
	default:
		health["remote"] = remote
	}

	g.writeJSON(w, status, health)
}

func viewOf(conv *dispatch.Conversation) ConversationView {
	v := ConversationView{
		ConversationID: conv.ID(),
		State:          conv.State(),
		SessionID:      conv.SessionID(),
		Busy:           conv.Busy(),
	}
	if at := conv.BoundAt(); !at.IsZero() {
		v.BoundAt = &at
	}
	return v
}

// StatusForKind maps a dispatch error kind to the gateway's HTTP status
func StatusForKind(kind dispatch.Kind) int {
	switch kind {
	case dispatch.KindInvalidInput:
		return http.StatusBadRequest
	case dispatch.KindConcurrentSession:
		return http.StatusConflict
	case dispatch.KindRateLimited:
		return http.StatusTooManyRequests
	case dispatch.KindAuth, dispatch.KindConnection, dispatch.KindProtocol:
		return http.StatusBadGateway
	case dispatch.KindTimeout:
		return http.StatusGatewayTimeout
	case dispatch.KindRemoteTask:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (g *Gateway) writeDispatchError(w http.ResponseWriter, err error) {
	var de *dispatch.Error
	if !errors.As(err, &de) {
		g.writeInternal(w, "Unexpected dispatch failure", "", err)
		return
	}
	if de.Kind == dispatch.KindRateLimited {
		w.Header().Set("Retry-After", "5")
	}
	g.writeJSON(w, StatusForKind(de.Kind), ErrorResponse{
		Error:     string(de.Kind),
		Detail:    de.Detail,
		SessionID: de.SessionID,
		Ambiguous: de.Ambiguous,
		Temporary: de.Temporary,
	})
}

func (g *Gateway) writeInternal(w http.ResponseWriter, msg, conversationID string, err error) {
	g.logger.Error(msg, logger.Fields{
		"conversation_id": conversationID,
		"error":           err.Error(),
	})
	g.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal", Detail: msg})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("Failed to encode response", logger.Fields{
			"error": err.Error(),
		})
	}
}
