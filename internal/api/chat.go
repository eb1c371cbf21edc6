package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/patriciodunstan/chat-analytics-api/internal/auth"
	"github.com/patriciodunstan/chat-analytics-api/internal/chat"
	"github.com/patriciodunstan/chat-analytics-api/internal/nl2sql"
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

type chatResponse struct {
	ConversationID   string         `json:"conversation_id"`
	Reply            string         `json:"reply"`
	IsDataQuery      bool           `json:"is_data_query"`
	Confidence       float64        `json:"confidence"`
	QueryDescription string         `json:"query_description,omitempty"`
	Result           *nl2sql.Result `json:"result,omitempty"`
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var request chatRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body", false, map[string]any{"details": err.Error()})
		return chatRequest{}, false
	}
	if strings.TrimSpace(request.Message) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "MESSAGE_REQUIRED", "message is required", false, nil)
		return chatRequest{}, false
	}
	return request, true
}

func toChatResponse(resp chat.ChatResponse) chatResponse {
	return chatResponse{
		ConversationID:   resp.ConversationID,
		Reply:            resp.Reply.Text,
		IsDataQuery:      resp.Reply.IsDataQuery,
		Confidence:       resp.Reply.Confidence,
		QueryDescription: resp.Reply.QueryDescription,
		Result:           resp.Reply.Result,
	}
}

func handleChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleViewer); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	request, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	resp, err := deps.Chat.ProcessMessage(r.Context(), userFromRequest(r), request.ConversationID, request.Message)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "CONVERSATION_NOT_FOUND", "conversation not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "CHAT_FAILED", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, toChatResponse(resp))
}

// handleChatStream answers over server-sent events: chunk events carry
// reply fragments, one final done event carries the full metadata.
func handleChatStream(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleViewer); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	request, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(r.Context(), w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "response writer does not support streaming", false, nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	emit := func(chunk string) error {
		payload, err := json.Marshal(map[string]string{"text": chunk})
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte("event: chunk\ndata: " + string(payload) + "\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	resp, err := deps.Chat.StreamMessage(r.Context(), userFromRequest(r), request.ConversationID, request.Message, emit)
	if err != nil {
		payload, _ := json.Marshal(map[string]string{"message": err.Error()})
		_, _ = w.Write([]byte("event: error\ndata: " + string(payload) + "\n\n"))
		flusher.Flush()
		return
	}

	payload, err := json.Marshal(toChatResponse(resp))
	if err == nil {
		_, _ = w.Write([]byte("event: done\ndata: " + string(payload) + "\n\n"))
		flusher.Flush()
	}
}
