package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/patriciodunstan/chat-analytics-api/internal/auth"
	"github.com/patriciodunstan/chat-analytics-api/internal/chat"
)

type createConversationRequest struct {
	Title string `json:"title"`
}

func handleListConversations(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleViewer); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	conversations, err := deps.Chat.Conversations(r.Context(), userFromRequest(r))
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "LIST_CONVERSATIONS_FAILED", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func handleCreateConversation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleViewer); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request createConversationRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid conversation request body", false, map[string]any{"details": err.Error()})
		return
	}

	conversation, err := deps.Chat.StartConversation(r.Context(), userFromRequest(r), strings.TrimSpace(request.Title))
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CREATE_CONVERSATION_FAILED", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusCreated, conversation)
}

func handleListMessages(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleViewer); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	conversationID := strings.TrimSpace(r.PathValue("conversation"))
	if conversationID == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "CONVERSATION_REQUIRED", "conversation id is required", false, nil)
		return
	}

	messages, err := deps.Chat.Transcript(r.Context(), userFromRequest(r), conversationID)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "CONVERSATION_NOT_FOUND", "conversation not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "LIST_MESSAGES_FAILED", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}
