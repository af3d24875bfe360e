package api

import (
	"encoding/json"
	"errors"
	"html"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go"

	"github.com/wayneworks/alfred/internal/flow"
	"github.com/wayneworks/alfred/internal/intent"
	"github.com/wayneworks/alfred/internal/models"
)

// chatHistoryWindow is the number of persisted messages replayed into each
// chat completion.
const chatHistoryWindow = 10

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

// authHandler redirects the browser into the Google consent flow, binding
// the login to the WhatsApp channel passed as ?channel=.
func (s *Server) authHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	channelID := r.URL.Query().Get("channel")
	if channelID == "" {
		slog.Warn("Server.authHandler: missing channel parameter")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing channel parameter"))
		return
	}

	url := s.auth.LoginURL(channelID)
	slog.Debug("Server.authHandler: redirecting to consent page", "channelID", channelID)
	http.Redirect(w, r, url, http.StatusFound)
}

// authCallbackHandler completes the OAuth exchange and shows a small
// confirmation page the user can close before returning to WhatsApp.
func (s *Server) authCallbackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		slog.Warn("Server.authCallbackHandler: missing state or code")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing state or code parameter"))
		return
	}

	user, err := s.auth.HandleCallback(r.Context(), state, code)
	if err != nil {
		slog.Error("Server.authCallbackHandler: callback failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Account linking failed"))
		return
	}

	slog.Info("Server.authCallbackHandler: account linked", "userID", user.ID, "email", user.Email)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	name := flow.DisplayName(user.Email)
	w.Write([]byte("<html><body><h2>Very good, " + html.EscapeString(name) + ".</h2>" +
		"<p>Your Google account is now linked. You may close this window and return to WhatsApp.</p></body></html>"))
}

func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if s.webhook == nil {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.webhook.WebhookHandler(w, r)
}

// chatRequest is the body of POST /chat.
type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// chatHandler runs one persona chat turn with persisted history, for
// clients outside the WhatsApp transport.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Message) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("user_id and message are required"))
		return
	}

	if _, err := s.store.GetUserByID(req.UserID); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown user"))
			return
		}
		slog.Error("Server.chatHandler: user lookup failed", "error", err, "userID", req.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("User lookup failed"))
		return
	}

	history, err := s.store.GetChatMessages(req.UserID, chatHistoryWindow)
	if err != nil {
		slog.Error("Server.chatHandler: history load failed", "error", err, "userID", req.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load chat history"))
		return
	}

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(flow.ChatSystemPrompt)}
	for _, m := range history {
		if m.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.Message))

	reply, err := s.completer.GenerateWithMessages(r.Context(), messages)
	if err != nil {
		slog.Error("Server.chatHandler: completion failed", "error", err, "userID", req.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Chat completion failed"))
		return
	}

	if err := s.store.AddChatMessage(models.ChatMessage{UserID: req.UserID, Role: "user", Content: req.Message}); err != nil {
		slog.Error("Server.chatHandler: failed to persist user turn", "error", err, "userID", req.UserID)
	}
	if err := s.store.AddChatMessage(models.ChatMessage{UserID: req.UserID, Role: "assistant", Content: reply}); err != nil {
		slog.Error("Server.chatHandler: failed to persist assistant turn", "error", err, "userID", req.UserID)
	}

	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"reply": reply}))
}

// orchestrateRequest is the body of POST /orchestrate.
type orchestrateRequest struct {
	UserID  string `json:"user_id"`
	Command string `json:"command"`
}

// orchestrateResult is the result payload of POST /orchestrate.
type orchestrateResult struct {
	Intent   intent.Intent   `json:"intent"`
	Entities intent.Entities `json:"entities"`
	Draft    *models.Draft   `json:"draft,omitempty"`
	DraftID  string          `json:"draft_id,omitempty"`
}

// orchestrateHandler classifies a command and executes the supported email
// actions. email.send produces a Gmail draft for the user to review; it
// never sends without the conversational confirmation step.
func (s *Server) orchestrateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req orchestrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.orchestrateHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Command) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("user_id and command are required"))
		return
	}

	if _, err := s.store.GetUserByID(req.UserID); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown user"))
			return
		}
		slog.Error("Server.orchestrateHandler: user lookup failed", "error", err, "userID", req.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("User lookup failed"))
		return
	}

	classification, err := s.classifier.Classify(r.Context(), req.Command)
	if err != nil {
		slog.Error("Server.orchestrateHandler: classification failed", "error", err, "userID", req.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Intent classification failed"))
		return
	}

	result := orchestrateResult{Intent: classification.Intent, Entities: classification.Entities}

	switch classification.Intent {
	case intent.IntentSendEmail:
		prompt := req.Command
		if classification.Entities.Recipient != "" {
			prompt = "To: " + classification.Entities.Recipient + "\nMessage: " + req.Command
		}
		draft, err := s.drafter.GenerateDraft(r.Context(), prompt)
		if err != nil {
			slog.Error("Server.orchestrateHandler: draft generation failed", "error", err, "userID", req.UserID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Draft generation failed"))
			return
		}
		draftID, err := s.email.CreateDraft(r.Context(), req.UserID, draft)
		if err != nil {
			slog.Error("Server.orchestrateHandler: create draft failed", "error", err, "userID", req.UserID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create email draft"))
			return
		}
		result.Draft = draft
		result.DraftID = draftID
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Draft created", result))

	case intent.IntentUnknown:
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Could not determine an email action for that command", result))

	default:
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Intent recognized but not yet automated", result))
	}
}

func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	receipts, err := s.store.GetReceipts()
	if err != nil {
		slog.Error("Server.receiptsHandler: failed to load receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load receipts"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}
