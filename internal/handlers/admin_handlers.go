package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tgassist-backend/internal/auth"
	"tgassist-backend/internal/models"
	"tgassist-backend/internal/services"
	"tgassist-backend/internal/store"
	"tgassist-backend/pkg/httputil"
)

// AdminHandlers expose user inspection and maintenance operations over the
// JWT-guarded admin API.
type AdminHandlers struct {
	chatService *services.ChatService
}

// NewAdminHandlers creates a new AdminHandlers instance.
func NewAdminHandlers(cs *services.ChatService) *AdminHandlers {
	return &AdminHandlers{chatService: cs}
}

func userIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
}

// HandleGetUser returns a user's profile and settings.
func (h *AdminHandlers) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	user, err := h.chatService.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.RespondError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Printf("ERROR [Admin] Failed to get user %d: %v", userID, err)
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to get user")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, user)
}

// HandleGetStats returns a user's aggregate usage statistics.
func (h *AdminHandlers) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	stats, err := h.chatService.GetStats(r.Context(), userID)
	if err != nil {
		log.Printf("ERROR [Admin] Failed to get stats for user %d: %v", userID, err)
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to get stats")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, stats)
}

// HandleExportHistory dumps a user's conversation history. The format query
// parameter defaults to text.
func (h *AdminHandlers) HandleExportHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = string(store.ExportFormatText)
	}

	dump, err := h.chatService.ExportHistory(r.Context(), userID, store.ExportFormat(format))
	if err != nil {
		if errors.Is(err, store.ErrUnsupportedFormat) {
			httputil.RespondError(w, http.StatusBadRequest, "Unsupported export format (expected text or json)")
			return
		}
		log.Printf("ERROR [Admin] Failed to export history for user %d: %v", userID, err)
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to export history")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, models.ExportResponse{Format: format, Content: dump})
}

// HandleClearHistory removes a user's conversation history.
func (h *AdminHandlers) HandleClearHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	subject, _ := auth.GetSubjectFromContext(r.Context())
	log.Printf("[Admin] %s clearing history for user %d", subject, userID)

	if err := h.chatService.ClearHistory(r.Context(), userID); err != nil {
		log.Printf("ERROR [Admin] Failed to clear history for user %d: %v", userID, err)
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to clear history")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleListDeferred returns a user's deferred messages, sent or not.
func (h *AdminHandlers) HandleListDeferred(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	msgs, err := h.chatService.ListDeferredMessages(r.Context(), userID)
	if err != nil {
		log.Printf("ERROR [Admin] Failed to list deferred messages for user %d: %v", userID, err)
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to list deferred messages")
		return
	}
	if msgs == nil {
		msgs = []models.DeferredMessage{}
	}

	httputil.RespondJSON(w, http.StatusOK, msgs)
}

// HandleScheduleMessage enqueues a deferred message on a user's behalf.
func (h *AdminHandlers) HandleScheduleMessage(w http.ResponseWriter, r *http.Request) {
	var req models.ScheduleMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.UserID == 0 || req.Time == "" || req.Content == "" {
		httputil.RespondError(w, http.StatusBadRequest, "user_id, time and content are required")
		return
	}

	msg, err := h.chatService.ScheduleMessage(r.Context(), req.UserID, req.Time, req.Content)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid time: "+err.Error())
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, models.ScheduleMessageResponse{
		ID:            msg.ID,
		ScheduledTime: msg.ScheduledTime,
		Content:       msg.Content,
	})
}
