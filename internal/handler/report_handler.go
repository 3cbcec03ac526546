package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cleslab/cles-backend/internal/eventlog"
	"github.com/cleslab/cles-backend/internal/model"
	"github.com/cleslab/cles-backend/internal/repository"
	"github.com/cleslab/cles-backend/internal/response"
)

// ReportHandler serves post-session reports rebuilt from persisted data.
// Summaries are derived purely from the event log, so a report reflects
// exactly what was recorded, not what the engine remembered.
type ReportHandler struct {
	sessions  *repository.SessionRepository
	responses *repository.ResponseRepository
	events    *repository.EventRepository
	log       zerolog.Logger
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(
	sessions *repository.SessionRepository,
	responses *repository.ResponseRepository,
	events *repository.EventRepository,
	log zerolog.Logger,
) *ReportHandler {
	return &ReportHandler{
		sessions:  sessions,
		responses: responses,
		events:    events,
		log:       log.With().Str("component", "report_handler").Logger(),
	}
}

// GetSessionReport godoc
// GET /api/v1/reports/sessions/:session_id
func (h *ReportHandler) GetSessionReport(c *gin.Context) {
	id, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sess, err := h.sessions.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		h.log.Error().Err(err).Str("session_id", id.String()).Msg("Load session failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	responses, err := h.responses.ListBySession(c.Request.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", id.String()).Msg("Load responses failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	events, err := h.events.ListBySession(c.Request.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", id.String()).Msg("Load events failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	summary := eventlog.SummarizeSession(id, events, questionCount(responses, events))

	response.Success(c, http.StatusOK, gin.H{
		"session":   sess,
		"responses": responses,
		"summary":   summary,
	})
}

// ListUserSessions godoc
// GET /api/v1/users/:user_id/sessions
func (h *ReportHandler) ListUserSessions(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sessions, err := h.sessions.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID.String()).Msg("List sessions failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, sessions)
}

// questionCount infers how many questions the session held from the
// persisted rows, since the schedule prefix length is not stored.
func questionCount(responses []model.Response, events []eventlog.Event) int {
	n := 0
	for _, r := range responses {
		if r.QIndex+1 > n {
			n = r.QIndex + 1
		}
	}
	for _, ev := range events {
		if ev.QuestionIndex+1 > n {
			n = ev.QuestionIndex + 1
		}
	}
	return n
}
