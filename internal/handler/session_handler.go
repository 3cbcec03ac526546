// Package handler holds the Gin HTTP handlers.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cleslab/cles-backend/internal/middleware"
	"github.com/cleslab/cles-backend/internal/model"
	"github.com/cleslab/cles-backend/internal/response"
	"github.com/cleslab/cles-backend/internal/session"
	"github.com/cleslab/cles-backend/internal/validator"
)

// SessionHandler handles the session lifecycle and in-session actions.
type SessionHandler struct {
	manager *session.Manager
	tokens  *middleware.TokenService
	log     zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(manager *session.Manager, tokens *middleware.TokenService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		tokens:  tokens,
		log:     log.With().Str("component", "session_handler").Logger(),
	}
}

// Start godoc
// POST /api/v1/sessions
// Creates a session over a subtopic's questions and returns the session
// token plus the initial state.
func (h *SessionHandler) Start(c *gin.Context) {
	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	userID, _ := uuid.Parse(req.UserID)
	subtopicID, _ := uuid.Parse(req.SubtopicID)

	eng, err := h.manager.Start(c.Request.Context(), userID, subtopicID, model.SessionMode(req.Mode))
	if err != nil {
		if errors.Is(err, session.ErrNoQuestions) {
			response.Fail(c, http.StatusBadRequest, response.ErrNoQuestions)
			return
		}
		h.log.Error().Err(err).Str("subtopic_id", req.SubtopicID).Msg("Start session failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	token, err := h.tokens.Mint(eng.SessionID(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("Mint session token failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"token":    token,
		"state":    eng.Snapshot(),
		"question": eng.CurrentQuestion(),
	})
}

// GetState godoc
// GET /api/v1/sessions/:session_id/state
func (h *SessionHandler) GetState(c *gin.Context) {
	eng, ok := h.engine(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"state":    eng.Snapshot(),
		"question": eng.CurrentQuestion(),
	})
}

// SubmitAnswer godoc
// POST /api/v1/sessions/:session_id/answer
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	eng, ok := h.engine(c)
	if !ok {
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	h.act(c, eng, eng.SubmitAnswer(req.Answer))
}

// UseHint godoc
// POST /api/v1/sessions/:session_id/hint
func (h *SessionHandler) UseHint(c *gin.Context) {
	eng, ok := h.engine(c)
	if !ok {
		return
	}

	var req model.HintRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	h.act(c, eng, eng.UseHint(req.Kind))
}

// RequestExtraTime godoc
// POST /api/v1/sessions/:session_id/extra-time
func (h *SessionHandler) RequestExtraTime(c *gin.Context) {
	eng, ok := h.engine(c)
	if !ok {
		return
	}
	h.act(c, eng, eng.RequestExtraTime())
}

// RequestSkipConfirmation godoc
// POST /api/v1/sessions/:session_id/skip/confirm
func (h *SessionHandler) RequestSkipConfirmation(c *gin.Context) {
	eng, ok := h.engine(c)
	if !ok {
		return
	}
	h.act(c, eng, eng.RequestSkipConfirmation())
}

// CancelSkipConfirmation godoc
// POST /api/v1/sessions/:session_id/skip/cancel
func (h *SessionHandler) CancelSkipConfirmation(c *gin.Context) {
	eng, ok := h.engine(c)
	if !ok {
		return
	}
	eng.CancelSkipConfirmation()
	response.Success(c, http.StatusOK, eng.Snapshot())
}

// SkipQuestion godoc
// POST /api/v1/sessions/:session_id/skip
func (h *SessionHandler) SkipQuestion(c *gin.Context) {
	eng, ok := h.engine(c)
	if !ok {
		return
	}
	if err := eng.SkipQuestion(); err != nil && !isNoOp(err) {
		h.failAction(c, err)
		return
	}
	h.respondAfterAdvance(c, eng)
}

// NextQuestion godoc
// POST /api/v1/sessions/:session_id/next
func (h *SessionHandler) NextQuestion(c *gin.Context) {
	eng, ok := h.engine(c)
	if !ok {
		return
	}
	if err := eng.NextQuestion(); err != nil && !isNoOp(err) {
		h.failAction(c, err)
		return
	}
	h.respondAfterAdvance(c, eng)
}

// DismissStressor godoc
// POST /api/v1/sessions/:session_id/stressor/dismiss
func (h *SessionHandler) DismissStressor(c *gin.Context) {
	eng, ok := h.engine(c)
	if !ok {
		return
	}
	eng.DismissStressor()
	response.Success(c, http.StatusOK, eng.Snapshot())
}

// AcceptSupportOffer godoc
// POST /api/v1/sessions/:session_id/support/accept
func (h *SessionHandler) AcceptSupportOffer(c *gin.Context) {
	eng, ok := h.engine(c)
	if !ok {
		return
	}
	h.act(c, eng, eng.AcceptSupportOffer())
}

// DismissSupportOffer godoc
// POST /api/v1/sessions/:session_id/support/dismiss
func (h *SessionHandler) DismissSupportOffer(c *gin.Context) {
	eng, ok := h.engine(c)
	if !ok {
		return
	}
	eng.DismissSupportPopup()
	response.Success(c, http.StatusOK, eng.Snapshot())
}

// StartRest godoc
// POST /api/v1/sessions/:session_id/rest/start
func (h *SessionHandler) StartRest(c *gin.Context) {
	eng, ok := h.engine(c)
	if !ok {
		return
	}
	h.act(c, eng, eng.StartRest())
}

// ResumeFromRest godoc
// POST /api/v1/sessions/:session_id/rest/resume
func (h *SessionHandler) ResumeFromRest(c *gin.Context) {
	eng, ok := h.engine(c)
	if !ok {
		return
	}
	h.act(c, eng, eng.ResumeFromRest())
}

// DismissRestSuggestion godoc
// POST /api/v1/sessions/:session_id/rest/dismiss
func (h *SessionHandler) DismissRestSuggestion(c *gin.Context) {
	eng, ok := h.engine(c)
	if !ok {
		return
	}
	eng.DismissRestSuggestion()
	response.Success(c, http.StatusOK, eng.Snapshot())
}

// RecordDeviceAlert godoc
// POST /api/v1/sessions/:session_id/device-alert
func (h *SessionHandler) RecordDeviceAlert(c *gin.Context) {
	eng, ok := h.engine(c)
	if !ok {
		return
	}

	var req struct {
		Detail string `json:"detail" binding:"required"`
	}
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	eng.RecordDeviceAlert(req.Detail)
	response.Success(c, http.StatusOK, gin.H{"status": "recorded"})
}

// End godoc
// POST /api/v1/sessions/:session_id/end
// Finalizes the session and returns the terminal result.
func (h *SessionHandler) End(c *gin.Context) {
	id, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.manager.End(c.Request.Context(), id)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// engine resolves the live engine for the :session_id path parameter.
func (h *SessionHandler) engine(c *gin.Context) (*session.Engine, bool) {
	id, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, false
	}
	eng, err := h.manager.Get(id)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return nil, false
	}
	return eng, true
}

// act converts an engine action result into the standard state response.
// Expected races (duplicate submits, stale modal choices, hint-limit hits)
// are no-ops: the action is ignored and the current state returned.
func (h *SessionHandler) act(c *gin.Context, eng *session.Engine, err error) {
	if err != nil && !isNoOp(err) {
		h.failAction(c, err)
		return
	}
	response.Success(c, http.StatusOK, eng.Snapshot())
}

// isNoOp reports whether an engine error is an expected client race rather
// than a protocol violation. Double-clicks, late timers, and stale UI all
// produce these; they never block the client.
func isNoOp(err error) bool {
	switch {
	case errors.Is(err, session.ErrCompleted),
		errors.Is(err, session.ErrRevealActive),
		errors.Is(err, session.ErrNoReveal),
		errors.Is(err, session.ErrHintLimit),
		errors.Is(err, session.ErrExampleUsed),
		errors.Is(err, session.ErrExtraTimeUsed),
		errors.Is(err, session.ErrNoTimeUpChoice),
		errors.Is(err, session.ErrNoOfferPending),
		errors.Is(err, session.ErrNoRestPending):
		return true
	}
	return false
}

// respondAfterAdvance returns the new state and, when the session is still
// live, the next question. After the last question it returns the result.
func (h *SessionHandler) respondAfterAdvance(c *gin.Context, eng *session.Engine) {
	snap := eng.Snapshot()
	if snap.IsCompleted {
		response.Success(c, http.StatusOK, gin.H{
			"state":  snap,
			"result": eng.Result(),
		})
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"state":    snap,
		"question": eng.CurrentQuestion(),
	})
}

func (h *SessionHandler) failAction(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrModeNoSupport):
		response.Fail(c, http.StatusForbidden, response.ErrSupportDisabled)
	case errors.Is(err, session.ErrInvalidHintKind):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
	default:
		h.log.Error().Err(err).Msg("Session action failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
