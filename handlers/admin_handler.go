package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cpbr-dev/Clog-Bot/middleware"
	"github.com/cpbr-dev/Clog-Bot/services"
)

type Resyncer interface {
	Resync(ctx context.Context) (*services.CycleReport, error)
}

type AdminHandler struct {
	overrides services.OverrideService
	scheduler Resyncer
	settings  services.SettingsService
	reranker  services.Reranker
}

func NewAdminHandler(overrides services.OverrideService, scheduler Resyncer, settings services.SettingsService, reranker services.Reranker) *AdminHandler {
	return &AdminHandler{
		overrides: overrides,
		scheduler: scheduler,
		settings:  settings,
		reranker:  reranker,
	}
}

type overrideInput struct {
	Total *int `json:"total"`
}

// SetOverride godoc
// @Summary Задать ручной счёт (< 500) для пользователя
// @Tags admin
// @Accept json
// @Produce json
// @Param ownerID path string true "Owner ID"
// @Param input body overrideInput true "Total"
// @Success 200 {object} map[string]interface{} "override"
// @Failure 422 {object} map[string]string "total вне диапазона 0..499"
// @Security BearerAuth
// @Router /owners/{ownerID}/override [put]
func (h *AdminHandler) SetOverride(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}
	ownerID, err := getOwnerIDFromURL(r, "ownerID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var input overrideInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.Total == nil {
		badRequestResponse(w, r, errors.New("total is required"))
		return
	}

	override, err := h.overrides.SetOverride(r.Context(), actor, ownerID, *input.Total)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"override": override}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ClearOverride godoc
// @Summary Удалить ручной счёт
// @Tags admin
// @Param ownerID path string true "Owner ID"
// @Success 204
// @Security BearerAuth
// @Router /owners/{ownerID}/override [delete]
func (h *AdminHandler) ClearOverride(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}
	ownerID, err := getOwnerIDFromURL(r, "ownerID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if err := h.overrides.ClearOverride(r.Context(), actor, ownerID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetOverride godoc
// @Summary Текущий ручной счёт пользователя
// @Tags admin
// @Produce json
// @Param ownerID path string true "Owner ID"
// @Success 200 {object} map[string]interface{} "override"
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /owners/{ownerID}/override [get]
func (h *AdminHandler) GetOverride(w http.ResponseWriter, r *http.Request) {
	ownerID, err := getOwnerIDFromURL(r, "ownerID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	override, err := h.overrides.GetOverride(r.Context(), ownerID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"override": override}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Resync godoc
// @Summary Запустить полный цикл синхронизации и дождаться результата
// @Tags admin
// @Produce json
// @Success 200 {object} map[string]interface{} "cycle report and leaderboard"
// @Success 202 {object} map[string]string "already_running"
// @Security BearerAuth
// @Router /resync [post]
func (h *AdminHandler) Resync(w http.ResponseWriter, r *http.Request) {
	// цикл может идти дольше WriteTimeout сервера и не должен обрываться при отключении клиента
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	report, err := h.scheduler.Resync(context.WithoutCancel(r.Context()))
	if errors.Is(err, services.ErrAlreadyRunning) {
		if err := writeJSON(w, http.StatusAccepted, jsonResponse{"status": "already_running"}, nil); err != nil {
			serverErrorResponse(w, r, err)
		}
		return
	}
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{
		"status":       "completed",
		"cycle_id":     report.ID,
		"accounts":     report.Accounts,
		"fresh":        report.Fresh,
		"failed":       report.Failed,
		"skipped":      report.Skipped,
		"write_errors": report.WriteErrors,
		"leaderboard":  report.Leaderboard,
	}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

type channelInput struct {
	ChannelID string `json:"channel_id"`
}

type messageInput struct {
	MessageID string `json:"message_id"`
}

// SetChannel godoc
// @Summary Указать канал лидерборда и перепубликовать его
// @Tags admin
// @Accept json
// @Produce json
// @Param input body channelInput true "Channel"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /settings/channel [put]
func (h *AdminHandler) SetChannel(w http.ResponseWriter, r *http.Request) {
	var input channelInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if err := h.settings.SetChannel(r.Context(), input.ChannelID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	// рендерер получит свежий снимок и опубликует его в новом канале
	board, err := h.reranker.Refresh(r.Context())
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	channel, err := h.settings.GetChannel(r.Context())
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"channel": channel, "leaderboard": board}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// SetMessage godoc
// @Summary Запомнить id сообщения с лидербордом
// @Tags admin
// @Accept json
// @Param input body messageInput true "Message"
// @Success 204
// @Security BearerAuth
// @Router /settings/message [put]
func (h *AdminHandler) SetMessage(w http.ResponseWriter, r *http.Request) {
	var input messageInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if err := h.settings.SetMessage(r.Context(), input.MessageID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetChannel godoc
// @Summary Настройки канала лидерборда
// @Tags admin
// @Produce json
// @Success 200 {object} map[string]interface{} "channel"
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /settings/channel [get]
func (h *AdminHandler) GetChannel(w http.ResponseWriter, r *http.Request) {
	channel, err := h.settings.GetChannel(r.Context())
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"channel": channel}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
