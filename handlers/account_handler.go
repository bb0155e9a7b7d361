package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/cpbr-dev/Clog-Bot/middleware"
	"github.com/cpbr-dev/Clog-Bot/models"
	"github.com/cpbr-dev/Clog-Bot/services"
	"github.com/go-chi/chi/v5"
)

type AccountHandler struct {
	registry services.AccountRegistry
}

func NewAccountHandler(registry services.AccountRegistry) *AccountHandler {
	return &AccountHandler{registry: registry}
}

func accountNameParam(r *http.Request) string {
	raw := chi.URLParam(r, "name")
	if name, err := url.PathUnescape(raw); err == nil {
		return name
	}
	return raw
}

// Link godoc
// @Summary Привязать игровой аккаунт к текущему пользователю
// @Tags accounts
// @Accept json
// @Produce json
// @Param input body services.LinkAccountInput true "Account"
// @Success 201 {object} map[string]interface{} "account and score"
// @Failure 409 {object} map[string]string "Аккаунт уже привязан"
// @Failure 422 {object} map[string]string "Неверное имя, тип или эмодзи"
// @Security BearerAuth
// @Router /accounts [post]
func (h *AccountHandler) Link(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	var input services.LinkAccountInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	input.OwnerID = actor.ID

	account, err := h.registry.Link(r.Context(), input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	// сразу подтягиваем счёт; неудача не отменяет привязку
	response := jsonResponse{"account": account}
	score, err := h.registry.Update(r.Context(), account.Name)
	switch {
	case err == nil:
		response["score"] = score
	case score != nil:
		response["score"] = score
		response["fetch_error"] = err.Error()
	default:
		response["fetch_error"] = err.Error()
	}

	if err := writeJSON(w, http.StatusCreated, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Edit godoc
// @Summary Изменить имя, тип или эмодзи аккаунта
// @Tags accounts
// @Accept json
// @Produce json
// @Param name path string true "Account name"
// @Param input body services.EditAccountInput true "Changes"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /accounts/{name} [patch]
func (h *AccountHandler) Edit(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	var input services.EditAccountInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.Name == nil && input.Type == nil && input.Emoji == nil {
		badRequestResponse(w, r, errors.New("at least one of name, account_type or emoji is required"))
		return
	}

	account, err := h.registry.Edit(r.Context(), actor, accountNameParam(r), input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"account": account}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Unlink godoc
// @Summary Отвязать аккаунт (владелец или администратор)
// @Tags accounts
// @Param name path string true "Account name"
// @Success 204
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /accounts/{name} [delete]
func (h *AccountHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}
	if err := h.registry.Unlink(r.Context(), actor, accountNameParam(r)); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Refresh godoc
// @Summary Обновить счёт одного аккаунта сейчас
// @Tags accounts
// @Produce json
// @Param name path string true "Account name"
// @Success 200 {object} map[string]interface{} "score"
// @Failure 429 {object} map[string]string
// @Failure 502 {object} map[string]string
// @Security BearerAuth
// @Router /accounts/{name}/refresh [post]
func (h *AccountHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	score, err := h.registry.Update(r.Context(), accountNameParam(r))
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"score": score}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Whois godoc
// @Summary Кому принадлежит аккаунт
// @Tags accounts
// @Produce json
// @Param name path string true "Account name"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /accounts/{name}/owner [get]
func (h *AccountHandler) Whois(w http.ResponseWriter, r *http.Request) {
	owner, err := h.registry.Whois(r.Context(), accountNameParam(r))
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	resp := struct {
		OwnerID models.OwnerID `json:"owner_id,string"`
	}{owner}
	if err := writeJSON(w, http.StatusOK, resp, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ListByOwner godoc
// @Summary Аккаунты пользователя
// @Tags accounts
// @Produce json
// @Param ownerID path string true "Owner ID"
// @Success 200 {object} map[string]interface{}
// @Router /owners/{ownerID}/accounts [get]
func (h *AccountHandler) ListByOwner(w http.ResponseWriter, r *http.Request) {
	ownerID, err := getOwnerIDFromURL(r, "ownerID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	accounts, err := h.registry.List(r.Context(), ownerID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"accounts": accounts}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
