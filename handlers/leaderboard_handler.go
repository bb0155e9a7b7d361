package handlers

import (
	"context"
	"net/http"

	"github.com/cpbr-dev/Clog-Bot/models"
)

// LeaderboardSource returns the currently published snapshot.
type LeaderboardSource interface {
	Current() *models.Leaderboard
}

type OwnerAggregator interface {
	AggregateOwner(ctx context.Context, ownerID models.OwnerID) (*models.RepresentativeScore, error)
}

type LeaderboardHandler struct {
	boards     LeaderboardSource
	aggregator OwnerAggregator
}

func NewLeaderboardHandler(boards LeaderboardSource, aggregator OwnerAggregator) *LeaderboardHandler {
	return &LeaderboardHandler{boards: boards, aggregator: aggregator}
}

// GetLeaderboard godoc
// @Summary Текущий лидерборд (топ-50)
// @Tags leaderboard
// @Produce json
// @Success 200 {object} models.Leaderboard
// @Router /leaderboard [get]
func (h *LeaderboardHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if err := writeJSON(w, http.StatusOK, h.boards.Current(), nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// GetOwnerScore godoc
// @Summary Представительный счёт пользователя
// @Tags leaderboard
// @Produce json
// @Param ownerID path string true "Owner ID"
// @Success 200 {object} models.RepresentativeScore
// @Failure 404 {object} map[string]string "Нет известного счёта"
// @Router /owners/{ownerID}/score [get]
func (h *LeaderboardHandler) GetOwnerScore(w http.ResponseWriter, r *http.Request) {
	ownerID, err := getOwnerIDFromURL(r, "ownerID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	score, err := h.aggregator.AggregateOwner(r.Context(), ownerID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, score, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
