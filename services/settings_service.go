package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/cpbr-dev/Clog-Bot/models"
	"github.com/cpbr-dev/Clog-Bot/repositories"
)

// Discord snowflake.
var channelIDPattern = regexp.MustCompile(`^[0-9]{1,20}$`)

type SettingsService interface {
	SetChannel(ctx context.Context, channelID string) error
	SetMessage(ctx context.Context, messageID string) error
	GetChannel(ctx context.Context) (*models.ChannelSettings, error)
}

type settingsService struct {
	settings repositories.SettingsRepository
	logger   *slog.Logger
}

func NewSettingsService(settings repositories.SettingsRepository, logger *slog.Logger) SettingsService {
	return &settingsService{settings: settings, logger: logger}
}

// SetChannel points the leaderboard at a new channel and forgets the old message.
func (s *settingsService) SetChannel(ctx context.Context, channelID string) error {
	if !channelIDPattern.MatchString(channelID) {
		return fmt.Errorf("%w: channel id must be numeric", ErrInvalidSetting)
	}
	if err := s.settings.Set(ctx, models.SettingLeaderboardChannel, channelID); err != nil {
		return persistenceError("store channel", err)
	}
	if err := s.settings.Delete(ctx, models.SettingLeaderboardMessage); err != nil {
		return persistenceError("clear message", err)
	}
	s.logger.Info("leaderboard channel set", "channel_id", channelID)
	return nil
}

func (s *settingsService) SetMessage(ctx context.Context, messageID string) error {
	if !channelIDPattern.MatchString(messageID) {
		return fmt.Errorf("%w: message id must be numeric", ErrInvalidSetting)
	}
	if _, err := s.settings.Get(ctx, models.SettingLeaderboardChannel); err != nil {
		if errors.Is(err, repositories.ErrSettingNotFound) {
			return ErrNotFound
		}
		return persistenceError("load channel", err)
	}
	if err := s.settings.Set(ctx, models.SettingLeaderboardMessage, messageID); err != nil {
		return persistenceError("store message", err)
	}
	return nil
}

// GetChannel returns ErrNotFound until a channel has been configured.
func (s *settingsService) GetChannel(ctx context.Context) (*models.ChannelSettings, error) {
	channelID, err := s.settings.Get(ctx, models.SettingLeaderboardChannel)
	if err != nil {
		if errors.Is(err, repositories.ErrSettingNotFound) {
			return nil, ErrNotFound
		}
		return nil, persistenceError("load channel", err)
	}
	result := &models.ChannelSettings{ChannelID: channelID}

	messageID, err := s.settings.Get(ctx, models.SettingLeaderboardMessage)
	switch {
	case err == nil:
		result.MessageID = messageID
	case !errors.Is(err, repositories.ErrSettingNotFound):
		return nil, persistenceError("load message", err)
	}
	return result, nil
}
