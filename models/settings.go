package models

// Ключи таблицы bot_settings.
const (
	SettingLeaderboardChannel = "leaderboard_channel_id"
	SettingLeaderboardMessage = "leaderboard_message_id"
)

// ChannelSettings describes where the external renderer posts the leaderboard.
type ChannelSettings struct {
	ChannelID string `json:"channel_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}
