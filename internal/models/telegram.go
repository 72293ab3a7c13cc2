package models

// TelegramConfig stores the bot credentials and whether run summaries are sent
type TelegramConfig struct {
	IsEnabled bool   `json:"is_enabled"`
	BotToken  string `json:"-"`
	ChatID    string `json:"chat_id"`
}
