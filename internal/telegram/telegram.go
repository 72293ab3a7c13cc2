package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"catalogsync/internal/models"
)

const defaultAPIBase = "https://api.telegram.org"

type Service struct {
	logger  *logrus.Logger
	client  *http.Client
	config  *models.TelegramConfig
	apiBase string
}

func NewService(config *models.TelegramConfig, logger *logrus.Logger) *Service {
	if config == nil {
		config = &models.TelegramConfig{}
	}
	return &Service{
		logger: logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		config:  config,
		apiBase: defaultAPIBase,
	}
}

// SetAPIBase points the service at another Bot API host.
func (s *Service) SetAPIBase(base string) {
	s.apiBase = strings.TrimRight(base, "/")
}

// SendMessage sends an HTML message to the configured chat. It is a no-op
// when the service is disabled.
func (s *Service) SendMessage(ctx context.Context, message string) error {
	if !s.config.IsEnabled {
		return nil
	}

	if s.config.BotToken == "" {
		return errors.New("Telegram bot token is not configured")
	}

	if s.config.ChatID == "" {
		return errors.New("Telegram chat ID is not configured")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.config.BotToken)
	payload := map[string]any{
		"chat_id":    s.config.ChatID,
		"text":       message,
		"parse_mode": "HTML",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to build Telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message to Telegram API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusNotFound:
			return errors.New("invalid bot token - please check your token from @BotFather")
		case http.StatusBadRequest:
			return fmt.Errorf("invalid chat ID or message format: %s", string(body))
		case http.StatusForbidden:
			return errors.New("bot was blocked by the user or chat")
		default:
			return fmt.Errorf("Telegram API error (status %d): %s", resp.StatusCode, string(body))
		}
	}

	return nil
}

// NotifyRun reports a finished run when it raised alerts or finished with a
// warning. Quiet runs send nothing.
func (s *Service) NotifyRun(ctx context.Context, run models.IngestRun) error {
	if !s.config.IsEnabled {
		return nil
	}
	if run.AlertsCount == 0 && !run.Warning {
		return nil
	}

	if err := s.SendMessage(ctx, FormatRun(run)); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"provider": run.Provider,
	}).Info("Sent run notification")
	return nil
}

// FormatRun renders the run summary sent to the chat.
func FormatRun(run models.IngestRun) string {
	var b strings.Builder

	title := "<b>Catalog ingest finished</b>"
	if run.Warning {
		title = "⚠️ <b>Catalog ingest finished with warnings</b>"
	}
	b.WriteString(title + "\n\n")

	fmt.Fprintf(&b, "🏢 Provider: %s\n", html.EscapeString(run.Provider))
	fmt.Fprintf(&b, "📥 Source: %s\n", html.EscapeString(run.Source))
	fmt.Fprintf(&b, "📊 Rows: %d valid of %d\n", run.RowsValid, run.RowsTotal)
	fmt.Fprintf(&b, "🔄 Upserted: %d, deactivated: %d\n", run.UnitsUpserted, run.UnitsSoftDeleted)
	if run.BuildingsSkipped > 0 {
		fmt.Fprintf(&b, "⏭ Buildings skipped: %d\n", run.BuildingsSkipped)
	}
	if run.AlertsCount > 0 {
		fmt.Fprintf(&b, "🔔 Alerts: <b>%d</b>\n", run.AlertsCount)
	}
	if run.FinishedAt != nil {
		fmt.Fprintf(&b, "⏱ Took %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(&b, "\n<code>%s</code>", html.EscapeString(run.ID))

	return b.String()
}
