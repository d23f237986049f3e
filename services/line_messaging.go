package services

import (
	"fmt"

	"klassenbuch_go/config"

	"github.com/line/line-bot-sdk-go/linebot"
	"github.com/sirupsen/logrus"
)

// LineMessagingService wraps the LINE Messaging API client
type LineMessagingService struct {
	Bot *linebot.Client
}

// NewLineMessagingService returns a service with a nil Bot when LINE is not configured.
func NewLineMessagingService(cfg *config.Config) *LineMessagingService {
	if cfg == nil || cfg.LineChannelSecret == "" || cfg.LineChannelAccessToken == "" {
		logrus.Info("LINE Messaging API disabled: missing LINE_CHANNEL_SECRET or LINE_CHANNEL_ACCESS_TOKEN")
		return &LineMessagingService{Bot: nil}
	}

	bot, err := linebot.New(cfg.LineChannelSecret, cfg.LineChannelAccessToken)
	if err != nil {
		logrus.WithError(err).Error("Cannot create LINE bot client")
		return &LineMessagingService{Bot: nil}
	}
	return &LineMessagingService{Bot: bot}
}

// Enabled reports whether messages can be sent.
func (s *LineMessagingService) Enabled() bool {
	return s != nil && s.Bot != nil
}

// SendLineMessageToGroup pushes a text message to a group
func (s *LineMessagingService) SendLineMessageToGroup(groupID string, message string) error {
	if !s.Enabled() {
		return fmt.Errorf("LINE Bot client is not initialized")
	}
	if _, err := s.Bot.PushMessage(groupID, linebot.NewTextMessage(message)).Do(); err != nil {
		return fmt.Errorf("LINE Messaging API failed: %w", err)
	}
	return nil
}

// ReplyText answers a webhook event through its reply token
func (s *LineMessagingService) ReplyText(replyToken, message string) error {
	if !s.Enabled() {
		return fmt.Errorf("LINE Bot client is not initialized")
	}
	if _, err := s.Bot.ReplyMessage(replyToken, linebot.NewTextMessage(message)).Do(); err != nil {
		return fmt.Errorf("LINE reply failed: %w", err)
	}
	return nil
}
