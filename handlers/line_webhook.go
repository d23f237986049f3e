package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/line/line-bot-sdk-go/linebot"
	"github.com/sirupsen/logrus"
)

// Replier answers a webhook event.
type Replier interface {
	ReplyText(replyToken, message string) error
}

// LineWebhookHandler receives LINE group events. Joining a group replies with
// the group ID so it can be configured as LINE_GROUP_ID.
type LineWebhookHandler struct {
	secret  string
	groupID string
	replier Replier
}

func NewLineWebhookHandler(secret, groupID string, replier Replier) *LineWebhookHandler {
	return &LineWebhookHandler{secret: secret, groupID: groupID, replier: replier}
}

// Handle receives a webhook request
func (h *LineWebhookHandler) Handle(c *fiber.Ctx) error {
	if h.secret == "" {
		return c.SendStatus(fiber.StatusOK)
	}

	signature := c.Get("X-Line-Signature")
	if signature == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	if !validateSignature(h.secret, c.Body(), signature) {
		logrus.WithField("ip", c.IP()).Warn("LINE webhook signature mismatch")
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	events, err := parseEvents(c.Body())
	if err != nil {
		logrus.WithError(err).Warn("Failed to parse LINE webhook events")
		return c.SendStatus(fiber.StatusBadRequest)
	}
	for _, event := range events {
		h.handleEvent(event)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *LineWebhookHandler) handleEvent(event *linebot.Event) {
	if event.Source == nil || event.Source.GroupID == "" {
		return
	}
	groupID := event.Source.GroupID
	entry := logrus.WithFields(logrus.Fields{"group_id": groupID, "configured": groupID == h.groupID})

	switch event.Type {
	case linebot.EventTypeJoin:
		entry.Info("Bot joined LINE group")
		if h.replier == nil || event.ReplyToken == "" {
			return
		}
		if err := h.replier.ReplyText(event.ReplyToken, joinMessage(groupID)); err != nil {
			entry.WithError(err).Warn("Failed to reply to join event")
		}
	case linebot.EventTypeLeave:
		if groupID == h.groupID {
			entry.Warn("Bot left the configured LINE group, excuse notifications will fail")
			return
		}
		entry.Info("Bot left LINE group")
	}
}

func joinMessage(groupID string) string {
	return fmt.Sprintf("Klassenbuch-Benachrichtigungen: Gruppen-ID %s", groupID)
}

func parseEvents(body []byte) ([]*linebot.Event, error) {
	var webhook struct {
		Events []*linebot.Event `json:"events"`
	}
	if err := json.Unmarshal(body, &webhook); err != nil {
		return nil, err
	}
	return webhook.Events, nil
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func validateSignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(signature), []byte(computeSignature(secret, body)))
}
