package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"klassenbuch_go/models"
	"klassenbuch_go/services/excuse"
	"klassenbuch_go/utils"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// MessageExcuseChanged is the websocket frame type of excuse notifications.
const MessageExcuseChanged = "excuse_changed"

const redisListKey = "klassenbuch:notifications:queue"

// Notice is what class subscribers and the LINE group receive after an excuse
// mutation. Only names and counters leave the service, never excuse texts.
type Notice struct {
	Action     excuse.Action               `json:"action"`
	StudentID  string                      `json:"student_id"`
	Student    string                      `json:"student"`
	ClassID    string                      `json:"class_id"`
	ItemType   models.ItemType             `json:"item_type"`
	ItemID     string                      `json:"item_id"`
	Actor      string                      `json:"actor"`
	Title      string                      `json:"title"`
	Message    string                      `json:"message"`
	Statistics *utils.StudentStatisticsDTO `json:"statistics,omitempty"`
	CreatedAt  time.Time                   `json:"created_at"`
}

// WSHub interface for WebSocket broadcasting
type WSHub interface {
	BroadcastToClass(classID string, message interface{})
}

// LineSender pushes a text to a LINE group.
type LineSender interface {
	SendLineMessageToGroup(groupID string, message string) error
}

// Service delivers excuse notifications. With Redis enabled, notices are
// queued and delivered by the worker; otherwise they go out directly.
type Service struct {
	redis       *redis.Client
	useRedis    bool
	wsHub       WSHub
	line        LineSender
	lineGroupID string
}

func NewService(hub WSHub, rdb *redis.Client, useRedis bool) *Service {
	return &Service{
		redis:    rdb,
		useRedis: useRedis && rdb != nil,
		wsHub:    hub,
	}
}

// SetLine enables LINE delivery to groupID.
func (s *Service) SetLine(sender LineSender, groupID string) {
	s.line = sender
	s.lineGroupID = groupID
}

// NoticeFor renders the user-facing notice of an event.
func NoticeFor(e excuse.Event) Notice {
	dto := utils.ToStudentStatisticsDTO(e.Statistics)
	n := Notice{
		Action:     e.Action,
		StudentID:  e.StudentID,
		Student:    e.Statistics.Name,
		ClassID:    e.ClassID,
		ItemType:   e.ItemType,
		ItemID:     e.ItemID,
		Actor:      e.Actor.Name,
		Statistics: &dto,
		CreatedAt:  e.At,
	}
	// the detail lists are reloaded by clients; keep frames small
	n.Statistics.AbsenceDetails = nil
	n.Statistics.LatenessDetails = nil

	switch e.Action {
	case excuse.ActionExcused:
		n.Title = "Entschuldigung erfasst"
	case excuse.ActionExcuseDeleted:
		n.Title = "Entschuldigung gelöscht"
	case excuse.ActionExcuseEdited:
		n.Title = "Entschuldigung bearbeitet"
	default:
		n.Title = "Eintrag aktualisiert"
	}
	n.Message = fmt.Sprintf("%s: %s (%s) von %s", n.Title, n.Student, describeItem(e), n.Actor)
	return n
}

func describeItem(e excuse.Event) string {
	switch e.ItemType {
	case models.ItemAbsence:
		if i := e.Statistics.FindAbsence(e.ItemID); i >= 0 {
			d := e.Statistics.AbsenceDetails[i]
			label := "Fehlstunde " + d.Subject
			if d.AbsenceType == models.Fehltag {
				label = "Fehltag"
			}
			return label + ", " + utils.FormatDate(d.Date)
		}
	case models.ItemLateness:
		if i := e.Statistics.FindLateness(e.ItemID); i >= 0 {
			d := e.Statistics.LatenessDetails[i]
			return fmt.Sprintf("Verspätung %d Min., %s", d.Minutes, utils.FormatDate(d.Date))
		}
	}
	return string(e.ItemType)
}

// Publish implements excuse.Publisher.
func (s *Service) Publish(ctx context.Context, e excuse.Event) {
	n := NoticeFor(e)
	if s.useRedis {
		b, err := json.Marshal(n)
		if err == nil {
			if err = s.redis.RPush(ctx, redisListKey, b).Err(); err == nil {
				return // queued successfully
			}
		}
		logrus.WithError(err).Warn("Notification queue failed, delivering directly")
	}
	s.deliver(n)
}

func (s *Service) deliver(n Notice) {
	if s.wsHub != nil && n.ClassID != "" {
		s.wsHub.BroadcastToClass(n.ClassID, map[string]interface{}{
			"type":     MessageExcuseChanged,
			"class_id": n.ClassID,
			"data":     n,
		})
	}
	if s.line != nil && s.lineGroupID != "" {
		if err := s.line.SendLineMessageToGroup(s.lineGroupID, n.Message); err != nil {
			logrus.WithError(err).WithField("student_id", n.StudentID).Warn("LINE notification failed")
		}
	}
}

// StartWorker starts a background worker polling the Redis queue.
func (s *Service) StartWorker(stop <-chan struct{}) {
	if !s.useRedis {
		logrus.Info("Redis notifications disabled; worker not started")
		return
	}
	go func() {
		logrus.Info("Redis notification worker started")
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		ctx := context.Background()
		for {
			select {
			case <-stop:
				logrus.Info("Notification worker stopping")
				return
			case <-ticker.C:
				s.flushBatch(ctx, 200)
			}
		}
	}()
}

// flushBatch drains up to five batches from the queue per tick.
func (s *Service) flushBatch(ctx context.Context, batchSize int) {
	for i := 0; i < 5; i++ {
		vals, err := s.redis.LRange(ctx, redisListKey, 0, int64(batchSize-1)).Result()
		if err != nil || len(vals) == 0 {
			return
		}
		if err = s.redis.LTrim(ctx, redisListKey, int64(len(vals)), -1).Err(); err != nil {
			logrus.WithError(err).Warn("Notification queue trim failed")
		}
		for _, raw := range vals {
			var n Notice
			if err := json.Unmarshal([]byte(raw), &n); err != nil {
				logrus.WithError(err).Warn("Dropping malformed queued notification")
				continue
			}
			s.deliver(n)
		}
		if len(vals) < batchSize {
			return
		}
	}
}
