package realtime

import (
	"context"
	"errors"

	"klassenbuch_go/models"
	"klassenbuch_go/services/klassenbuch"
	"klassenbuch_go/services/websocket"

	"github.com/sirupsen/logrus"
)

const (
	MessageAttendance = "klassenbuch.attendance"
	MessageRefresh    = "klassenbuch.refresh"
)

// Refresher is the part of the Klassenbuch service the handler drives.
type Refresher interface {
	Refresh(ctx context.Context) error
	RefreshAttendance(ctx context.Context, lessonID string) (models.Lesson, bool, error)
	LessonClass(lessonID string) (string, bool)
}

// Pusher is implemented by the websocket hub.
type Pusher interface {
	BroadcastToClass(classID string, message interface{})
	Broadcast(message interface{})
}

// Handler turns change notifications into refreshes and client pushes.
type Handler struct {
	svc Refresher
	hub Pusher
}

func NewHandler(svc Refresher, hub Pusher) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// Handle is a Callback. Re-running it for the same notification is harmless
// since refreshes re-derive everything from the source.
func (h *Handler) Handle(ctx context.Context, n Notification) {
	scope := ScopeFor(n.Payload)
	log := logrus.WithFields(logrus.Fields{
		"school_id": n.Key.SchoolID,
		"lesson_id": n.Key.LessonID,
		"scope":     scope.String(),
	})

	switch scope {
	case ScopeNone:
		return

	case ScopeAttendance:
		lesson, ok, err := h.svc.RefreshAttendance(ctx, n.Key.LessonID)
		if err != nil {
			log.WithError(err).Warn("Attendance refresh failed")
			return
		}
		if !ok {
			log.Debug("Change for unknown lesson ignored")
			return
		}
		if h.hub != nil {
			h.hub.BroadcastToClass(lesson.ClassID, websocket.Message{Type: MessageAttendance, ClassID: lesson.ClassID, Data: lesson})
		}

	case ScopeFull:
		if err := h.svc.Refresh(ctx); err != nil {
			if errors.Is(err, klassenbuch.ErrStaleRefresh) {
				log.Debug("Refresh superseded")
				return
			}
			log.WithError(err).Error("Full refresh failed")
			return
		}
		if h.hub == nil {
			return
		}
		msg := websocket.Message{Type: MessageRefresh, Data: n.Key}
		if classID, ok := h.svc.LessonClass(n.Key.LessonID); ok {
			msg.ClassID = classID
			h.hub.BroadcastToClass(classID, msg)
			return
		}
		h.hub.Broadcast(msg)
	}
}
