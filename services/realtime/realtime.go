package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Key addresses the change stream of one lesson.
type Key struct {
	SchoolID string `json:"school_id"`
	LessonID string `json:"lesson_id"`
}

// Change is one row change reported by the database collaborator.
type Change struct {
	Op       string    `json:"op"` // insert, update, delete
	RecordID string    `json:"record_id"`
	At       time.Time `json:"at"`
}

// Payload groups the changes of one notification by kind.
type Payload struct {
	Attendance   []Change `json:"attendance,omitempty"`
	Lesson       []Change `json:"lesson,omitempty"`
	DailyLog     []Change `json:"daily_log,omitempty"`
	Diary        []Change `json:"diary,omitempty"`
	Substitution []Change `json:"substitution,omitempty"`
}

type Scope int

const (
	ScopeNone Scope = iota
	// ScopeAttendance only needs the attendance badge of the lesson refreshed.
	ScopeAttendance
	// ScopeFull needs a full refetch.
	ScopeFull
)

func (s Scope) String() string {
	switch s {
	case ScopeAttendance:
		return "attendance"
	case ScopeFull:
		return "full"
	}
	return "none"
}

// ScopeFor decides how much to refresh for a payload. Attendance-only changes
// are handled with a partial refresh; any other kind forces a full one.
func ScopeFor(p Payload) Scope {
	if len(p.Lesson) > 0 || len(p.DailyLog) > 0 || len(p.Diary) > 0 || len(p.Substitution) > 0 {
		return ScopeFull
	}
	if len(p.Attendance) > 0 {
		return ScopeAttendance
	}
	return ScopeNone
}

type Notification struct {
	Key     Key     `json:"key"`
	Payload Payload `json:"payload"`
}

// Callback receives notifications for a subscribed school.
type Callback func(ctx context.Context, n Notification)

// Bus delivers change notifications. The func returned by Subscribe removes the
// subscription; once it returns the callback is not invoked again.
type Bus interface {
	Publish(ctx context.Context, key Key, payload Payload) error
	Subscribe(ctx context.Context, schoolID string, cb Callback) (func(), error)
}

const channelPrefix = "klassenbuch:changes:"

// Channel returns the pub/sub channel of a key.
func Channel(key Key) string {
	return channelPrefix + key.SchoolID + ":" + key.LessonID
}

func schoolPattern(schoolID string) string {
	return channelPrefix + schoolID + ":*"
}

func encode(key Key, payload Payload) ([]byte, error) {
	return json.Marshal(Notification{Key: key, Payload: payload})
}

// decode parses a message and checks it against the channel it arrived on.
func decode(channel string, data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return n, fmt.Errorf("decode notification on %s: %w", channel, err)
	}
	if n.Key.LessonID == "" {
		rest := strings.TrimPrefix(channel, channelPrefix)
		if i := strings.LastIndex(rest, ":"); i >= 0 {
			n.Key.SchoolID, n.Key.LessonID = rest[:i], rest[i+1:]
		}
	}
	if Channel(n.Key) != channel {
		return n, fmt.Errorf("notification key %+v does not match channel %s", n.Key, channel)
	}
	return n, nil
}
