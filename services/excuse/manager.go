package excuse

import (
	"context"
	"errors"
	"strings"
	"time"

	"klassenbuch_go/config"
	"klassenbuch_go/models"
	"klassenbuch_go/services/statistics"
	"klassenbuch_go/services/store"

	"github.com/sirupsen/logrus"
)

// Persister writes a committed detail record back to the database. Failures are
// logged; the in-memory change is never rolled back.
type Persister interface {
	SaveAbsence(ctx context.Context, studentID string, d models.AbsenceDetail) error
	SaveLateness(ctx context.Context, studentID string, d models.LatenessDetail) error
}

type Action string

const (
	ActionExcused        Action = "excused"
	ActionExcuseDeleted  Action = "excuse_deleted"
	ActionExcuseEdited   Action = "excuse_edited"
	ActionDetailsUpdated Action = "details_updated"
)

// Event describes a committed mutation.
type Event struct {
	Action     Action                   `json:"action"`
	StudentID  string                   `json:"student_id"`
	ClassID    string                   `json:"class_id"`
	ItemType   models.ItemType          `json:"item_type"`
	ItemID     string                   `json:"item_id"`
	Actor      models.Actor             `json:"actor"`
	At         time.Time                `json:"at"`
	Statistics models.StudentStatistics `json:"statistics"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Manager is the only mutation entry point for StudentStatistics. Every
// operation adjusts the counters in the same store update that changes the
// detail record, then verifies them against a full recount.
type Manager struct {
	store      *store.Store
	Now        func() time.Time
	Strict     bool // panic on counter divergence instead of healing
	Persister  Persister
	publishers []Publisher
}

func NewManager(st *store.Store) *Manager {
	return &Manager{
		store:  st,
		Now:    time.Now,
		Strict: config.AppConfig != nil && strings.ToLower(config.AppConfig.AppEnv) == "development",
	}
}

func (m *Manager) AddPublisher(p Publisher) {
	m.publishers = append(m.publishers, p)
}

// AbsenceUpdate is a partial update; nil fields are left unchanged. Changing
// Type routes through the excuse transitions, so switching to excused needs
// ExcuseText. Changing AbsenceType resets Minutes unless Minutes is also set.
type AbsenceUpdate struct {
	Date        *time.Time
	Subject     *string
	Reason      *string
	AbsenceType *models.AbsenceType
	Minutes     *int
	Type        *models.ExcuseStatus
	ExcuseText  *string
}

type LatenessUpdate struct {
	Date       *time.Time
	Subject    *string
	Reason     *string
	Minutes    *int
	Type       *models.ExcuseStatus
	ExcuseText *string
}

// ConvertToExcused moves an unexcused absence or lateness to excused and
// attaches a fresh excuse created by actor.
func (m *Manager) ConvertToExcused(ctx context.Context, studentID, itemID string, itemType models.ItemType, text string, actor models.Actor) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return invalidInput("excuse text is required")
	}
	info := newExcuse(text, actor, m.Now())

	s, err := m.mutate(studentID, func(s *models.StudentStatistics) error {
		return transition(s, itemType, itemID, models.Excused, info)
	})
	if err != nil {
		return err
	}
	m.afterCommit(ctx, ActionExcused, s, itemType, itemID, actor)
	return nil
}

// DeleteExcuse reverts an excused item to unexcused and drops its excuse.
func (m *Manager) DeleteExcuse(ctx context.Context, studentID, itemID string, itemType models.ItemType, actor models.Actor) error {
	s, err := m.mutate(studentID, func(s *models.StudentStatistics) error {
		return transition(s, itemType, itemID, models.Unexcused, nil)
	})
	if err != nil {
		return err
	}
	m.afterCommit(ctx, ActionExcuseDeleted, s, itemType, itemID, actor)
	return nil
}

// EditExcuseText records the previous text in the edit history and replaces it.
func (m *Manager) EditExcuseText(ctx context.Context, studentID, itemID string, itemType models.ItemType, text string, editor models.Actor) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return invalidInput("excuse text is required")
	}
	now := m.Now()

	s, err := m.mutate(studentID, func(s *models.StudentStatistics) error {
		status, info, err := locate(s, itemType, itemID)
		if err != nil {
			return err
		}
		if *status != models.Excused {
			return &TransitionError{ItemType: itemType, ItemID: itemID, From: *status, To: models.Excused}
		}
		appendEdit(*info, text, editor, now)
		return nil
	})
	if err != nil {
		return err
	}
	m.afterCommit(ctx, ActionExcuseEdited, s, itemType, itemID, editor)
	return nil
}

// UpdateAbsenceDetails merges u into the absence and keeps the counters in step.
func (m *Manager) UpdateAbsenceDetails(ctx context.Context, studentID, absenceID string, u AbsenceUpdate, actor models.Actor) error {
	now := m.Now()
	s, err := m.mutate(studentID, func(s *models.StudentStatistics) error {
		i := s.FindAbsence(absenceID)
		if i < 0 {
			return &NotFoundError{Kind: string(models.ItemAbsence), ID: absenceID}
		}
		d := &s.AbsenceDetails[i]
		countAbsence(s, *d, -1)

		if u.Date != nil {
			d.Date = *u.Date
		}
		if u.Subject != nil {
			d.Subject = *u.Subject
		}
		if u.Reason != nil {
			d.Reason = *u.Reason
		}
		if u.AbsenceType != nil && *u.AbsenceType != d.AbsenceType {
			if *u.AbsenceType != models.Fehltag && *u.AbsenceType != models.Fehlstunde {
				return invalidInput("unknown absence type %q", *u.AbsenceType)
			}
			d.AbsenceType = *u.AbsenceType
			d.Minutes = models.MinutesFor(d.AbsenceType)
		}
		if u.Minutes != nil {
			if *u.Minutes < 0 {
				return invalidInput("minutes must not be negative")
			}
			d.Minutes = *u.Minutes
		}
		if err := patchExcuse(models.ItemAbsence, absenceID, &d.Type, &d.ExcuseInfo, u.Type, u.ExcuseText, actor, now); err != nil {
			return err
		}

		countAbsence(s, *d, 1)
		return nil
	})
	if err != nil {
		return err
	}
	m.afterCommit(ctx, ActionDetailsUpdated, s, models.ItemAbsence, absenceID, actor)
	return nil
}

// UpdateLatenessDetails merges u into the lateness and keeps the minute
// counters in step.
func (m *Manager) UpdateLatenessDetails(ctx context.Context, studentID, latenessID string, u LatenessUpdate, actor models.Actor) error {
	now := m.Now()
	s, err := m.mutate(studentID, func(s *models.StudentStatistics) error {
		i := s.FindLateness(latenessID)
		if i < 0 {
			return &NotFoundError{Kind: string(models.ItemLateness), ID: latenessID}
		}
		d := &s.LatenessDetails[i]
		countLateness(s, *d, -1)

		if u.Date != nil {
			d.Date = *u.Date
		}
		if u.Subject != nil {
			d.Subject = *u.Subject
		}
		if u.Reason != nil {
			d.Reason = *u.Reason
		}
		if u.Minutes != nil {
			if *u.Minutes < 0 {
				return invalidInput("minutes must not be negative")
			}
			d.Minutes = *u.Minutes
		}
		if err := patchExcuse(models.ItemLateness, latenessID, &d.Type, &d.ExcuseInfo, u.Type, u.ExcuseText, actor, now); err != nil {
			return err
		}

		countLateness(s, *d, 1)
		return nil
	})
	if err != nil {
		return err
	}
	m.afterCommit(ctx, ActionDetailsUpdated, s, models.ItemLateness, latenessID, actor)
	return nil
}

// mutate runs fn inside one store update, settles totals and the rate, and
// verifies the result before it is committed.
func (m *Manager) mutate(studentID string, fn func(s *models.StudentStatistics) error) (models.StudentStatistics, error) {
	s, err := m.store.Update(studentID, func(s *models.StudentStatistics) error {
		if err := fn(s); err != nil {
			return err
		}
		statistics.Cached(*s).Apply(s)
		m.check(s)
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return s, &NotFoundError{Kind: "student", ID: studentID}
	}
	return s, err
}

func (m *Manager) check(s *models.StudentStatistics) {
	err := statistics.Verify(*s)
	if err == nil {
		return
	}
	if m.Strict {
		panic(err)
	}
	logrus.WithFields(logrus.Fields{
		"student_id": s.ID,
		"class_id":   s.ClassID,
	}).WithError(err).Error("Statistics diverged from details, recomputing")
	statistics.Recompute(s)
}

func (m *Manager) afterCommit(ctx context.Context, action Action, s models.StudentStatistics, itemType models.ItemType, itemID string, actor models.Actor) {
	if m.Persister != nil {
		var err error
		switch itemType {
		case models.ItemAbsence:
			if i := s.FindAbsence(itemID); i >= 0 {
				err = m.Persister.SaveAbsence(ctx, s.ID, s.AbsenceDetails[i])
			}
		case models.ItemLateness:
			if i := s.FindLateness(itemID); i >= 0 {
				err = m.Persister.SaveLateness(ctx, s.ID, s.LatenessDetails[i])
			}
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"student_id": s.ID,
				"item_id":    itemID,
				"item_type":  itemType,
			}).WithError(err).Warn("Failed to persist excuse change")
		}
		// a refresh that fetched before the write landed must not commit
		m.store.Touch()
	}

	if len(m.publishers) == 0 {
		return
	}
	e := Event{
		Action:     action,
		StudentID:  s.ID,
		ClassID:    s.ClassID,
		ItemType:   itemType,
		ItemID:     itemID,
		Actor:      actor,
		At:         m.Now(),
		Statistics: s,
	}
	for _, p := range m.publishers {
		p.Publish(ctx, e)
	}
}

func newExcuse(text string, actor models.Actor, now time.Time) *models.ExcuseInfo {
	return &models.ExcuseInfo{
		Text:        text,
		CreatedBy:   actor.Name,
		CreatedAt:   now,
		EditHistory: []models.ExcuseEditHistory{},
	}
}

// appendEdit keeps the history ascending even if the clock steps back.
func appendEdit(info *models.ExcuseInfo, text string, editor models.Actor, now time.Time) {
	if n := len(info.EditHistory); n > 0 && now.Before(info.EditHistory[n-1].Timestamp) {
		now = info.EditHistory[n-1].Timestamp
	}
	prev := info.Text
	info.EditHistory = append(info.EditHistory, models.ExcuseEditHistory{
		EditorID:     editor.ID,
		EditorName:   editor.Name,
		Timestamp:    now,
		PreviousText: &prev,
	})
	info.Text = text
}

// locate returns pointers to the status and excuse of the addressed item.
func locate(s *models.StudentStatistics, itemType models.ItemType, itemID string) (*models.ExcuseStatus, **models.ExcuseInfo, error) {
	switch itemType {
	case models.ItemAbsence:
		if i := s.FindAbsence(itemID); i >= 0 {
			return &s.AbsenceDetails[i].Type, &s.AbsenceDetails[i].ExcuseInfo, nil
		}
	case models.ItemLateness:
		if i := s.FindLateness(itemID); i >= 0 {
			return &s.LatenessDetails[i].Type, &s.LatenessDetails[i].ExcuseInfo, nil
		}
	default:
		return nil, nil, invalidInput("unknown item type %q", itemType)
	}
	return nil, nil, &NotFoundError{Kind: string(itemType), ID: itemID}
}

// transition moves one item to status to, shifting its contribution between
// the excused and unexcused counters.
func transition(s *models.StudentStatistics, itemType models.ItemType, itemID string, to models.ExcuseStatus, info *models.ExcuseInfo) error {
	switch itemType {
	case models.ItemAbsence:
		i := s.FindAbsence(itemID)
		if i < 0 {
			return &NotFoundError{Kind: string(itemType), ID: itemID}
		}
		d := &s.AbsenceDetails[i]
		if d.Type == to {
			return &TransitionError{ItemType: itemType, ItemID: itemID, From: d.Type, To: to}
		}
		countAbsence(s, *d, -1)
		d.Type, d.ExcuseInfo = to, info
		countAbsence(s, *d, 1)
	case models.ItemLateness:
		i := s.FindLateness(itemID)
		if i < 0 {
			return &NotFoundError{Kind: string(itemType), ID: itemID}
		}
		d := &s.LatenessDetails[i]
		if d.Type == to {
			return &TransitionError{ItemType: itemType, ItemID: itemID, From: d.Type, To: to}
		}
		countLateness(s, *d, -1)
		d.Type, d.ExcuseInfo = to, info
		countLateness(s, *d, 1)
	default:
		return invalidInput("unknown item type %q", itemType)
	}
	return nil
}

// patchExcuse applies the Type and ExcuseText fields of a partial update.
func patchExcuse(itemType models.ItemType, itemID string, status *models.ExcuseStatus, info **models.ExcuseInfo, to *models.ExcuseStatus, text *string, actor models.Actor, now time.Time) error {
	if to != nil && *to != *status {
		switch *to {
		case models.Excused:
			if text == nil || strings.TrimSpace(*text) == "" {
				return invalidInput("excuse text is required to excuse %s %s", itemType, itemID)
			}
			*status, *info = models.Excused, newExcuse(strings.TrimSpace(*text), actor, now)
		case models.Unexcused:
			if text != nil {
				return invalidInput("unexcused %s %s cannot carry an excuse text", itemType, itemID)
			}
			*status, *info = models.Unexcused, nil
		default:
			return invalidInput("unknown excuse status %q", *to)
		}
		return nil
	}

	if text == nil {
		return nil
	}
	if *status != models.Excused {
		return &TransitionError{ItemType: itemType, ItemID: itemID, From: *status, To: models.Excused}
	}
	t := strings.TrimSpace(*text)
	if t == "" {
		return invalidInput("excuse text is required")
	}
	if t != (*info).Text {
		appendEdit(*info, t, actor, now)
	}
	return nil
}

func countAbsence(s *models.StudentStatistics, d models.AbsenceDetail, sign int) {
	excused := d.Type == models.Excused
	switch d.AbsenceType {
	case models.Fehltag:
		if excused {
			s.ExcusedFehltage += sign
		} else {
			s.UnexcusedFehltage += sign
		}
	case models.Fehlstunde:
		if excused {
			s.ExcusedFehlstunden += sign
		} else {
			s.UnexcusedFehlstunden += sign
		}
	}
}

func countLateness(s *models.StudentStatistics, d models.LatenessDetail, sign int) {
	if d.Type == models.Excused {
		s.ExcusedLatenessMinutes += sign * d.Minutes
	} else {
		s.UnexcusedLatenessMinutes += sign * d.Minutes
	}
}
