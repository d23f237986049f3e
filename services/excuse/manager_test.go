package excuse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"klassenbuch_go/models"
	"klassenbuch_go/services/statistics"
	"klassenbuch_go/services/store"
)

var (
	teacher = models.Actor{ID: "t1", Name: "Frau Weber", Role: "teacher"}
	day     = time.Date(2024, 11, 18, 0, 0, 0, 0, time.UTC)
)

func excuse(text string) *models.ExcuseInfo {
	return &models.ExcuseInfo{Text: text, CreatedBy: teacher.Name, CreatedAt: day, EditHistory: []models.ExcuseEditHistory{}}
}

func fixture() models.StudentStatistics {
	s := models.StudentStatistics{
		ID:           "s1",
		Name:         "Anna Schmidt",
		ClassID:      "5a",
		TotalLessons: 1600,
		AbsenceDetails: []models.AbsenceDetail{
			{ID: "a1", Date: day, AbsenceType: models.Fehltag, Type: models.Excused, Minutes: models.FullDayMinutes, ExcuseInfo: excuse("Krank")},
			{ID: "a2", Date: day.AddDate(0, 0, 1), AbsenceType: models.Fehltag, Type: models.Excused, Minutes: models.FullDayMinutes, ExcuseInfo: excuse("Krank")},
			{ID: "a3", Date: day.AddDate(0, 0, 2), AbsenceType: models.Fehltag, Type: models.Unexcused, Minutes: models.FullDayMinutes},
			{ID: "a4", Date: day.AddDate(0, 0, 3), Subject: "Mathe", AbsenceType: models.Fehlstunde, Type: models.Unexcused, Minutes: models.LessonMinutes},
		},
		LatenessDetails: []models.LatenessDetail{
			{ID: "l1", Date: day, Subject: "Deutsch", Type: models.Unexcused, Minutes: 10},
		},
	}
	statistics.Recompute(&s)
	return s
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Minute)
	return c.t
}

type recorder struct {
	mu       sync.Mutex
	events   []Event
	absences []models.AbsenceDetail
	lateness []models.LatenessDetail
}

func (r *recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) SaveAbsence(_ context.Context, _ string, d models.AbsenceDetail) error {
	r.absences = append(r.absences, d)
	return nil
}

func (r *recorder) SaveLateness(_ context.Context, _ string, d models.LatenessDetail) error {
	r.lateness = append(r.lateness, d)
	return nil
}

func newManager(t *testing.T) (*Manager, *store.Store, *recorder) {
	t.Helper()
	st := store.New()
	st.Replace([]models.StudentStatistics{fixture()})
	m := NewManager(st)
	m.Strict = true
	c := &clock{t: day}
	m.Now = c.now
	rec := &recorder{}
	m.Persister = rec
	m.AddPublisher(rec)
	return m, st, rec
}

func mustGet(t *testing.T, st *store.Store) models.StudentStatistics {
	t.Helper()
	s, ok := st.Get("s1")
	if !ok {
		t.Fatalf("student s1 missing")
	}
	if err := statistics.Verify(s); err != nil {
		t.Fatalf("counters diverged: %v", err)
	}
	return s
}

func TestConvertToExcusedArzttermin(t *testing.T) {
	m, st, rec := newManager(t)
	ctx := context.Background()

	before := mustGet(t, st)
	if before.TotalFehltage != 3 || before.ExcusedFehltage != 2 || before.UnexcusedFehltage != 1 {
		t.Fatalf("unexpected fixture counters: %+v", before)
	}

	if err := m.ConvertToExcused(ctx, "s1", "a3", models.ItemAbsence, "Arzttermin", teacher); err != nil {
		t.Fatalf("ConvertToExcused: %v", err)
	}

	s := mustGet(t, st)
	if s.ExcusedFehltage != 3 || s.UnexcusedFehltage != 0 || s.TotalFehltage != 3 {
		t.Fatalf("expected 3/0 fehltage, got %d/%d", s.ExcusedFehltage, s.UnexcusedFehltage)
	}
	d := s.AbsenceDetails[s.FindAbsence("a3")]
	if d.Type != models.Excused || d.ExcuseInfo == nil || d.ExcuseInfo.Text != "Arzttermin" {
		t.Fatalf("unexpected detail after convert: %+v", d)
	}
	if d.ExcuseInfo.CreatedBy != teacher.Name || len(d.ExcuseInfo.EditHistory) != 0 {
		t.Fatalf("unexpected excuse info: %+v", d.ExcuseInfo)
	}
	if len(rec.events) != 1 || rec.events[0].Action != ActionExcused || len(rec.absences) != 1 {
		t.Fatalf("expected one event and one persisted absence, got %d/%d", len(rec.events), len(rec.absences))
	}
}

func TestConvertLatenessMovesMinutes(t *testing.T) {
	m, st, _ := newManager(t)
	if err := m.ConvertToExcused(context.Background(), "s1", "l1", models.ItemLateness, "Bus verspätet", teacher); err != nil {
		t.Fatalf("ConvertToExcused: %v", err)
	}
	s := mustGet(t, st)
	if s.ExcusedLatenessMinutes != 10 || s.UnexcusedLatenessMinutes != 0 || s.TotalMinutes != 10 {
		t.Fatalf("unexpected lateness counters: %+v", s)
	}
}

func TestConvertErrors(t *testing.T) {
	m, st, rec := newManager(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		student  string
		item     string
		itemType models.ItemType
		text     string
		want     error
	}{
		{name: "already excused", student: "s1", item: "a1", itemType: models.ItemAbsence, text: "x", want: ErrInvalidStateTransition},
		{name: "unknown student", student: "nope", item: "a3", itemType: models.ItemAbsence, text: "x", want: ErrStudentNotFound},
		{name: "unknown item", student: "s1", item: "zz", itemType: models.ItemAbsence, text: "x", want: ErrItemNotFound},
		{name: "wrong list", student: "s1", item: "a3", itemType: models.ItemLateness, text: "x", want: ErrItemNotFound},
		{name: "empty text", student: "s1", item: "a3", itemType: models.ItemAbsence, text: "  ", want: ErrInvalidInput},
		{name: "unknown item type", student: "s1", item: "a3", itemType: "course", text: "x", want: ErrInvalidInput},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := m.ConvertToExcused(ctx, tc.student, tc.item, tc.itemType, tc.text, teacher)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	var te *TransitionError
	err := m.ConvertToExcused(ctx, "s1", "a1", models.ItemAbsence, "x", teacher)
	if !errors.As(err, &te) || te.From != models.Excused {
		t.Fatalf("expected TransitionError from excused, got %v", err)
	}

	s := mustGet(t, st)
	if s.ExcusedFehltage != 2 || s.UnexcusedFehltage != 1 {
		t.Fatalf("failed operations must not change counters: %+v", s)
	}
	if len(rec.events) != 0 {
		t.Fatalf("failed operations must not publish, got %d events", len(rec.events))
	}
}

func TestDeleteExcuse(t *testing.T) {
	m, st, _ := newManager(t)
	ctx := context.Background()

	if err := m.DeleteExcuse(ctx, "s1", "a1", models.ItemAbsence, teacher); err != nil {
		t.Fatalf("DeleteExcuse: %v", err)
	}
	s := mustGet(t, st)
	d := s.AbsenceDetails[s.FindAbsence("a1")]
	if d.Type != models.Unexcused || d.ExcuseInfo != nil {
		t.Fatalf("expected unexcused without excuse, got %+v", d)
	}
	if s.ExcusedFehltage != 1 || s.UnexcusedFehltage != 2 {
		t.Fatalf("unexpected counters after delete: %d/%d", s.ExcusedFehltage, s.UnexcusedFehltage)
	}

	if err := m.DeleteExcuse(ctx, "s1", "a1", models.ItemAbsence, teacher); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected transition error on second delete, got %v", err)
	}
}

func TestEditExcuseTextHistory(t *testing.T) {
	m, st, _ := newManager(t)
	ctx := context.Background()
	editor := models.Actor{ID: "t2", Name: "Herr Braun"}

	if err := m.EditExcuseText(ctx, "s1", "a1", models.ItemAbsence, "Grippe", editor); err != nil {
		t.Fatalf("first edit: %v", err)
	}
	if err := m.EditExcuseText(ctx, "s1", "a1", models.ItemAbsence, "Grippe mit Attest", teacher); err != nil {
		t.Fatalf("second edit: %v", err)
	}

	s := mustGet(t, st)
	info := s.AbsenceDetails[s.FindAbsence("a1")].ExcuseInfo
	if info.Text != "Grippe mit Attest" {
		t.Fatalf("expected latest text, got %q", info.Text)
	}
	if len(info.EditHistory) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(info.EditHistory))
	}
	first, second := info.EditHistory[0], info.EditHistory[1]
	if second.Timestamp.Before(first.Timestamp) {
		t.Fatalf("history out of order: %v before %v", second.Timestamp, first.Timestamp)
	}
	if *first.PreviousText != "Krank" || *second.PreviousText != "Grippe" {
		t.Fatalf("unexpected previous texts %q, %q", *first.PreviousText, *second.PreviousText)
	}
	if first.EditorID != "t2" || second.EditorName != teacher.Name {
		t.Fatalf("unexpected editors: %+v", info.EditHistory)
	}

	if err := m.EditExcuseText(ctx, "s1", "a3", models.ItemAbsence, "x", teacher); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("editing an unexcused item must fail, got %v", err)
	}
}

func TestUpdateAbsenceDetails(t *testing.T) {
	m, st, _ := newManager(t)
	ctx := context.Background()

	hour := models.Fehlstunde
	subject := "Physik"
	if err := m.UpdateAbsenceDetails(ctx, "s1", "a3", AbsenceUpdate{AbsenceType: &hour, Subject: &subject}, teacher); err != nil {
		t.Fatalf("change type: %v", err)
	}
	s := mustGet(t, st)
	d := s.AbsenceDetails[s.FindAbsence("a3")]
	if d.AbsenceType != models.Fehlstunde || d.Minutes != models.LessonMinutes || d.Subject != "Physik" {
		t.Fatalf("unexpected detail: %+v", d)
	}
	if s.UnexcusedFehltage != 0 || s.UnexcusedFehlstunden != 2 {
		t.Fatalf("counters not moved: %+v", s)
	}

	excused := models.Excused
	if err := m.UpdateAbsenceDetails(ctx, "s1", "a4", AbsenceUpdate{Type: &excused}, teacher); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("excusing without text must fail, got %v", err)
	}
	text := "Arzttermin"
	if err := m.UpdateAbsenceDetails(ctx, "s1", "a4", AbsenceUpdate{Type: &excused, ExcuseText: &text}, teacher); err != nil {
		t.Fatalf("excuse via update: %v", err)
	}
	s = mustGet(t, st)
	if s.ExcusedFehlstunden != 1 || s.UnexcusedFehlstunden != 1 {
		t.Fatalf("unexpected fehlstunden after excuse: %+v", s)
	}

	unexcused := models.Unexcused
	if err := m.UpdateAbsenceDetails(ctx, "s1", "a4", AbsenceUpdate{Type: &unexcused}, teacher); err != nil {
		t.Fatalf("revert via update: %v", err)
	}
	s = mustGet(t, st)
	if d := s.AbsenceDetails[s.FindAbsence("a4")]; d.ExcuseInfo != nil || s.UnexcusedFehlstunden != 2 {
		t.Fatalf("revert left state behind: %+v", d)
	}
}

func TestUpdateLatenessDetails(t *testing.T) {
	m, st, _ := newManager(t)
	minutes := 25
	if err := m.UpdateLatenessDetails(context.Background(), "s1", "l1", LatenessUpdate{Minutes: &minutes}, teacher); err != nil {
		t.Fatalf("UpdateLatenessDetails: %v", err)
	}
	s := mustGet(t, st)
	if s.UnexcusedLatenessMinutes != 25 || s.TotalMinutes != 25 {
		t.Fatalf("unexpected minutes: %+v", s)
	}

	negative := -5
	err := m.UpdateLatenessDetails(context.Background(), "s1", "l1", LatenessUpdate{Minutes: &negative}, teacher)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCounterConsistencyAcrossSequences(t *testing.T) {
	m, st, _ := newManager(t)
	ctx := context.Background()

	steps := []func() error{
		func() error { return m.ConvertToExcused(ctx, "s1", "a3", models.ItemAbsence, "Arzt", teacher) },
		func() error { return m.ConvertToExcused(ctx, "s1", "a4", models.ItemAbsence, "Arzt", teacher) },
		func() error { return m.DeleteExcuse(ctx, "s1", "a1", models.ItemAbsence, teacher) },
		func() error { return m.ConvertToExcused(ctx, "s1", "l1", models.ItemLateness, "Bus", teacher) },
		func() error { return m.DeleteExcuse(ctx, "s1", "a3", models.ItemAbsence, teacher) },
		func() error { return m.DeleteExcuse(ctx, "s1", "l1", models.ItemLateness, teacher) },
		func() error { return m.ConvertToExcused(ctx, "s1", "a1", models.ItemAbsence, "Krank", teacher) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		s := mustGet(t, st)
		days, hours := 0, 0
		for _, d := range s.AbsenceDetails {
			if d.AbsenceType == models.Fehltag {
				days++
			} else {
				hours++
			}
		}
		if s.ExcusedFehltage+s.UnexcusedFehltage != days || s.ExcusedFehlstunden+s.UnexcusedFehlstunden != hours {
			t.Fatalf("step %d: counters do not match details: %+v", i, s)
		}
		if s.AttendanceRate < statistics.AttendanceRateFloor || s.AttendanceRate > 100 {
			t.Fatalf("step %d: rate out of range: %d", i, s.AttendanceRate)
		}
	}
}

func TestDivergenceIsHealedOutsideStrictMode(t *testing.T) {
	st := store.New()
	s := fixture()
	s.UnexcusedFehltage = 7 // stale cache
	st.Replace([]models.StudentStatistics{s})

	m := NewManager(st)
	m.Strict = false
	if err := m.ConvertToExcused(context.Background(), "s1", "a4", models.ItemAbsence, "Arzt", teacher); err != nil {
		t.Fatalf("ConvertToExcused: %v", err)
	}
	got, _ := st.Get("s1")
	if err := statistics.Verify(got); err != nil {
		t.Fatalf("expected healed counters, got %v", err)
	}
	if got.UnexcusedFehltage != 1 {
		t.Fatalf("expected recomputed unexcused fehltage 1, got %d", got.UnexcusedFehltage)
	}

	m.Strict = true
	st.Update("s1", func(s *models.StudentStatistics) error {
		s.ExcusedFehlstunden = 5
		return nil
	})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic in strict mode")
		}
	}()
	m.DeleteExcuse(context.Background(), "s1", "a4", models.ItemAbsence, teacher)
}

func TestPersistedChangeAdvancesStoreVersion(t *testing.T) {
	m, st, rec := newManager(t)
	v := st.Version()
	if err := m.ConvertToExcused(context.Background(), "s1", "a3", models.ItemAbsence, "Arzttermin", teacher); err != nil {
		t.Fatalf("ConvertToExcused: %v", err)
	}
	// one bump for the commit, one once the persister has written it
	if got := st.Version(); got != v+2 || len(rec.absences) != 1 {
		t.Fatalf("version %d, want %d (persisted %d)", got, v+2, len(rec.absences))
	}
}
