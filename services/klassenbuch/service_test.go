package klassenbuch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"klassenbuch_go/models"
	"klassenbuch_go/services/grid"
	"klassenbuch_go/services/store"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

var termStart = time.Date(2024, 11, 18, 0, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu      sync.Mutex
	snap    Snapshot
	err     error
	att     LessonAttendance
	attErr  error
	calls   int
	release chan struct{} // blocks the first Snapshot call when set
}

func (f *fakeSource) Snapshot(context.Context) (Snapshot, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()
	if first && f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.err
}

func (f *fakeSource) setSnapshot(snap Snapshot) {
	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()
}

func (f *fakeSource) waitForCalls(n int) {
	for {
		f.mu.Lock()
		c := f.calls
		f.mu.Unlock()
		if c >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fakeSource) LessonAttendance(context.Context, string) (LessonAttendance, error) {
	return f.att, f.attErr
}

func sampleSnapshot() Snapshot {
	day := termStart
	return Snapshot{
		Classes: []models.ClassOption{
			{ID: "5a", Name: "5a", Type: models.ClassTypeClass},
			{ID: "6b", Name: "6b", Type: models.ClassTypeClass},
			{ID: "c1", Name: "Informatik AG", Type: models.ClassTypeCourse},
			{ID: TeacherScheduleID, Name: "Mein Stundenplan", Type: models.ClassTypeTeacher},
		},
		Students: []models.Student{
			{ID: "s1", Name: "Anna Schmidt", ClassID: "5a"},
			{ID: "s2", Name: "Ben Müller", ClassID: "5a"},
			{ID: "s3", Name: "Clara Wagner", ClassID: "6b"},
		},
		Lessons: []models.Lesson{
			{ID: "l3", ClassID: "5a", Day: "Dienstag", Period: 1, Subject: "Deutsch", Teacher: "Frau Weber"},
			{ID: "l1", ClassID: "5a", Day: "Montag", Period: 2, Subject: "Mathe", Teacher: "Herr Braun"},
			{ID: "l2", ClassID: "5a", Day: "Montag", Period: 1, Subject: "Englisch", Teacher: "Frau Weber"},
			{ID: "l4", ClassID: "6b", Day: "Montag", Period: 1, Subject: "Sport", Teacher: "Herr Braun", OriginalTeacher: "Frau Weber", Status: models.LessonTeacherChanged},
		},
		Courses: []models.Course{
			{ID: "c1", Name: "Informatik AG", Day: "Mittwoch", Teacher: "Herr Braun", TermStart: termStart},
		},
		Enrollments: map[string][]string{"c1": {"s3", "s1", "ghost"}},
		Statistics: []models.StudentStatistics{
			{
				ID:           "s1",
				TotalLessons: 1600,
				// stale cached counters must be replaced by the recount
				UnexcusedFehltage: 9,
				AbsenceDetails: []models.AbsenceDetail{
					{ID: "a1", Date: day, AbsenceType: models.Fehltag, Type: models.Unexcused, Minutes: models.FullDayMinutes},
					{ID: "a2", Date: day, Subject: "Mathe", AbsenceType: models.Fehlstunde, Type: models.Unexcused, Minutes: models.LessonMinutes},
					{ID: "a3", Date: day, Subject: "Mathe", AbsenceType: models.Fehlstunde, Type: models.Unexcused, Minutes: models.LessonMinutes},
					{ID: "a4", Date: day, Subject: "Deutsch", AbsenceType: models.Fehlstunde, Type: models.Unexcused, Minutes: models.LessonMinutes},
				},
			},
		},
	}
}

func newTestService(t *testing.T) (*Service, *fakeSource) {
	t.Helper()
	src := &fakeSource{snap: sampleSnapshot()}
	svc := NewService(src, store.New(), grid.SyntheticSource{})
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return svc, src
}

func TestRefreshDerivesStatistics(t *testing.T) {
	svc, _ := newTestService(t)

	all := svc.GetAllStudentStatistics()
	if len(all) != 3 {
		t.Fatalf("expected one record per student, got %d", len(all))
	}
	s1, ok := svc.GetStudentStatistics("s1")
	if !ok {
		t.Fatalf("missing s1")
	}
	if s1.Name != "Anna Schmidt" || s1.ClassID != "5a" {
		t.Fatalf("identity not taken from directory: %+v", s1)
	}
	if s1.UnexcusedFehltage != 1 || s1.UnexcusedFehlstunden != 3 || s1.AttendanceRate != 99 {
		t.Fatalf("unexpected derived counters: %+v", s1)
	}
	if s3, _ := svc.GetStudentStatistics("s3"); s3.AttendanceRate != 100 || s3.TotalFehltage != 0 {
		t.Fatalf("student without records should be clean: %+v", s3)
	}

	// refreshing again from the same data must not drift
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	again, _ := svc.GetStudentStatistics("s1")
	if again.UnexcusedFehlstunden != s1.UnexcusedFehlstunden || again.AttendanceRate != s1.AttendanceRate {
		t.Fatalf("repeated refresh drifted: %+v vs %+v", again, s1)
	}
}

func TestRefreshErrors(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	svc := NewService(src, store.New(), grid.SyntheticSource{})
	if err := svc.Refresh(context.Background()); err == nil || !errors.Is(err, src.err) {
		t.Fatalf("expected wrapped fetch error, got %v", err)
	}

	snap := sampleSnapshot()
	snap.Lessons = append(snap.Lessons, models.Lesson{ID: "dup", ClassID: "5a", Day: "Montag", Period: 2})
	src = &fakeSource{snap: snap}
	svc = NewService(src, store.New(), grid.SyntheticSource{})
	if err := svc.Refresh(context.Background()); !errors.Is(err, ErrDuplicateLessonSlot) {
		t.Fatalf("expected ErrDuplicateLessonSlot, got %v", err)
	}
}

func TestStaleRefreshIsDiscarded(t *testing.T) {
	src := &fakeSource{snap: sampleSnapshot(), release: make(chan struct{})}
	svc := NewService(src, store.New(), grid.SyntheticSource{})

	done := make(chan error, 1)
	go func() { done <- svc.Refresh(context.Background()) }()

	// wait until the first refresh is blocked inside Snapshot
	src.waitForCalls(1)

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("newer refresh: %v", err)
	}
	close(src.release)
	if err := <-done; !errors.Is(err, ErrStaleRefresh) {
		t.Fatalf("expected ErrStaleRefresh, got %v", err)
	}
	if svc.Store().Len() != 3 {
		t.Fatalf("newer refresh result lost")
	}
}

func TestRefreshKeepsWritesDuringFetch(t *testing.T) {
	svc, src := newTestService(t)
	src.mu.Lock()
	src.calls = 0
	src.release = make(chan struct{})
	src.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- svc.Refresh(context.Background()) }()
	src.waitForCalls(1)

	// an excuse commits while the fetch is in flight and reaches the source
	excuse := &models.ExcuseInfo{Text: "Arzttermin", CreatedBy: "Frau Weber", CreatedAt: termStart}
	if _, err := svc.Store().Update("s1", func(st *models.StudentStatistics) error {
		st.AbsenceDetails[0].Type = models.Excused
		st.AbsenceDetails[0].ExcuseInfo = excuse
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	persisted := sampleSnapshot()
	persisted.Statistics[0].AbsenceDetails[0].Type = models.Excused
	persisted.Statistics[0].AbsenceDetails[0].ExcuseInfo = excuse
	src.setSnapshot(persisted)
	close(src.release)

	if err := <-done; err != nil {
		t.Fatalf("refresh: %v", err)
	}
	src.mu.Lock()
	calls := src.calls
	src.mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected the fetch to be repeated, got %d calls", calls)
	}
	s1, _ := svc.GetStudentStatistics("s1")
	if s1.AbsenceDetails[0].Type != models.Excused || s1.ExcusedFehltage != 1 || s1.UnexcusedFehltage != 0 {
		t.Fatalf("write during fetch was overwritten: %+v", s1)
	}
}

func TestRefreshGivesUpOnConstantWrites(t *testing.T) {
	src := &fakeSource{snap: sampleSnapshot()}
	st := store.New()
	st.Replace([]models.StudentStatistics{{ID: "s1"}})
	svc := NewService(&touchingSource{fakeSource: src, store: st}, st, grid.SyntheticSource{})

	if err := svc.Refresh(context.Background()); !errors.Is(err, ErrRefreshConflict) {
		t.Fatalf("expected ErrRefreshConflict, got %v", err)
	}
	if src.calls != refreshAttempts {
		t.Fatalf("expected %d fetches, got %d", refreshAttempts, src.calls)
	}
	if st.Len() != 1 {
		t.Fatalf("conflicting refresh must not replace the store")
	}
}

// touchingSource writes to the store during every fetch.
type touchingSource struct {
	*fakeSource
	store *store.Store
}

func (s *touchingSource) Snapshot(ctx context.Context) (Snapshot, error) {
	s.store.Touch()
	return s.fakeSource.Snapshot(ctx)
}

func TestQueries(t *testing.T) {
	svc, _ := newTestService(t)

	if got := svc.GetStudentsForClass("5a"); len(got) != 2 {
		t.Fatalf("expected 2 students in 5a, got %d", len(got))
	}
	if got := svc.GetStudentsForClass("unknown"); got == nil || len(got) != 0 {
		t.Fatalf("unknown class should return an empty slice, got %v", got)
	}

	tt := svc.GetTimetableForClass("5a", models.Actor{})
	if len(tt) != 3 || tt[0].ID != "l2" || tt[1].ID != "l1" || tt[2].ID != "l3" {
		t.Fatalf("timetable not ordered by day and period: %+v", tt)
	}
	mine := svc.GetTimetableForClass(TeacherScheduleID, models.Actor{Name: "Frau Weber"})
	if len(mine) != 3 {
		t.Fatalf("expected 3 lessons for Frau Weber incl. substituted one, got %d", len(mine))
	}
	if got := svc.GetTimetableForClass(TeacherScheduleID, models.Actor{}); len(got) != 0 {
		t.Fatalf("anonymous teacher schedule must be empty, got %d", len(got))
	}

	if got := svc.GetStudentStatisticsForClass("6b"); len(got) != 1 || got[0].ID != "s3" {
		t.Fatalf("unexpected class statistics: %+v", got)
	}
	if _, ok := svc.GetStudentStatistics("nope"); ok {
		t.Fatalf("expected miss for unknown student")
	}

	students := svc.GetCourseStudentsForCourse("c1")
	if len(students) != 2 || students[0].ID != "s3" || students[1].ID != "s1" {
		t.Fatalf("expected enrolled students in order, got %+v", students)
	}

	breakdown, ok := svc.GetSubjectBreakdown("s1")
	if !ok || len(breakdown) != 2 || breakdown[0].Subject != "Mathe" || breakdown[0].Count != 2 {
		t.Fatalf("unexpected breakdown: %+v", breakdown)
	}

	if got := svc.SearchStudents("  MÜ"); len(got) != 1 || got[0].ID != "s2" {
		t.Fatalf("unexpected search result: %+v", got)
	}
	if got := svc.SearchStudents("n"); len(got) != 3 || got[0].Name != "Anna Schmidt" {
		t.Fatalf("expected all students sorted by name, got %+v", got)
	}
	if got := svc.SearchStudents(""); len(got) != 0 {
		t.Fatalf("empty query must match nothing")
	}

	if sum := svc.GetClassSummary("5a"); sum.Students != 2 || sum.TotalFehlstunden != 3 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestGetCourseDataForClass(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Weeks = 6

	data, ok, err := svc.GetCourseDataForClass(context.Background(), "c1")
	if err != nil || !ok {
		t.Fatalf("GetCourseDataForClass: ok=%v err=%v", ok, err)
	}
	if len(data.Dates) != 6 {
		t.Fatalf("expected 6 dates, got %d", len(data.Dates))
	}
	if data.Dates[0].Weekday() != time.Wednesday {
		t.Fatalf("expected wednesdays, got %v", data.Dates[0].Weekday())
	}
	for _, row := range data.Students {
		if row.Totals.Sum() != 6 {
			t.Fatalf("row %s totals %d", row.Student.ID, row.Totals.Sum())
		}
	}

	if _, ok, err := svc.GetCourseDataForClass(context.Background(), "missing"); ok || err != nil {
		t.Fatalf("expected plain miss, got ok=%v err=%v", ok, err)
	}
}

func TestRefreshAttendance(t *testing.T) {
	svc, src := newTestService(t)
	src.att = LessonAttendance{IsPast: true, Recorded: 10, Expected: 24}

	l, ok, err := svc.RefreshAttendance(context.Background(), "l1")
	if err != nil || !ok {
		t.Fatalf("RefreshAttendance: ok=%v err=%v", ok, err)
	}
	if l.AttendanceStatus != models.AttendanceIncomplete || !l.IsPast {
		t.Fatalf("unexpected lesson: %+v", l)
	}
	if tt := svc.GetTimetableForClass("5a", models.Actor{}); tt[1].AttendanceStatus != models.AttendanceIncomplete {
		t.Fatalf("timetable not updated: %+v", tt[1])
	}
	if _, ok, _ := svc.RefreshAttendance(context.Background(), "zzz"); ok {
		t.Fatalf("unknown lesson should report ok=false")
	}
	if class, ok := svc.LessonClass("l4"); !ok || class != "6b" {
		t.Fatalf("LessonClass = %q, %v", class, ok)
	}
}

func TestHeal(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Store().Update("s2", func(s *models.StudentStatistics) error {
		s.ExcusedFehltage = 4
		return nil
	})
	healed := svc.Heal()
	if len(healed) != 1 || healed[0] != "s2" {
		t.Fatalf("expected s2 healed, got %v", healed)
	}
	if s2, _ := svc.GetStudentStatistics("s2"); s2.ExcusedFehltage != 0 {
		t.Fatalf("heal did not recompute: %+v", s2)
	}
	if again := svc.Heal(); len(again) != 0 {
		t.Fatalf("second heal should be a no-op, got %v", again)
	}
}

func TestHealSkipsRemovedStudents(t *testing.T) {
	svc, _ := newTestService(t)
	hook := logtest.NewGlobal()
	defer hook.Reset()
	prev := logrus.GetLevel()
	logrus.SetLevel(logrus.DebugLevel)
	defer logrus.SetLevel(prev)

	if healed := svc.heal([]string{"ghost", "s1"}); len(healed) != 0 {
		t.Fatalf("nothing should need healing, got %v", healed)
	}
	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.DebugLevel && e.Data["student_id"] == "ghost" {
			logged = true
		}
	}
	if !logged {
		t.Fatalf("missing debug entry for the removed student")
	}
}
