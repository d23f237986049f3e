package seeders

import (
	"context"
	"testing"
	"time"

	"klassenbuch_go/models"
	"klassenbuch_go/services/excuse"
	"klassenbuch_go/services/grid"
	"klassenbuch_go/services/klassenbuch"
	"klassenbuch_go/services/statistics"
	"klassenbuch_go/services/store"
)

var ref = time.Date(2024, 11, 20, 10, 0, 0, 0, time.UTC)

func TestGenerateIsDeterministic(t *testing.T) {
	a := Generate("gym-nord", ref)
	b := Generate("gym-nord", ref)
	if len(a.Students) != len(b.Students) || len(a.Absences) != len(b.Absences) || len(a.Edits) != len(b.Edits) {
		t.Fatalf("generation differs between runs")
	}
	for i := range a.Students {
		if a.Students[i] != b.Students[i] {
			t.Fatalf("student %d differs: %+v vs %+v", i, a.Students[i], b.Students[i])
		}
	}
	other := Generate("gym-sued", ref)
	if other.Students[0].ID == a.Students[0].ID {
		t.Fatalf("different schools must not share ids")
	}
}

func TestGenerateShape(t *testing.T) {
	r := Generate("gym-nord", ref)
	if len(r.Students) != len(classNames)*studentsPerClass {
		t.Fatalf("unexpected student count %d", len(r.Students))
	}
	if len(r.Lessons) != len(classNames)*5*len(periods) {
		t.Fatalf("unexpected lesson count %d", len(r.Lessons))
	}
	for _, a := range r.Absences {
		if a.Excused && (a.ExcuseText == nil || *a.ExcuseText == "") {
			t.Fatalf("excused absence %s without text", a.ID)
		}
		if !a.Date.Before(ref) {
			t.Fatalf("absence %s lies in the future", a.ID)
		}
	}
	var teacherOption bool
	for _, c := range r.Classes {
		if c.ID == klassenbuch.TeacherScheduleID && c.Type == string(models.ClassTypeTeacher) {
			teacherOption = true
		}
	}
	if !teacherOption {
		t.Fatalf("missing teacher schedule option")
	}
}

func TestMemorySourceLoadsIntoService(t *testing.T) {
	src := NewMemorySource("gym-nord", ref)
	src.Now = func() time.Time { return ref }
	svc := klassenbuch.NewService(src, store.New(), grid.SyntheticSource{})
	svc.Now = src.Now
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	all := svc.GetAllStudentStatistics()
	if len(all) != len(classNames)*studentsPerClass {
		t.Fatalf("unexpected statistics count %d", len(all))
	}
	for _, st := range all {
		if err := statistics.Verify(st); err != nil {
			t.Fatalf("inconsistent seeded record: %v", err)
		}
	}

	lessonID := src.rows.Lessons[0].ID
	lesson, ok, err := svc.RefreshAttendance(context.Background(), lessonID)
	if err != nil || !ok || lesson.ID != lessonID {
		t.Fatalf("RefreshAttendance = %+v, %v, %v", lesson, ok, err)
	}
	if _, err := src.LessonAttendance(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown lesson")
	}
}

func TestExcuseChangesSurviveRefresh(t *testing.T) {
	ctx := context.Background()
	src := NewMemorySource("gym-nord", ref)
	src.Now = func() time.Time { return ref }
	st := store.New()
	svc := klassenbuch.NewService(src, st, grid.SyntheticSource{})
	svc.Now = src.Now
	if err := svc.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	mgr := excuse.NewManager(st)
	mgr.Persister = src

	var target models.AbsenceRow
	for _, a := range src.rows.Absences {
		if !a.Excused {
			target = a
			break
		}
	}
	if target.ID == "" {
		t.Fatalf("seeded data has no unexcused absence")
	}
	teacher := models.Actor{ID: "t1", Name: "Frau Weber"}

	if err := mgr.ConvertToExcused(ctx, target.StudentID, target.ID, models.ItemAbsence, "Arzttermin", teacher); err != nil {
		t.Fatalf("ConvertToExcused: %v", err)
	}
	if err := mgr.EditExcuseText(ctx, target.StudentID, target.ID, models.ItemAbsence, "Arzttermin, Attest liegt vor", teacher); err != nil {
		t.Fatalf("EditExcuseText: %v", err)
	}
	before, _ := svc.GetStudentStatistics(target.StudentID)

	if err := svc.Refresh(ctx); err != nil {
		t.Fatalf("refresh after convert: %v", err)
	}
	after, _ := svc.GetStudentStatistics(target.StudentID)
	d := after.AbsenceDetails[after.FindAbsence(target.ID)]
	if d.Type != models.Excused || d.ExcuseInfo == nil || d.ExcuseInfo.Text != "Arzttermin, Attest liegt vor" {
		t.Fatalf("excuse reverted by refresh: %+v", d)
	}
	if len(d.ExcuseInfo.EditHistory) != 1 || *d.ExcuseInfo.EditHistory[0].PreviousText != "Arzttermin" {
		t.Fatalf("edit history lost: %+v", d.ExcuseInfo.EditHistory)
	}
	if after.ExcusedFehltage != before.ExcusedFehltage || after.UnexcusedFehlstunden != before.UnexcusedFehlstunden {
		t.Fatalf("counters changed by refresh: before %+v after %+v", before, after)
	}

	if err := mgr.DeleteExcuse(ctx, target.StudentID, target.ID, models.ItemAbsence, teacher); err != nil {
		t.Fatalf("DeleteExcuse: %v", err)
	}
	if err := svc.Refresh(ctx); err != nil {
		t.Fatalf("refresh after delete: %v", err)
	}
	again, _ := svc.GetStudentStatistics(target.StudentID)
	if d := again.AbsenceDetails[again.FindAbsence(target.ID)]; d.Type != models.Unexcused || d.ExcuseInfo != nil {
		t.Fatalf("deleted excuse came back: %+v", d)
	}

	if err := src.SaveLateness(ctx, target.StudentID, models.LatenessDetail{ID: "missing"}); err == nil {
		t.Fatalf("expected error for unknown lateness")
	}
}
