package database

import (
	"testing"
	"time"

	"klassenbuch_go/models"
	"klassenbuch_go/utils"
)

func TestSnapshotFromRows(t *testing.T) {
	now := time.Date(2024, 11, 20, 10, 0, 0, 0, time.UTC)
	at := now.Add(-48 * time.Hour)
	rows := Rows{
		Classes:  []models.ClassRow{{BaseModel: models.BaseModel{ID: "5a"}, Name: "Klasse 5a"}},
		Students: []models.StudentRow{{BaseModel: models.BaseModel{ID: "s1"}, FirstName: "Anna", LastName: "Schmidt", ClassID: "5a", TotalLessons: 1600}},
		Lessons: []models.LessonRow{{
			BaseModel: models.BaseModel{ID: "l1"}, ClassID: "5a", Weekday: 1, Period: 1,
			StartTime: "08:00", EndTime: "08:45", ExpectedCount: 24, RecordedCount: 24,
		}},
		Courses:     []models.CourseRow{{BaseModel: models.BaseModel{ID: "c1"}, Weekday: 3}},
		Enrollments: []models.EnrollmentRow{{CourseID: "c1", StudentID: "s1"}, {CourseID: "c1", StudentID: "s9"}},
		Absences: []models.AbsenceRow{
			{BaseModel: models.BaseModel{ID: "a1"}, StudentID: "s1", WholeDay: true, Excused: true, ExcuseText: utils.StringPtr("Krank"), ExcuseCreatedAt: &at},
			{BaseModel: models.BaseModel{ID: "a2"}, StudentID: "s1", Subject: "Mathe"},
			{BaseModel: models.BaseModel{ID: "a3"}, StudentID: "ghost"},
		},
		Lateness: []models.LatenessRow{{BaseModel: models.BaseModel{ID: "l1"}, StudentID: "s1", Minutes: 10}},
		Edits: []models.ExcuseEditRow{
			{ItemID: "a1", ItemType: "absence", EditorName: "Frau Weber", EditedAt: at.Add(time.Hour)},
			{ItemID: "l1", ItemType: "course", EditorName: "ignored", EditedAt: at},
		},
	}

	snap := SnapshotFromRows(rows, now)
	if len(snap.Classes) != 1 || snap.Classes[0].Type != models.ClassTypeClass {
		t.Fatalf("unexpected classes %+v", snap.Classes)
	}
	if len(snap.Lessons) != 1 || snap.Lessons[0].AttendanceStatus != models.AttendanceComplete {
		t.Fatalf("unexpected lessons %+v", snap.Lessons)
	}
	if got := snap.Enrollments["c1"]; len(got) != 2 || got[0] != "s1" {
		t.Fatalf("unexpected enrollments %v", got)
	}
	if len(snap.Statistics) != 1 {
		t.Fatalf("expected one statistics record, got %d", len(snap.Statistics))
	}
	st := snap.Statistics[0]
	if st.Name != "Anna Schmidt" || st.TotalLessons != 1600 {
		t.Fatalf("unexpected record %+v", st)
	}
	if len(st.AbsenceDetails) != 2 || len(st.LatenessDetails) != 1 {
		t.Fatalf("orphan rows should be dropped: %d absences, %d lateness", len(st.AbsenceDetails), len(st.LatenessDetails))
	}
	if h := st.AbsenceDetails[0].ExcuseInfo.EditHistory; len(h) != 1 || h[0].EditorName != "Frau Weber" {
		t.Fatalf("unexpected history %+v", h)
	}
	if st.LatenessDetails[0].ExcuseInfo != nil {
		t.Fatalf("course edits must not leak into lateness")
	}
}
