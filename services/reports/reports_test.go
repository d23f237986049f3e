package reports

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"klassenbuch_go/models"
)

func sampleStats() []models.StudentStatistics {
	day := time.Date(2024, 11, 18, 0, 0, 0, 0, time.UTC)
	return []models.StudentStatistics{
		{
			ID: "s1", Name: "Anna Schmidt", TotalFehltage: 3, ExcusedFehltage: 2, UnexcusedFehltage: 1,
			TotalFehlstunden: 1, UnexcusedFehlstunden: 1, TotalMinutes: 10, UnexcusedLatenessMinutes: 10, AttendanceRate: 98,
			AbsenceDetails: []models.AbsenceDetail{{
				ID: "a1", Date: day, Type: models.Excused, AbsenceType: models.Fehltag, Minutes: models.FullDayMinutes,
				ExcuseInfo: &models.ExcuseInfo{Text: "Arzttermin", CreatedBy: "Frau Weber"},
			}},
			LatenessDetails: []models.LatenessDetail{{ID: "l1", Date: day, Subject: "Mathe", Type: models.Unexcused, Minutes: 10}},
		},
		{ID: "s2", Name: "Ben Müller", AttendanceRate: 100},
	}
}

func TestClassStatisticsWorkbook(t *testing.T) {
	f, err := ClassStatistics(sampleStats())
	if err != nil {
		t.Fatalf("ClassStatistics: %v", err)
	}
	body, err := Bytes(f)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	book, err := Open(body)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer book.Close()

	rows, err := book.GetRows(SheetStatistics)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header, two students and total, got %d rows", len(rows))
	}
	if rows[1][0] != "Anna Schmidt" || rows[1][1] != "3" || rows[1][10] != "98" {
		t.Fatalf("unexpected student row %v", rows[1])
	}
	if rows[3][0] != "Gesamt" || rows[3][1] != "3" || rows[3][10] != "99" {
		t.Fatalf("unexpected total row %v", rows[3])
	}

	details, err := book.GetRows(SheetDetails)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(details) != 3 {
		t.Fatalf("expected two detail lines, got %d rows", len(details))
	}
	if details[1][1] != "18.11.2024" || details[1][2] != "Fehltag" || details[1][6] != "Arzttermin" {
		t.Fatalf("unexpected absence line %v", details[1])
	}
	if details[2][2] != "Verspätung" || details[2][4] != "unentschuldigt" {
		t.Fatalf("unexpected lateness line %v", details[2])
	}
}

func TestCourseGridWorkbook(t *testing.T) {
	monday := time.Date(2024, 11, 18, 0, 0, 0, 0, time.UTC)
	data := models.CourseAttendanceData{
		Dates: []time.Time{monday, monday.AddDate(0, 0, 7)},
		Students: []models.CourseStudentRow{{
			Student:    models.Student{ID: "s1", Name: "Anna Schmidt"},
			Attendance: []models.CourseAttendanceEntry{{Code: models.CodePresent}, {Code: models.CodeUnexcused}},
			Totals:     models.CourseAttendanceTotals{Present: 1, Unexcused: 1},
		}},
	}
	f, err := CourseGrid(data)
	if err != nil {
		t.Fatalf("CourseGrid: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(SheetCourse)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if strings.Join(rows[0], ",") != "Name,Mo 18.11,Mo 25.11,A,S,E,U" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if strings.Join(rows[1], ",") != "Anna Schmidt,A,U,1,0,0,1" {
		t.Fatalf("unexpected row %v", rows[1])
	}
}

type fakeUploader struct {
	keys []string
	err  error
}

func (u *fakeUploader) Upload(_ context.Context, key string, body []byte, contentType string) (string, error) {
	if contentType != ContentType || len(body) == 0 {
		return "", errors.New("bad upload")
	}
	u.keys = append(u.keys, key)
	return "https://bucket/" + key, u.err
}

func TestArchive(t *testing.T) {
	up := &fakeUploader{}
	a := NewArchiver(up, nil)
	a.Now = func() time.Time { return time.Date(2024, 11, 20, 0, 0, 0, 0, time.UTC) }

	rec, err := a.Archive(context.Background(), "c5a", "5a", sampleStats())
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if rec.Status != "completed" || rec.RecordCount != 2 || rec.FileSize == 0 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.S3Key != "reports/statistics/c5a/Fehlzeiten_5a_2024-11-20.xlsx" || up.keys[0] != rec.S3Key {
		t.Fatalf("unexpected key %q", rec.S3Key)
	}
	if !strings.Contains(string(rec.Summary), `"students":2`) {
		t.Fatalf("summary not recorded: %s", rec.Summary)
	}

	up.err = errors.New("access denied")
	rec, err = a.Archive(context.Background(), "c5a", "5a", sampleStats())
	if err == nil || rec.Status != "failed" || rec.Error == "" {
		t.Fatalf("expected failed archive, got %+v, %v", rec, err)
	}
}
