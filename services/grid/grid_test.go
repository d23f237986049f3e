package grid

import (
	"context"
	"errors"
	"testing"
	"time"

	"klassenbuch_go/models"
)

var ref = time.Date(2024, 11, 18, 9, 30, 0, 0, time.UTC) // Monday

func TestWeekday(t *testing.T) {
	tests := []struct {
		in   string
		want time.Weekday
	}{
		{"Montag", time.Monday},
		{"dienstag", time.Tuesday},
		{" Mittwoch ", time.Wednesday},
		{"Do", time.Thursday},
		{"FR", time.Friday},
	}
	for _, tc := range tests {
		got, err := Weekday(tc.in)
		if err != nil || got != tc.want {
			t.Fatalf("Weekday(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
	if _, err := Weekday("Samstag"); !errors.Is(err, ErrUnknownWeekday) {
		t.Fatalf("expected ErrUnknownWeekday, got %v", err)
	}
}

func TestCourseDates(t *testing.T) {
	tests := []struct {
		name  string
		day   string
		weeks int
		first time.Time
	}{
		{name: "same weekday uses reference", day: "Montag", weeks: 3, first: time.Date(2024, 11, 18, 0, 0, 0, 0, time.UTC)},
		{name: "later in week", day: "Freitag", weeks: 5, first: time.Date(2024, 11, 22, 0, 0, 0, 0, time.UTC)},
		{name: "wraps to next week", day: "Montag", weeks: 1, first: time.Date(2024, 11, 18, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			dates, err := CourseDates(tc.day, ref, tc.weeks)
			if err != nil {
				t.Fatalf("CourseDates: %v", err)
			}
			if len(dates) != tc.weeks {
				t.Fatalf("expected %d dates, got %d", tc.weeks, len(dates))
			}
			if !dates[0].Equal(tc.first) {
				t.Fatalf("expected first date %v, got %v", tc.first, dates[0])
			}
			for i := 1; i < len(dates); i++ {
				if dates[i].Sub(dates[i-1]) != 7*24*time.Hour {
					t.Fatalf("dates %d and %d are not a week apart", i-1, i)
				}
			}
		})
	}

	tuesday := time.Date(2024, 11, 19, 0, 0, 0, 0, time.UTC)
	dates, _ := CourseDates("Montag", tuesday, 1)
	if want := time.Date(2024, 11, 25, 0, 0, 0, 0, time.UTC); !dates[0].Equal(want) {
		t.Fatalf("expected next monday %v, got %v", want, dates[0])
	}
	if _, err := CourseDates("Montag", ref, 0); !errors.Is(err, ErrInvalidWeeks) {
		t.Fatalf("expected ErrInvalidWeeks, got %v", err)
	}
}

type staticSource map[string][]models.CourseAttendanceEntry

func (s staticSource) Entries(context.Context, models.Course, []models.Student, []time.Time) (map[string][]models.CourseAttendanceEntry, error) {
	return s, nil
}

func TestBuildTotals(t *testing.T) {
	excused := &models.ExcuseInfo{Text: "Bus verspätet", CreatedBy: "Herr Braun"}
	course := models.Course{ID: "c1", Name: "Informatik AG", Day: "Montag"}
	students := []models.Student{{ID: "s1", Name: "Anna Schmidt"}, {ID: "s2", Name: "Ben Müller"}}
	src := staticSource{
		"s1": {
			{Code: models.CodePresent},
			{Code: models.CodePresent},
			{Code: models.CodePresent},
			{Code: models.CodeLate, ExcuseInfo: excused},
			{Code: models.CodePresent},
		},
		"s2": {
			{Code: models.CodeUnexcused},
			{Code: models.CodeExcused, ExcuseInfo: excused},
		},
	}

	data, err := Build(context.Background(), course, students, 5, ref, src)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(data.Dates) != 5 || len(data.Students) != 2 {
		t.Fatalf("unexpected grid shape: %d dates, %d students", len(data.Dates), len(data.Students))
	}
	want := models.CourseAttendanceTotals{Present: 4, Late: 1}
	if data.Students[0].Totals != want {
		t.Fatalf("expected %+v, got %+v", want, data.Students[0].Totals)
	}
	if got := data.Students[1].Totals; got != (models.CourseAttendanceTotals{Present: 3, Excused: 1, Unexcused: 1}) {
		t.Fatalf("missing dates should count as present, got %+v", got)
	}
}

func TestBuildRejectsInvalidEntries(t *testing.T) {
	course := models.Course{ID: "c1", Day: "Montag"}
	students := []models.Student{{ID: "s1"}}
	src := staticSource{"s1": {{Code: models.CodeExcused}}}
	if _, err := Build(context.Background(), course, students, 1, ref, src); !errors.Is(err, models.ErrInvalidCourseEntry) {
		t.Fatalf("expected ErrInvalidCourseEntry, got %v", err)
	}
	if _, err := Build(context.Background(), models.Course{ID: "c2", Day: "Sonntag"}, students, 1, ref, src); !errors.Is(err, ErrUnknownWeekday) {
		t.Fatalf("expected ErrUnknownWeekday, got %v", err)
	}
}

func TestSyntheticSourceShapeAndDeterminism(t *testing.T) {
	course := models.Course{ID: "c-math", Day: "Mittwoch", Teacher: "Frau Weber"}
	var students []models.Student
	for _, id := range []string{"s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8"} {
		students = append(students, models.Student{ID: id})
	}

	first, err := Build(context.Background(), course, students, 12, ref, SyntheticSource{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	second, _ := Build(context.Background(), course, students, 12, ref, SyntheticSource{})

	for i, row := range first.Students {
		if row.Totals.Sum() != 12 {
			t.Fatalf("student %s: totals sum %d, want 12", row.Student.ID, row.Totals.Sum())
		}
		if row.Totals != second.Students[i].Totals {
			t.Fatalf("student %s: synthetic data not deterministic", row.Student.ID)
		}
		for _, e := range row.Attendance {
			if err := e.Validate(); err != nil {
				t.Fatalf("invalid synthetic entry: %v", err)
			}
		}
	}
}
