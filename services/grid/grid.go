package grid

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"time"

	"klassenbuch_go/models"
)

// DefaultWeeks is the number of course dates shown when none is configured.
const DefaultWeeks = 5

var (
	ErrUnknownWeekday = errors.New("unknown weekday")
	ErrInvalidWeeks   = errors.New("week count must be positive")
)

var weekdays = map[string]time.Weekday{
	"montag":     time.Monday,
	"dienstag":   time.Tuesday,
	"mittwoch":   time.Wednesday,
	"donnerstag": time.Thursday,
	"freitag":    time.Friday,
	"mo":         time.Monday,
	"di":         time.Tuesday,
	"mi":         time.Wednesday,
	"do":         time.Thursday,
	"fr":         time.Friday,
}

// Weekday maps a German day name or its two-letter abbreviation to a weekday.
func Weekday(day string) (time.Weekday, error) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(day))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownWeekday, day)
	}
	return wd, nil
}

// CourseDates returns weeks consecutive meeting dates, starting at the first
// occurrence of day on or after ref. Dates are at midnight in ref's location.
func CourseDates(day string, ref time.Time, weeks int) ([]time.Time, error) {
	if weeks <= 0 {
		return nil, ErrInvalidWeeks
	}
	wd, err := Weekday(day)
	if err != nil {
		return nil, err
	}
	start := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	start = start.AddDate(0, 0, (int(wd)-int(start.Weekday())+7)%7)

	dates := make([]time.Time, weeks)
	for i := range dates {
		dates[i] = start.AddDate(0, 0, 7*i)
	}
	return dates, nil
}

// Source supplies one entry per date for each student, keyed by student id.
// Missing students or dates are filled in as present by Build.
type Source interface {
	Entries(ctx context.Context, course models.Course, students []models.Student, dates []time.Time) (map[string][]models.CourseAttendanceEntry, error)
}

// Build assembles the dates × students grid for a course.
func Build(ctx context.Context, course models.Course, students []models.Student, weeks int, ref time.Time, src Source) (models.CourseAttendanceData, error) {
	dates, err := CourseDates(course.Day, ref, weeks)
	if err != nil {
		return models.CourseAttendanceData{}, fmt.Errorf("course %s: %w", course.ID, err)
	}
	entries, err := src.Entries(ctx, course, students, dates)
	if err != nil {
		return models.CourseAttendanceData{}, fmt.Errorf("load attendance for course %s: %w", course.ID, err)
	}

	data := models.CourseAttendanceData{
		Course:   course,
		Dates:    dates,
		Students: make([]models.CourseStudentRow, 0, len(students)),
	}
	for _, st := range students {
		row := make([]models.CourseAttendanceEntry, len(dates))
		got := entries[st.ID]
		for i := range row {
			if i < len(got) {
				row[i] = got[i]
			} else {
				row[i] = models.CourseAttendanceEntry{Code: models.CodePresent}
			}
			if err := row[i].Validate(); err != nil {
				return models.CourseAttendanceData{}, fmt.Errorf("student %s on %s: %w", st.ID, dates[i].Format("2006-01-02"), err)
			}
		}
		totals, err := Totals(row)
		if err != nil {
			return models.CourseAttendanceData{}, err
		}
		data.Students = append(data.Students, models.CourseStudentRow{
			Student:    st,
			Attendance: row,
			Totals:     totals,
		})
	}
	return data, nil
}

// Totals counts each code of a row.
func Totals(row []models.CourseAttendanceEntry) (models.CourseAttendanceTotals, error) {
	var t models.CourseAttendanceTotals
	for _, e := range row {
		switch e.Code {
		case models.CodePresent:
			t.Present++
		case models.CodeLate:
			t.Late++
		case models.CodeExcused:
			t.Excused++
		case models.CodeUnexcused:
			t.Unexcused++
		default:
			return t, fmt.Errorf("%w: %d", models.ErrUnknownAttendanceCode, uint8(e.Code))
		}
	}
	return t, nil
}

// SyntheticSource generates demo attendance: 75% present, 10% late (70% of
// those excused), 10% excused, 5% unexcused. The random stream is seeded from
// the course id, so repeated builds of the same course are identical.
type SyntheticSource struct {
	Author string
}

func (s SyntheticSource) Entries(_ context.Context, course models.Course, students []models.Student, dates []time.Time) (map[string][]models.CourseAttendanceEntry, error) {
	h := fnv.New64a()
	h.Write([]byte(course.ID))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	author := s.Author
	if author == "" {
		author = course.Teacher
	}

	out := make(map[string][]models.CourseAttendanceEntry, len(students))
	for _, st := range students {
		row := make([]models.CourseAttendanceEntry, len(dates))
		for i, d := range dates {
			row[i] = synthesize(rng, author, d)
		}
		out[st.ID] = row
	}
	return out, nil
}

var syntheticReasons = []string{"Arzttermin", "Krankheit", "Familiäre Gründe", "Bus verspätet"}

func synthesize(rng *rand.Rand, author string, date time.Time) models.CourseAttendanceEntry {
	excuse := func() *models.ExcuseInfo {
		return &models.ExcuseInfo{
			Text:        syntheticReasons[rng.Intn(len(syntheticReasons))],
			CreatedBy:   author,
			CreatedAt:   date.Add(8 * time.Hour),
			EditHistory: []models.ExcuseEditHistory{},
		}
	}
	switch r := rng.Intn(100); {
	case r < 75:
		return models.CourseAttendanceEntry{Code: models.CodePresent}
	case r < 85:
		e := models.CourseAttendanceEntry{Code: models.CodeLate}
		if rng.Intn(100) < 70 {
			e.ExcuseInfo = excuse()
		}
		return e
	case r < 95:
		return models.CourseAttendanceEntry{Code: models.CodeExcused, ExcuseInfo: excuse()}
	default:
		return models.CourseAttendanceEntry{Code: models.CodeUnexcused}
	}
}
