package statistics

import (
	"fmt"
	"sort"
	"strings"

	"klassenbuch_go/models"
)

const (
	// DefaultAvgLessonsPerDay converts a fehltag into missed lessons.
	DefaultAvgLessonsPerDay = 8
	// AttendanceRateFloor is the lowest rate ever reported. The rate is a UI
	// figure, not an exact percentage, for students below this value.
	AttendanceRateFloor = 70
)

// AvgLessonsPerDay is used by Apply and Recompute. Set once at startup.
var AvgLessonsPerDay = DefaultAvgLessonsPerDay

// CalculateAttendanceRate uses DefaultAvgLessonsPerDay.
func CalculateAttendanceRate(totalLessons, fehltage, fehlstunden int) int {
	return CalculateAttendanceRateWith(totalLessons, fehltage, fehlstunden, DefaultAvgLessonsPerDay)
}

// CalculateAttendanceRateWith returns floor((total-missed)/total*100) clamped
// to [AttendanceRateFloor, 100], where missed = fehltage*avg + fehlstunden.
// A lesson count of zero yields 100.
func CalculateAttendanceRateWith(totalLessons, fehltage, fehlstunden, avgLessonsPerDay int) int {
	if totalLessons <= 0 {
		return 100
	}
	if avgLessonsPerDay <= 0 {
		avgLessonsPerDay = DefaultAvgLessonsPerDay
	}
	missed := fehltage*avgLessonsPerDay + fehlstunden
	// integer division floors for non-negative operands
	attended := totalLessons - missed
	rate := 0
	if attended > 0 {
		rate = attended * 100 / totalLessons
	}
	if rate < AttendanceRateFloor {
		return AttendanceRateFloor
	}
	if rate > 100 {
		return 100
	}
	return rate
}

// SubjectBreakdown counts fehlstunden per subject. Fehltage are whole days and
// not attributable to one subject. Sorted by count descending; ties keep the
// order in which the subject first appeared.
func SubjectBreakdown(details []models.AbsenceDetail) []models.SubjectCount {
	index := map[string]int{}
	var out []models.SubjectCount
	for _, d := range details {
		if d.AbsenceType != models.Fehlstunde {
			continue
		}
		i, ok := index[d.Subject]
		if !ok {
			i = len(out)
			index[d.Subject] = i
			out = append(out, models.SubjectCount{Subject: d.Subject})
		}
		out[i].Count++
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Count > out[b].Count })
	return out
}

// Counters is the projection of a student's detail lists.
type Counters struct {
	ExcusedFehltage          int
	UnexcusedFehltage        int
	ExcusedFehlstunden       int
	UnexcusedFehlstunden     int
	ExcusedLatenessMinutes   int
	UnexcusedLatenessMinutes int
}

// Count derives the counters from the detail lists.
func Count(absences []models.AbsenceDetail, lateness []models.LatenessDetail) Counters {
	var c Counters
	for _, d := range absences {
		excused := d.Type == models.Excused
		switch d.AbsenceType {
		case models.Fehltag:
			if excused {
				c.ExcusedFehltage++
			} else {
				c.UnexcusedFehltage++
			}
		case models.Fehlstunde:
			if excused {
				c.ExcusedFehlstunden++
			} else {
				c.UnexcusedFehlstunden++
			}
		}
	}
	for _, d := range lateness {
		if d.Type == models.Excused {
			c.ExcusedLatenessMinutes += d.Minutes
		} else {
			c.UnexcusedLatenessMinutes += d.Minutes
		}
	}
	return c
}

// Cached reads the counters currently stored on s.
func Cached(s models.StudentStatistics) Counters {
	return Counters{
		ExcusedFehltage:          s.ExcusedFehltage,
		UnexcusedFehltage:        s.UnexcusedFehltage,
		ExcusedFehlstunden:       s.ExcusedFehlstunden,
		UnexcusedFehlstunden:     s.UnexcusedFehlstunden,
		ExcusedLatenessMinutes:   s.ExcusedLatenessMinutes,
		UnexcusedLatenessMinutes: s.UnexcusedLatenessMinutes,
	}
}

// Apply writes c onto s including the totals and the attendance rate.
func (c Counters) Apply(s *models.StudentStatistics) {
	s.ExcusedFehltage = c.ExcusedFehltage
	s.UnexcusedFehltage = c.UnexcusedFehltage
	s.TotalFehltage = c.ExcusedFehltage + c.UnexcusedFehltage
	s.ExcusedFehlstunden = c.ExcusedFehlstunden
	s.UnexcusedFehlstunden = c.UnexcusedFehlstunden
	s.TotalFehlstunden = c.ExcusedFehlstunden + c.UnexcusedFehlstunden
	s.ExcusedLatenessMinutes = c.ExcusedLatenessMinutes
	s.UnexcusedLatenessMinutes = c.UnexcusedLatenessMinutes
	s.TotalMinutes = c.ExcusedLatenessMinutes + c.UnexcusedLatenessMinutes
	s.AttendanceRate = CalculateAttendanceRateWith(s.TotalLessons, s.TotalFehltage, s.TotalFehlstunden, AvgLessonsPerDay)
}

// Recompute re-derives every counter of s from its detail lists. Calling it
// repeatedly on unchanged details yields identical results.
func Recompute(s *models.StudentStatistics) {
	Count(s.AbsenceDetails, s.LatenessDetails).Apply(s)
}

// InconsistencyError lists the counters that disagree with the detail lists.
type InconsistencyError struct {
	StudentID string
	Fields    []string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("statistics for student %s diverge from details: %s", e.StudentID, strings.Join(e.Fields, ", "))
}

// Verify checks the cached counters and totals of s against its detail lists.
func Verify(s models.StudentStatistics) error {
	want := Count(s.AbsenceDetails, s.LatenessDetails)
	var fields []string
	check := func(name string, got, exp int) {
		if got != exp {
			fields = append(fields, fmt.Sprintf("%s=%d (expected %d)", name, got, exp))
		}
	}
	check("excused_fehltage", s.ExcusedFehltage, want.ExcusedFehltage)
	check("unexcused_fehltage", s.UnexcusedFehltage, want.UnexcusedFehltage)
	check("total_fehltage", s.TotalFehltage, want.ExcusedFehltage+want.UnexcusedFehltage)
	check("excused_fehlstunden", s.ExcusedFehlstunden, want.ExcusedFehlstunden)
	check("unexcused_fehlstunden", s.UnexcusedFehlstunden, want.UnexcusedFehlstunden)
	check("total_fehlstunden", s.TotalFehlstunden, want.ExcusedFehlstunden+want.UnexcusedFehlstunden)
	check("excused_lateness_minutes", s.ExcusedLatenessMinutes, want.ExcusedLatenessMinutes)
	check("unexcused_lateness_minutes", s.UnexcusedLatenessMinutes, want.UnexcusedLatenessMinutes)
	check("total_minutes", s.TotalMinutes, want.ExcusedLatenessMinutes+want.UnexcusedLatenessMinutes)

	for _, d := range s.AbsenceDetails {
		if (d.Type == models.Excused) != (d.ExcuseInfo != nil) {
			fields = append(fields, "absence "+d.ID+" excuse_info")
		}
	}
	for _, d := range s.LatenessDetails {
		if (d.Type == models.Excused) != (d.ExcuseInfo != nil) {
			fields = append(fields, "lateness "+d.ID+" excuse_info")
		}
	}
	if len(fields) > 0 {
		return &InconsistencyError{StudentID: s.ID, Fields: fields}
	}
	return nil
}

// Summary aggregates a class for the class statistics view.
type Summary struct {
	Students                 int `json:"students"`
	TotalFehltage            int `json:"total_fehltage"`
	UnexcusedFehltage        int `json:"unexcused_fehltage"`
	TotalFehlstunden         int `json:"total_fehlstunden"`
	UnexcusedFehlstunden     int `json:"unexcused_fehlstunden"`
	TotalLatenessMinutes     int `json:"total_lateness_minutes"`
	UnexcusedLatenessMinutes int `json:"unexcused_lateness_minutes"`
	AverageAttendanceRate    int `json:"average_attendance_rate"`
}

// ClassSummary sums the counters of the given students. The average rate is
// floored; an empty class reports 100.
func ClassSummary(stats []models.StudentStatistics) Summary {
	sum := Summary{Students: len(stats), AverageAttendanceRate: 100}
	if len(stats) == 0 {
		return sum
	}
	rates := 0
	for _, s := range stats {
		sum.TotalFehltage += s.TotalFehltage
		sum.UnexcusedFehltage += s.UnexcusedFehltage
		sum.TotalFehlstunden += s.TotalFehlstunden
		sum.UnexcusedFehlstunden += s.UnexcusedFehlstunden
		sum.TotalLatenessMinutes += s.TotalMinutes
		sum.UnexcusedLatenessMinutes += s.UnexcusedLatenessMinutes
		rates += s.AttendanceRate
	}
	sum.AverageAttendanceRate = rates / len(stats)
	return sum
}
