package klassenbuch

import (
	"fmt"

	"klassenbuch_go/models"
)

type View string

const (
	ViewLive       View = "live"
	ViewStatistics View = "statistics"
)

type StatisticsViewType string

const (
	StatisticsByClass   StatisticsViewType = "class"
	StatisticsByStudent StatisticsViewType = "student"
	StatisticsByCourse  StatisticsViewType = "course"
)

func ParseView(s string) (View, error) {
	switch View(s) {
	case ViewLive, ViewStatistics:
		return View(s), nil
	case "":
		return ViewLive, nil
	}
	return "", fmt.Errorf("unknown view %q", s)
}

func ParseStatisticsViewType(s string) (StatisticsViewType, error) {
	switch StatisticsViewType(s) {
	case StatisticsByClass, StatisticsByStudent, StatisticsByCourse:
		return StatisticsViewType(s), nil
	case "":
		return StatisticsByClass, nil
	}
	return "", fmt.Errorf("unknown statistics view type %q", s)
}

// GetFilteredClassesForView returns the selector entries for a view. The live
// view lists everything; statistics lists only classes or only courses, and
// nothing in student mode where students are found by search.
func GetFilteredClassesForView(all []models.ClassOption, view View, mode StatisticsViewType) []models.ClassOption {
	out := []models.ClassOption{}
	if view != ViewStatistics {
		return append(out, all...)
	}
	var want models.ClassType
	switch mode {
	case StatisticsByClass:
		want = models.ClassTypeClass
	case StatisticsByCourse:
		want = models.ClassTypeCourse
	default:
		return out
	}
	for _, c := range all {
		if c.Type == want {
			out = append(out, c)
		}
	}
	return out
}

// ViewState tracks which Klassenbuch view is shown. The statistics type is
// only meaningful while View is ViewStatistics.
type ViewState struct {
	View              View               `json:"view"`
	StatisticsType    StatisticsViewType `json:"statistics_type"`
	SelectedStudentID string             `json:"selected_student_id,omitempty"`
	ShowDetails       bool               `json:"show_details"`
}

func NewViewState() ViewState {
	return ViewState{View: ViewLive, StatisticsType: StatisticsByClass}
}

// EnterStatistics switches to the statistics view. It opens student mode when
// a student was just selected, class mode otherwise.
func (v *ViewState) EnterStatistics(studentSelected bool) {
	v.View = ViewStatistics
	if studentSelected && v.SelectedStudentID != "" {
		v.StatisticsType = StatisticsByStudent
	} else {
		v.StatisticsType = StatisticsByClass
	}
}

func (v *ViewState) EnterLive() {
	v.View = ViewLive
	v.ShowDetails = false
}

func (v *ViewState) SetStatisticsType(t StatisticsViewType) {
	if v.StatisticsType != t {
		v.ShowDetails = false
	}
	v.StatisticsType = t
}

// SelectStudent always closes the detail panel so another student's record is
// never shown expanded.
func (v *ViewState) SelectStudent(id string) {
	v.SelectedStudentID = id
	v.ShowDetails = false
}

func (v *ViewState) ToggleDetails() {
	v.ShowDetails = !v.ShowDetails
}

// NeedsStudentSearch reports whether student mode is waiting for a selection.
func (v ViewState) NeedsStudentSearch() bool {
	return v.View == ViewStatistics && v.StatisticsType == StatisticsByStudent && v.SelectedStudentID == ""
}
