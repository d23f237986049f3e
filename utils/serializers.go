package utils

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"klassenbuch_go/models"
)

// German display formats. Dates are kept as time.Time everywhere else.
const (
	DateLayout     = "02.01.2006"
	DateTimeLayout = "02.01.06, 15:04"
	ClockLayout    = "15:04"
)

var germanWeekdays = [...]string{"Sonntag", "Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag", "Samstag"}

// GermanWeekday returns the day name for an ISO weekday (1 = Montag).
func GermanWeekday(isoDay int) string {
	if isoDay < 1 || isoDay > 7 {
		return ""
	}
	return germanWeekdays[isoDay%7]
}

func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateTimeLayout)
}

// GridLabel renders a course date as "Mo 18.11".
func GridLabel(t time.Time) string {
	return germanWeekdays[t.Weekday()][:2] + " " + t.Format("02.01")
}

// ---- row adapters ----

func ClassOptionFromRow(r models.ClassRow) models.ClassOption {
	t := models.ClassType(r.Type)
	if t == "" {
		t = models.ClassTypeClass
	}
	return models.ClassOption{ID: r.ID, Name: r.Name, Type: t}
}

func StudentFromRow(r models.StudentRow) models.Student {
	return models.Student{ID: r.ID, Name: FullName(r.FirstName, r.LastName), ClassID: r.ClassID}
}

// LessonTiming tells whether a lesson slot has ended or is running at now.
// The slot date is HeldOn when set, otherwise the slot's weekday in now's week.
func LessonTiming(r models.LessonRow, now time.Time) (isPast, isOngoing bool) {
	day := lessonDate(r, now)
	start, errStart := time.ParseInLocation(ClockLayout, r.StartTime, now.Location())
	end, errEnd := time.ParseInLocation(ClockLayout, r.EndTime, now.Location())
	if errStart != nil || errEnd != nil {
		return day.Before(startOfDay(now)), false
	}
	from := day.Add(time.Duration(start.Hour())*time.Hour + time.Duration(start.Minute())*time.Minute)
	to := day.Add(time.Duration(end.Hour())*time.Hour + time.Duration(end.Minute())*time.Minute)
	switch {
	case now.Before(from):
		return false, false
	case now.After(to):
		return true, false
	default:
		return false, true
	}
}

func lessonDate(r models.LessonRow, now time.Time) time.Time {
	if r.HeldOn != nil {
		return startOfDay(r.HeldOn.In(now.Location()))
	}
	today := startOfDay(now)
	iso := int(today.Weekday())
	if iso == 0 {
		iso = 7
	}
	return today.AddDate(0, 0, r.Weekday-iso)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func LessonFromRow(r models.LessonRow, now time.Time) models.Lesson {
	past, ongoing := LessonTiming(r, now)
	status := models.LessonStatus(r.Status)
	if status == "" {
		status = models.LessonNormal
	}
	return models.Lesson{
		ID:               r.ID,
		Period:           r.Period,
		Day:              GermanWeekday(r.Weekday),
		Time:             r.StartTime + " - " + r.EndTime,
		Subject:          r.Subject,
		Teacher:          r.TeacherName,
		Room:             r.Room,
		AttendanceStatus: models.DeriveAttendanceStatus(past, ongoing, r.RecordedCount, r.ExpectedCount),
		IsPast:           past,
		IsOngoing:        ongoing,
		SubjectColor:     r.Color,
		Status:           status,
		OriginalTeacher:  r.OriginalTeacher,
		OriginalRoom:     r.OriginalRoom,
		AdminComment:     r.AdminComment,
		ClassID:          r.ClassID,
	}
}

// excuseFromRow builds the excuse of an excused row. edits may be unordered.
func excuseFromRow(text *string, createdBy string, createdAt *time.Time, edits []models.ExcuseEditRow) *models.ExcuseInfo {
	info := &models.ExcuseInfo{CreatedBy: createdBy, EditHistory: []models.ExcuseEditHistory{}}
	if text != nil {
		info.Text = *text
	}
	if createdAt != nil {
		info.CreatedAt = *createdAt
	}
	sorted := append([]models.ExcuseEditRow(nil), edits...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].EditedAt.Before(sorted[j].EditedAt) })
	for _, e := range sorted {
		info.EditHistory = append(info.EditHistory, models.ExcuseEditHistory{
			EditorID:     e.EditorID,
			EditorName:   e.EditorName,
			Timestamp:    e.EditedAt,
			PreviousText: e.PreviousText,
		})
	}
	return info
}

// AbsenceFromRow converts an absence row. The excused flag decides the type;
// excuse columns of an unexcused row are ignored so type and excuse agree.
func AbsenceFromRow(r models.AbsenceRow, edits []models.ExcuseEditRow) models.AbsenceDetail {
	d := models.AbsenceDetail{
		ID:          r.ID,
		Date:        r.Date,
		Subject:     r.Subject,
		Type:        models.Unexcused,
		AbsenceType: models.Fehlstunde,
		Reason:      r.Reason,
		Minutes:     r.Minutes,
	}
	if r.WholeDay {
		d.AbsenceType = models.Fehltag
	}
	if d.Minutes <= 0 {
		d.Minutes = models.MinutesFor(d.AbsenceType)
	}
	if r.Excused {
		d.Type = models.Excused
		d.ExcuseInfo = excuseFromRow(r.ExcuseText, r.ExcuseCreatedBy, r.ExcuseCreatedAt, edits)
	}
	return d
}

func LatenessFromRow(r models.LatenessRow, edits []models.ExcuseEditRow) models.LatenessDetail {
	d := models.LatenessDetail{
		ID:      r.ID,
		Date:    r.Date,
		Subject: r.Subject,
		Type:    models.Unexcused,
		Minutes: r.Minutes,
		Reason:  r.Reason,
	}
	if r.Excused {
		d.Type = models.Excused
		d.ExcuseInfo = excuseFromRow(r.ExcuseText, r.ExcuseCreatedBy, r.ExcuseCreatedAt, edits)
	}
	return d
}

func CourseFromRow(r models.CourseRow) models.Course {
	return models.Course{
		ID:        r.ID,
		Name:      r.Name,
		Subject:   r.Subject,
		Teacher:   r.TeacherName,
		Day:       GermanWeekday(r.Weekday),
		ClassID:   r.ClassID,
		TermStart: r.TermStart,
	}
}

// CourseEntryFromRow converts a grid cell. Only E and S rows keep their
// excuse; the result is validated.
func CourseEntryFromRow(r models.CourseAttendanceRow, edits []models.ExcuseEditRow) (models.CourseAttendanceEntry, error) {
	code, err := models.ParseAttendanceCode(strings.ToUpper(strings.TrimSpace(r.Code)))
	if err != nil {
		return models.CourseAttendanceEntry{}, fmt.Errorf("course attendance %s: %w", r.ID, err)
	}
	e := models.CourseAttendanceEntry{Code: code}
	switch code {
	case models.CodeExcused:
		e.ExcuseInfo = excuseFromRow(r.ExcuseText, r.ExcuseCreatedBy, r.ExcuseCreatedAt, edits)
	case models.CodeLate:
		if r.ExcuseText != nil {
			e.ExcuseInfo = excuseFromRow(r.ExcuseText, r.ExcuseCreatedBy, r.ExcuseCreatedAt, edits)
		}
	case models.CodePresent, models.CodeUnexcused:
	}
	if err := e.Validate(); err != nil {
		return models.CourseAttendanceEntry{}, fmt.Errorf("course attendance %s: %w", r.ID, err)
	}
	return e, nil
}

// ExcuseColumns returns the row columns for an excuse, all nil for none.
func ExcuseColumns(info *models.ExcuseInfo) (text *string, createdBy string, createdAt *time.Time) {
	if info == nil {
		return nil, "", nil
	}
	at := info.CreatedAt
	return StringPtr(info.Text), info.CreatedBy, &at
}

// EditRows converts an edit history into rows for itemID.
func EditRows(itemID string, itemType string, info *models.ExcuseInfo) []models.ExcuseEditRow {
	if info == nil {
		return nil
	}
	rows := make([]models.ExcuseEditRow, 0, len(info.EditHistory))
	for _, h := range info.EditHistory {
		rows = append(rows, models.ExcuseEditRow{
			ItemID:       itemID,
			ItemType:     itemType,
			EditorID:     h.EditorID,
			EditorName:   h.EditorName,
			EditedAt:     h.Timestamp,
			PreviousText: h.PreviousText,
		})
	}
	return rows
}

// ---- response DTOs ----

type ExcuseEditDTO struct {
	EditorID     string  `json:"editor_id"`
	EditorName   string  `json:"editor_name"`
	Timestamp    string  `json:"timestamp"`
	PreviousText *string `json:"previous_text,omitempty"`
}

type ExcuseInfoDTO struct {
	Text        string          `json:"text"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   string          `json:"created_at"`
	EditHistory []ExcuseEditDTO `json:"edit_history"`
}

type AbsenceDetailDTO struct {
	ID          string         `json:"id"`
	Date        string         `json:"date"`
	Subject     string         `json:"subject"`
	Type        string         `json:"type"`
	AbsenceType string         `json:"absence_type"`
	Reason      string         `json:"reason,omitempty"`
	Minutes     int            `json:"minutes"`
	ExcuseInfo  *ExcuseInfoDTO `json:"excuse_info,omitempty"`
}

type LatenessDetailDTO struct {
	ID         string         `json:"id"`
	Date       string         `json:"date"`
	Subject    string         `json:"subject"`
	Type       string         `json:"type"`
	Minutes    int            `json:"minutes"`
	Reason     string         `json:"reason,omitempty"`
	ExcuseInfo *ExcuseInfoDTO `json:"excuse_info,omitempty"`
}

type StudentStatisticsDTO struct {
	ID                       string              `json:"id"`
	Name                     string              `json:"name"`
	ClassID                  string              `json:"class_id"`
	TotalFehltage            int                 `json:"total_fehltage"`
	ExcusedFehltage          int                 `json:"excused_fehltage"`
	UnexcusedFehltage        int                 `json:"unexcused_fehltage"`
	TotalFehlstunden         int                 `json:"total_fehlstunden"`
	ExcusedFehlstunden       int                 `json:"excused_fehlstunden"`
	UnexcusedFehlstunden     int                 `json:"unexcused_fehlstunden"`
	TotalMinutes             int                 `json:"total_minutes"`
	ExcusedLatenessMinutes   int                 `json:"excused_lateness_minutes"`
	UnexcusedLatenessMinutes int                 `json:"unexcused_lateness_minutes"`
	AttendanceRate           int                 `json:"attendance_rate"`
	AbsenceDetails           []AbsenceDetailDTO  `json:"absence_details"`
	LatenessDetails          []LatenessDetailDTO `json:"lateness_details"`
}

func ToExcuseInfoDTO(info *models.ExcuseInfo) *ExcuseInfoDTO {
	if info == nil {
		return nil
	}
	out := &ExcuseInfoDTO{
		Text:        info.Text,
		CreatedBy:   info.CreatedBy,
		CreatedAt:   FormatDateTime(info.CreatedAt),
		EditHistory: make([]ExcuseEditDTO, 0, len(info.EditHistory)),
	}
	for _, h := range info.EditHistory {
		out.EditHistory = append(out.EditHistory, ExcuseEditDTO{
			EditorID:     h.EditorID,
			EditorName:   h.EditorName,
			Timestamp:    FormatDateTime(h.Timestamp),
			PreviousText: h.PreviousText,
		})
	}
	return out
}

func ToStudentStatisticsDTO(s models.StudentStatistics) StudentStatisticsDTO {
	out := StudentStatisticsDTO{
		ID:                       s.ID,
		Name:                     s.Name,
		ClassID:                  s.ClassID,
		TotalFehltage:            s.TotalFehltage,
		ExcusedFehltage:          s.ExcusedFehltage,
		UnexcusedFehltage:        s.UnexcusedFehltage,
		TotalFehlstunden:         s.TotalFehlstunden,
		ExcusedFehlstunden:       s.ExcusedFehlstunden,
		UnexcusedFehlstunden:     s.UnexcusedFehlstunden,
		TotalMinutes:             s.TotalMinutes,
		ExcusedLatenessMinutes:   s.ExcusedLatenessMinutes,
		UnexcusedLatenessMinutes: s.UnexcusedLatenessMinutes,
		AttendanceRate:           s.AttendanceRate,
		AbsenceDetails:           make([]AbsenceDetailDTO, 0, len(s.AbsenceDetails)),
		LatenessDetails:          make([]LatenessDetailDTO, 0, len(s.LatenessDetails)),
	}
	for _, d := range s.AbsenceDetails {
		out.AbsenceDetails = append(out.AbsenceDetails, AbsenceDetailDTO{
			ID:          d.ID,
			Date:        FormatDate(d.Date),
			Subject:     d.Subject,
			Type:        string(d.Type),
			AbsenceType: string(d.AbsenceType),
			Reason:      d.Reason,
			Minutes:     d.Minutes,
			ExcuseInfo:  ToExcuseInfoDTO(d.ExcuseInfo),
		})
	}
	for _, d := range s.LatenessDetails {
		out.LatenessDetails = append(out.LatenessDetails, LatenessDetailDTO{
			ID:         d.ID,
			Date:       FormatDate(d.Date),
			Subject:    d.Subject,
			Type:       string(d.Type),
			Minutes:    d.Minutes,
			Reason:     d.Reason,
			ExcuseInfo: ToExcuseInfoDTO(d.ExcuseInfo),
		})
	}
	return out
}

func ToStudentStatisticsDTOs(stats []models.StudentStatistics) []StudentStatisticsDTO {
	out := make([]StudentStatisticsDTO, 0, len(stats))
	for _, s := range stats {
		out = append(out, ToStudentStatisticsDTO(s))
	}
	return out
}

type CourseEntryDTO struct {
	Code       string         `json:"code"`
	Label      string         `json:"label"`
	ExcuseInfo *ExcuseInfoDTO `json:"excuse_info,omitempty"`
}

type CourseRowDTO struct {
	Student    models.Student                `json:"student"`
	Attendance []CourseEntryDTO              `json:"attendance"`
	Totals     models.CourseAttendanceTotals `json:"totals"`
}

type CourseGridDTO struct {
	Course   models.Course  `json:"course"`
	Dates    []string       `json:"dates"`
	Students []CourseRowDTO `json:"students"`
}

func ToCourseGridDTO(data models.CourseAttendanceData) CourseGridDTO {
	out := CourseGridDTO{
		Course:   data.Course,
		Dates:    make([]string, 0, len(data.Dates)),
		Students: make([]CourseRowDTO, 0, len(data.Students)),
	}
	for _, d := range data.Dates {
		out.Dates = append(out.Dates, GridLabel(d))
	}
	for _, row := range data.Students {
		r := CourseRowDTO{Student: row.Student, Totals: row.Totals, Attendance: make([]CourseEntryDTO, 0, len(row.Attendance))}
		for _, e := range row.Attendance {
			r.Attendance = append(r.Attendance, CourseEntryDTO{
				Code:       e.Code.String(),
				Label:      e.Code.Label(),
				ExcuseInfo: ToExcuseInfoDTO(e.ExcuseInfo),
			})
		}
		out.Students = append(out.Students, r)
	}
	return out
}
