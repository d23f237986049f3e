package models

import "time"

// ExcuseStatus tells whether an absence or lateness has been excused.
type ExcuseStatus string

const (
	Excused   ExcuseStatus = "excused"
	Unexcused ExcuseStatus = "unexcused"
)

// AbsenceType distinguishes a whole missed day from a single missed lesson.
type AbsenceType string

const (
	Fehltag    AbsenceType = "fehltag"
	Fehlstunde AbsenceType = "fehlstunde"
)

const (
	// FullDayMinutes is the minutes value stored on a fehltag.
	FullDayMinutes = 360
	// LessonMinutes is the minutes value stored on a fehlstunde.
	LessonMinutes = 45
)

// MinutesFor returns the denormalized minutes value for an absence type.
func MinutesFor(t AbsenceType) int {
	if t == Fehltag {
		return FullDayMinutes
	}
	return LessonMinutes
}

// ItemType selects which detail list an excuse operation targets.
type ItemType string

const (
	ItemAbsence  ItemType = "absence"
	ItemLateness ItemType = "lateness"
)

// AttendanceStatus is the recording state of a lesson's attendance.
type AttendanceStatus string

const (
	AttendanceComplete   AttendanceStatus = "complete"
	AttendanceMissing    AttendanceStatus = "missing"
	AttendanceIncomplete AttendanceStatus = "incomplete"
	AttendanceFuture     AttendanceStatus = "future"
)

// DeriveAttendanceStatus computes the badge for a lesson from how many of the
// expected attendance entries were recorded. Future lessons are never tracked.
func DeriveAttendanceStatus(isPast, isOngoing bool, recorded, expected int) AttendanceStatus {
	if !isPast && !isOngoing {
		return AttendanceFuture
	}
	switch {
	case recorded <= 0:
		return AttendanceMissing
	case recorded < expected:
		return AttendanceIncomplete
	default:
		return AttendanceComplete
	}
}

// LessonStatus marks substitutions and cancellations.
type LessonStatus string

const (
	LessonNormal         LessonStatus = "normal"
	LessonCancelled      LessonStatus = "cancelled"
	LessonRoomChanged    LessonStatus = "room_changed"
	LessonTeacherChanged LessonStatus = "teacher_changed"
)

// ClassType is the kind of entry offered in the class selector.
type ClassType string

const (
	ClassTypeClass   ClassType = "class"
	ClassTypeCourse  ClassType = "course"
	ClassTypeTeacher ClassType = "teacher"
)

type Student struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	ClassID string `json:"class_id"`
}

type Lesson struct {
	ID               string           `json:"id"`
	Period           int              `json:"period"`
	Day              string           `json:"day"`
	Time             string           `json:"time"`
	Subject          string           `json:"subject"`
	Teacher          string           `json:"teacher"`
	Room             string           `json:"room"`
	AttendanceStatus AttendanceStatus `json:"attendance_status"`
	IsPast           bool             `json:"is_past"`
	IsOngoing        bool             `json:"is_ongoing"`
	SubjectColor     string           `json:"subject_color"`
	Status           LessonStatus     `json:"status,omitempty"`
	OriginalTeacher  string           `json:"original_teacher,omitempty"`
	OriginalRoom     string           `json:"original_room,omitempty"`
	AdminComment     string           `json:"admin_comment,omitempty"`
	ClassID          string           `json:"class_id"`
}

// ClassOption is one entry of the class/course/teacher-schedule selector.
type ClassOption struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Type ClassType `json:"type"`
}

// Course meets weekly on a fixed weekday.
type Course struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	Teacher   string    `json:"teacher"`
	Day       string    `json:"day"`
	ClassID   string    `json:"class_id,omitempty"`
	TermStart time.Time `json:"term_start"`
}

// Actor identifies who performs a mutation.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

type ExcuseEditHistory struct {
	EditorID     string    `json:"editor_id"`
	EditorName   string    `json:"editor_name"`
	Timestamp    time.Time `json:"timestamp"`
	PreviousText *string   `json:"previous_text,omitempty"`
}

// ExcuseInfo holds the excuse text. EditHistory is append-only and ordered by
// edit time, the last element being the most recent edit.
type ExcuseInfo struct {
	Text        string              `json:"text"`
	CreatedBy   string              `json:"created_by"`
	CreatedAt   time.Time           `json:"created_at"`
	EditHistory []ExcuseEditHistory `json:"edit_history"`
}

// Clone returns a deep copy.
func (e *ExcuseInfo) Clone() *ExcuseInfo {
	if e == nil {
		return nil
	}
	out := *e
	out.EditHistory = make([]ExcuseEditHistory, len(e.EditHistory))
	for i, h := range e.EditHistory {
		if h.PreviousText != nil {
			prev := *h.PreviousText
			h.PreviousText = &prev
		}
		out.EditHistory[i] = h
	}
	return &out
}

type AbsenceDetail struct {
	ID          string       `json:"id"`
	Date        time.Time    `json:"date"`
	Subject     string       `json:"subject"`
	Type        ExcuseStatus `json:"type"`
	AbsenceType AbsenceType  `json:"absence_type"`
	Reason      string       `json:"reason,omitempty"`
	Minutes     int          `json:"minutes"`
	ExcuseInfo  *ExcuseInfo  `json:"excuse_info,omitempty"`
}

type LatenessDetail struct {
	ID         string       `json:"id"`
	Date       time.Time    `json:"date"`
	Subject    string       `json:"subject"`
	Type       ExcuseStatus `json:"type"`
	Minutes    int          `json:"minutes"`
	Reason     string       `json:"reason,omitempty"`
	ExcuseInfo *ExcuseInfo  `json:"excuse_info,omitempty"`
}

// StudentStatistics is the per-student summary. The counters are a cached
// projection of AbsenceDetails and LatenessDetails.
type StudentStatistics struct {
	ID                       string           `json:"id"`
	Name                     string           `json:"name"`
	ClassID                  string           `json:"class_id"`
	TotalFehltage            int              `json:"total_fehltage"`
	ExcusedFehltage          int              `json:"excused_fehltage"`
	UnexcusedFehltage        int              `json:"unexcused_fehltage"`
	TotalFehlstunden         int              `json:"total_fehlstunden"`
	ExcusedFehlstunden       int              `json:"excused_fehlstunden"`
	UnexcusedFehlstunden     int              `json:"unexcused_fehlstunden"`
	TotalMinutes             int              `json:"total_minutes"`
	ExcusedLatenessMinutes   int              `json:"excused_lateness_minutes"`
	UnexcusedLatenessMinutes int              `json:"unexcused_lateness_minutes"`
	AttendanceRate           int              `json:"attendance_rate"`
	TotalLessons             int              `json:"total_lessons"`
	AbsenceDetails           []AbsenceDetail  `json:"absence_details"`
	LatenessDetails          []LatenessDetail `json:"lateness_details"`
}

// Clone returns a deep copy so callers cannot mutate stored records.
func (s StudentStatistics) Clone() StudentStatistics {
	out := s
	out.AbsenceDetails = make([]AbsenceDetail, len(s.AbsenceDetails))
	for i, d := range s.AbsenceDetails {
		d.ExcuseInfo = d.ExcuseInfo.Clone()
		out.AbsenceDetails[i] = d
	}
	out.LatenessDetails = make([]LatenessDetail, len(s.LatenessDetails))
	for i, d := range s.LatenessDetails {
		d.ExcuseInfo = d.ExcuseInfo.Clone()
		out.LatenessDetails[i] = d
	}
	return out
}

// FindAbsence returns the index of the absence with the given id, or -1.
func (s *StudentStatistics) FindAbsence(id string) int {
	for i := range s.AbsenceDetails {
		if s.AbsenceDetails[i].ID == id {
			return i
		}
	}
	return -1
}

// FindLateness returns the index of the lateness with the given id, or -1.
func (s *StudentStatistics) FindLateness(id string) int {
	for i := range s.LatenessDetails {
		if s.LatenessDetails[i].ID == id {
			return i
		}
	}
	return -1
}

type SubjectCount struct {
	Subject string `json:"subject"`
	Count   int    `json:"count"`
}

type CourseAttendanceTotals struct {
	Present   int `json:"present"`
	Late      int `json:"late"`
	Excused   int `json:"excused"`
	Unexcused int `json:"unexcused"`
}

// Sum returns the number of entries counted.
func (t CourseAttendanceTotals) Sum() int {
	return t.Present + t.Late + t.Excused + t.Unexcused
}

type CourseStudentRow struct {
	Student    Student                 `json:"student"`
	Attendance []CourseAttendanceEntry `json:"attendance"`
	Totals     CourseAttendanceTotals  `json:"totals"`
}

type CourseAttendanceData struct {
	Course   Course             `json:"course"`
	Dates    []time.Time        `json:"dates"`
	Students []CourseStudentRow `json:"students"`
}
