package models

import (
	"database/sql/driver"
	"time"

	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        string         `json:"id" gorm:"primaryKey;size:36"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// JSON field type for GORM
type JSON []byte

func (j JSON) Value() (driver.Value, error) {
	if j.IsNull() {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	s, ok := value.([]byte)
	if !ok {
		return nil
	}
	*j = append((*j)[0:0], s...)
	return nil
}

func (j JSON) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSON) UnmarshalJSON(data []byte) error {
	if j == nil {
		return nil
	}
	*j = append((*j)[0:0], data...)
	return nil
}

func (j JSON) IsNull() bool {
	return len(j) == 0 || string(j) == "null"
}

// Rows below mirror the hosted database tables. They are converted to the
// domain types by the adapters in utils/serializers.go.

// ClassRow is a class, course or teacher schedule offered in the selector
type ClassRow struct {
	BaseModel
	SchoolID string `json:"school_id" gorm:"size:36;index"`
	Name     string `json:"name" gorm:"size:100;not null"`
	Type     string `json:"type" gorm:"size:20;not null;default:'class';type:enum('class','course','teacher')"`
}

func (ClassRow) TableName() string { return "classes" }

// StudentRow model
type StudentRow struct {
	BaseModel
	FirstName    string `json:"first_name" gorm:"size:100;not null"`
	LastName     string `json:"last_name" gorm:"size:100;not null"`
	ClassID      string `json:"class_id" gorm:"size:36;not null;index"`
	TotalLessons int    `json:"total_lessons" gorm:"not null;default:0"`
}

func (StudentRow) TableName() string { return "students" }

// LessonRow is one timetable slot; (class_id, weekday, period) is unique
type LessonRow struct {
	BaseModel
	ClassID         string     `json:"class_id" gorm:"size:36;not null;uniqueIndex:idx_lesson_slot"`
	Weekday         int        `json:"weekday" gorm:"not null;uniqueIndex:idx_lesson_slot"` // 1 = Montag
	Period          int        `json:"period" gorm:"not null;uniqueIndex:idx_lesson_slot"`
	StartTime       string     `json:"start_time" gorm:"size:5"`
	EndTime         string     `json:"end_time" gorm:"size:5"`
	Subject         string     `json:"subject" gorm:"size:100"`
	TeacherName     string     `json:"teacher_name" gorm:"size:200"`
	Room            string     `json:"room" gorm:"size:50"`
	Color           string     `json:"color" gorm:"size:20"`
	Status          string     `json:"status" gorm:"size:20;default:'normal'"`
	OriginalTeacher string     `json:"original_teacher" gorm:"size:200"`
	OriginalRoom    string     `json:"original_room" gorm:"size:50"`
	AdminComment    string     `json:"admin_comment" gorm:"type:text"`
	HeldOn          *time.Time `json:"held_on"`
	ExpectedCount   int        `json:"expected_count"`
	RecordedCount   int        `json:"recorded_count"`
}

func (LessonRow) TableName() string { return "lessons" }

// AbsenceRow is a fehltag (whole_day) or fehlstunde record
type AbsenceRow struct {
	BaseModel
	StudentID       string     `json:"student_id" gorm:"size:36;not null;index"`
	Date            time.Time  `json:"date" gorm:"type:date;not null"`
	Subject         string     `json:"subject" gorm:"size:100"`
	WholeDay        bool       `json:"whole_day" gorm:"default:false"`
	Excused         bool       `json:"excused" gorm:"default:false"`
	Reason          string     `json:"reason" gorm:"type:text"`
	Minutes         int        `json:"minutes"`
	ExcuseText      *string    `json:"excuse_text" gorm:"type:text"`
	ExcuseCreatedBy string     `json:"excuse_created_by" gorm:"size:200"`
	ExcuseCreatedAt *time.Time `json:"excuse_created_at"`
}

func (AbsenceRow) TableName() string { return "absences" }

// LatenessRow model
type LatenessRow struct {
	BaseModel
	StudentID       string     `json:"student_id" gorm:"size:36;not null;index"`
	Date            time.Time  `json:"date" gorm:"type:date;not null"`
	Subject         string     `json:"subject" gorm:"size:100"`
	Excused         bool       `json:"excused" gorm:"default:false"`
	Minutes         int        `json:"minutes"`
	Reason          string     `json:"reason" gorm:"type:text"`
	ExcuseText      *string    `json:"excuse_text" gorm:"type:text"`
	ExcuseCreatedBy string     `json:"excuse_created_by" gorm:"size:200"`
	ExcuseCreatedAt *time.Time `json:"excuse_created_at"`
}

func (LatenessRow) TableName() string { return "lateness" }

// ExcuseEditRow records one edit of an excuse text (append only)
type ExcuseEditRow struct {
	BaseModel
	ItemID       string    `json:"item_id" gorm:"size:36;not null;index"`
	ItemType     string    `json:"item_type" gorm:"size:20;not null;type:enum('absence','lateness','course')"`
	EditorID     string    `json:"editor_id" gorm:"size:36"`
	EditorName   string    `json:"editor_name" gorm:"size:200"`
	EditedAt     time.Time `json:"edited_at" gorm:"not null"`
	PreviousText *string   `json:"previous_text" gorm:"type:text"`
}

func (ExcuseEditRow) TableName() string { return "excuse_edits" }

// CourseRow model
type CourseRow struct {
	BaseModel
	Name        string    `json:"name" gorm:"size:100;not null"`
	Subject     string    `json:"subject" gorm:"size:100"`
	TeacherName string    `json:"teacher_name" gorm:"size:200"`
	Weekday     int       `json:"weekday" gorm:"not null"`
	ClassID     string    `json:"class_id" gorm:"size:36"`
	TermStart   time.Time `json:"term_start"`
}

func (CourseRow) TableName() string { return "courses" }

// EnrollmentRow links a student to a course
type EnrollmentRow struct {
	BaseModel
	CourseID  string `json:"course_id" gorm:"size:36;not null;uniqueIndex:idx_enrollment"`
	StudentID string `json:"student_id" gorm:"size:36;not null;uniqueIndex:idx_enrollment"`
}

func (EnrollmentRow) TableName() string { return "course_enrollments" }

// CourseAttendanceRow is one recorded grid cell
type CourseAttendanceRow struct {
	BaseModel
	CourseID        string     `json:"course_id" gorm:"size:36;not null;index"`
	StudentID       string     `json:"student_id" gorm:"size:36;not null;index"`
	Date            time.Time  `json:"date" gorm:"type:date;not null"`
	Code            string     `json:"code" gorm:"size:1;not null"`
	ExcuseText      *string    `json:"excuse_text" gorm:"type:text"`
	ExcuseCreatedBy string     `json:"excuse_created_by" gorm:"size:200"`
	ExcuseCreatedAt *time.Time `json:"excuse_created_at"`
}

func (CourseAttendanceRow) TableName() string { return "course_attendance" }

// ReportArchive tracks statistics exports uploaded to S3
type ReportArchive struct {
	BaseModel
	ClassID     string `json:"class_id" gorm:"size:36;index"`
	FileName    string `json:"file_name" gorm:"size:255;not null"`
	S3Key       string `json:"s3_key" gorm:"size:500;not null"`
	RecordCount int    `json:"record_count" gorm:"not null"`
	FileSize    int64  `json:"file_size" gorm:"not null"`
	Status      string `json:"status" gorm:"size:50;not null;default:'pending';type:enum('pending','completed','failed')"` // pending, completed, failed
	Error       string `json:"error" gorm:"type:text"`
	Summary     JSON   `json:"summary" gorm:"type:json"`
}

func (ReportArchive) TableName() string { return "report_archives" }
