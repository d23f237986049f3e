package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"klassenbuch_go/models"
	"klassenbuch_go/services/klassenbuch"
	"klassenbuch_go/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ItemCourse is the excuse_edits item type of course grid cells.
const ItemCourse = "course"

// Rows is one full load of the Klassenbuch tables.
type Rows struct {
	Classes          []models.ClassRow
	Students         []models.StudentRow
	Lessons          []models.LessonRow
	Courses          []models.CourseRow
	Enrollments      []models.EnrollmentRow
	Absences         []models.AbsenceRow
	Lateness         []models.LatenessRow
	Edits            []models.ExcuseEditRow
	CourseAttendance []models.CourseAttendanceRow
}

// SnapshotFromRows converts table rows into a refresh snapshot. Absences and
// lateness of unknown students are dropped.
func SnapshotFromRows(r Rows, now time.Time) klassenbuch.Snapshot {
	edits := groupEdits(r.Edits)

	snap := klassenbuch.Snapshot{
		Classes:     make([]models.ClassOption, 0, len(r.Classes)),
		Students:    make([]models.Student, 0, len(r.Students)),
		Lessons:     make([]models.Lesson, 0, len(r.Lessons)),
		Courses:     make([]models.Course, 0, len(r.Courses)),
		Enrollments: make(map[string][]string, len(r.Courses)),
		Statistics:  make([]models.StudentStatistics, 0, len(r.Students)),
	}
	for _, c := range r.Classes {
		snap.Classes = append(snap.Classes, utils.ClassOptionFromRow(c))
	}
	for _, l := range r.Lessons {
		snap.Lessons = append(snap.Lessons, utils.LessonFromRow(l, now))
	}
	for _, c := range r.Courses {
		snap.Courses = append(snap.Courses, utils.CourseFromRow(c))
	}
	for _, e := range r.Enrollments {
		snap.Enrollments[e.CourseID] = append(snap.Enrollments[e.CourseID], e.StudentID)
	}

	index := make(map[string]int, len(r.Students))
	for _, s := range r.Students {
		st := utils.StudentFromRow(s)
		snap.Students = append(snap.Students, st)
		index[s.ID] = len(snap.Statistics)
		snap.Statistics = append(snap.Statistics, models.StudentStatistics{
			ID:              st.ID,
			Name:            st.Name,
			ClassID:         st.ClassID,
			TotalLessons:    s.TotalLessons,
			AbsenceDetails:  []models.AbsenceDetail{},
			LatenessDetails: []models.LatenessDetail{},
		})
	}
	for _, a := range r.Absences {
		i, ok := index[a.StudentID]
		if !ok {
			continue
		}
		st := &snap.Statistics[i]
		st.AbsenceDetails = append(st.AbsenceDetails, utils.AbsenceFromRow(a, edits[editKey{string(models.ItemAbsence), a.ID}]))
	}
	for _, l := range r.Lateness {
		i, ok := index[l.StudentID]
		if !ok {
			continue
		}
		st := &snap.Statistics[i]
		st.LatenessDetails = append(st.LatenessDetails, utils.LatenessFromRow(l, edits[editKey{string(models.ItemLateness), l.ID}]))
	}
	return snap
}

type editKey struct {
	itemType string
	itemID   string
}

func groupEdits(rows []models.ExcuseEditRow) map[editKey][]models.ExcuseEditRow {
	out := make(map[editKey][]models.ExcuseEditRow)
	for _, e := range rows {
		k := editKey{e.ItemType, e.ItemID}
		out[k] = append(out[k], e)
	}
	return out
}

// GormSource reads and writes the Klassenbuch tables through gorm.
type GormSource struct {
	db  *gorm.DB
	Now func() time.Time
}

func NewGormSource(db *gorm.DB) *GormSource {
	return &GormSource{db: db, Now: time.Now}
}

func (s *GormSource) load(ctx context.Context) (Rows, error) {
	var r Rows
	db := s.db.WithContext(ctx)
	steps := []struct {
		table string
		dest  interface{}
		order string
	}{
		{"classes", &r.Classes, "name"},
		{"students", &r.Students, "last_name, first_name"},
		{"lessons", &r.Lessons, "weekday, period"},
		{"courses", &r.Courses, "name"},
		{"course_enrollments", &r.Enrollments, "created_at, id"},
		{"absences", &r.Absences, "date, id"},
		{"lateness", &r.Lateness, "date, id"},
	}
	for _, step := range steps {
		if err := db.Order(step.order).Find(step.dest).Error; err != nil {
			return Rows{}, fmt.Errorf("load %s: %w", step.table, err)
		}
	}
	if err := db.Where("item_type IN ?", []string{string(models.ItemAbsence), string(models.ItemLateness)}).
		Order("edited_at").Find(&r.Edits).Error; err != nil {
		return Rows{}, fmt.Errorf("load excuse_edits: %w", err)
	}
	return r, nil
}

// Snapshot implements klassenbuch.DataSource.
func (s *GormSource) Snapshot(ctx context.Context) (klassenbuch.Snapshot, error) {
	rows, err := s.load(ctx)
	if err != nil {
		return klassenbuch.Snapshot{}, err
	}
	return SnapshotFromRows(rows, s.Now()), nil
}

// LessonAttendance implements klassenbuch.DataSource.
func (s *GormSource) LessonAttendance(ctx context.Context, lessonID string) (klassenbuch.LessonAttendance, error) {
	var row models.LessonRow
	if err := s.db.WithContext(ctx).Where("id = ?", lessonID).First(&row).Error; err != nil {
		return klassenbuch.LessonAttendance{}, fmt.Errorf("load lesson %s: %w", lessonID, err)
	}
	past, ongoing := utils.LessonTiming(row, s.Now())
	return klassenbuch.LessonAttendance{
		IsPast:    past,
		IsOngoing: ongoing,
		Recorded:  row.RecordedCount,
		Expected:  row.ExpectedCount,
	}, nil
}

// Entries implements grid.Source. Cells without a row are left to the grid
// builder, which counts them as present.
func (s *GormSource) Entries(ctx context.Context, course models.Course, students []models.Student, dates []time.Time) (map[string][]models.CourseAttendanceEntry, error) {
	out := make(map[string][]models.CourseAttendanceEntry, len(students))
	if len(dates) == 0 || len(students) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(students))
	for _, st := range students {
		ids = append(ids, st.ID)
	}

	var rows []models.CourseAttendanceRow
	err := s.db.WithContext(ctx).
		Where("course_id = ? AND student_id IN ? AND date BETWEEN ? AND ?", course.ID, ids, dates[0], dates[len(dates)-1]).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load course attendance: %w", err)
	}

	cellIDs := make([]string, 0, len(rows))
	for _, r := range rows {
		cellIDs = append(cellIDs, r.ID)
	}
	var editRows []models.ExcuseEditRow
	if len(cellIDs) > 0 {
		if err := s.db.WithContext(ctx).Where("item_type = ? AND item_id IN ?", ItemCourse, cellIDs).
			Find(&editRows).Error; err != nil {
			return nil, fmt.Errorf("load course excuse edits: %w", err)
		}
	}
	edits := groupEdits(editRows)

	column := make(map[string]int, len(dates))
	for i, d := range dates {
		column[d.Format("2006-01-02")] = i
	}
	for _, st := range students {
		row := make([]models.CourseAttendanceEntry, len(dates))
		for i := range row {
			row[i] = models.CourseAttendanceEntry{Code: models.CodePresent}
		}
		out[st.ID] = row
	}
	for _, r := range rows {
		i, ok := column[r.Date.Format("2006-01-02")]
		if !ok {
			continue
		}
		e, err := utils.CourseEntryFromRow(r, edits[editKey{ItemCourse, r.ID}])
		if err != nil {
			return nil, err
		}
		out[r.StudentID][i] = e
	}
	return out, nil
}

// SaveAbsence implements excuse.Persister.
func (s *GormSource) SaveAbsence(ctx context.Context, studentID string, d models.AbsenceDetail) error {
	text, by, at := utils.ExcuseColumns(d.ExcuseInfo)
	updates := map[string]interface{}{
		"date":              d.Date,
		"subject":           d.Subject,
		"whole_day":         d.AbsenceType == models.Fehltag,
		"excused":           d.Type == models.Excused,
		"reason":            d.Reason,
		"minutes":           d.Minutes,
		"excuse_text":       text,
		"excuse_created_by": by,
		"excuse_created_at": at,
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.AbsenceRow{}).Where("id = ? AND student_id = ?", d.ID, studentID).Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update absence %s: %w", d.ID, res.Error)
		}
		return syncEdits(tx, string(models.ItemAbsence), d.ID, d.ExcuseInfo)
	})
}

// SaveLateness implements excuse.Persister.
func (s *GormSource) SaveLateness(ctx context.Context, studentID string, d models.LatenessDetail) error {
	text, by, at := utils.ExcuseColumns(d.ExcuseInfo)
	updates := map[string]interface{}{
		"date":              d.Date,
		"subject":           d.Subject,
		"excused":           d.Type == models.Excused,
		"reason":            d.Reason,
		"minutes":           d.Minutes,
		"excuse_text":       text,
		"excuse_created_by": by,
		"excuse_created_at": at,
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.LatenessRow{}).Where("id = ? AND student_id = ?", d.ID, studentID).Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update lateness %s: %w", d.ID, res.Error)
		}
		return syncEdits(tx, string(models.ItemLateness), d.ID, d.ExcuseInfo)
	})
}

// syncEdits makes the excuse_edits rows of an item match its history. History
// only grows while an excuse exists, so only the missing tail is inserted.
func syncEdits(tx *gorm.DB, itemType, itemID string, info *models.ExcuseInfo) error {
	if info == nil {
		err := tx.Where("item_type = ? AND item_id = ?", itemType, itemID).Delete(&models.ExcuseEditRow{}).Error
		if err != nil {
			return fmt.Errorf("clear edits of %s %s: %w", itemType, itemID, err)
		}
		return nil
	}

	var stored int64
	if err := tx.Model(&models.ExcuseEditRow{}).Where("item_type = ? AND item_id = ?", itemType, itemID).
		Count(&stored).Error; err != nil {
		return fmt.Errorf("count edits of %s %s: %w", itemType, itemID, err)
	}
	rows := utils.EditRows(itemID, itemType, info)
	if int(stored) >= len(rows) {
		return nil
	}
	missing := rows[stored:]
	for i := range missing {
		missing[i].ID = uuid.NewString()
	}
	if err := tx.Create(&missing).Error; err != nil {
		return fmt.Errorf("insert edits of %s %s: %w", itemType, itemID, err)
	}
	return nil
}

// IsNotFound reports whether err is a missing-row error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
