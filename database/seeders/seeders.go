package seeders

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"klassenbuch_go/database"
	"klassenbuch_go/models"
	"klassenbuch_go/services/klassenbuch"
	"klassenbuch_go/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Namespace for seeded ids, so a school seeds the same ids on every run.
var seedNamespace = uuid.MustParse("6f1c2b0e-5a3d-4c8e-9b7a-2d4e8f0a1c35")

const (
	weeksPerTerm     = 38
	absenceWeeks     = 10
	studentsPerClass = 8
)

var (
	classNames = []string{"5a", "6b", "7c"}
	firstNames = []string{"Anna", "Ben", "Clara", "David", "Emma", "Felix", "Greta", "Henri", "Ida", "Jonas", "Lena", "Moritz", "Nele", "Oskar", "Paula", "Tim"}
	lastNames  = []string{"Schmidt", "Müller", "Weber", "Fischer", "Wagner", "Becker", "Hoffmann", "Koch", "Richter", "Klein", "Wolf", "Neumann"}
	teachers   = []string{"Frau Weber", "Herr Braun", "Frau Krüger", "Herr Lang", "Frau Yilmaz"}
	reasons    = []string{"Arzttermin", "Krankheit", "Familiäre Gründe", "Bus verspätet", "Behördentermin"}
	subjects   = []struct{ name, color string }{
		{"Mathe", "#3b82f6"}, {"Deutsch", "#ef4444"}, {"Englisch", "#10b981"},
		{"Bio", "#84cc16"}, {"Geschichte", "#f59e0b"}, {"Sport", "#8b5cf6"}, {"Kunst", "#ec4899"},
	}
	periods = [][2]string{
		{"08:00", "08:45"}, {"08:50", "09:35"}, {"09:55", "10:40"},
		{"10:45", "11:30"}, {"11:45", "12:30"}, {"12:35", "13:20"},
	}
)

func seedID(schoolID string, parts ...interface{}) string {
	return uuid.NewSHA1(seedNamespace, []byte(schoolID+"/"+fmt.Sprint(parts...))).String()
}

func weekdayOf(t time.Time) int {
	d := int(t.Weekday())
	if d == 0 {
		return 7
	}
	return d
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Generate builds a complete demo school: classes with timetables, courses
// with enrollments, and ten weeks of absences and lateness before ref. The
// output depends only on schoolID and the date of ref.
func Generate(schoolID string, ref time.Time) database.Rows {
	h := fnv.New64a()
	h.Write([]byte(schoolID))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	today := midnight(ref)
	monday := today.AddDate(0, 0, 1-weekdayOf(today))

	var r database.Rows
	r.Classes = append(r.Classes, models.ClassRow{
		BaseModel: models.BaseModel{ID: klassenbuch.TeacherScheduleID},
		SchoolID:  schoolID,
		Name:      "Mein Stundenplan",
		Type:      string(models.ClassTypeTeacher),
	})

	for ci, className := range classNames {
		classID := seedID(schoolID, "class/", className)
		classTeacher := teachers[ci%len(teachers)]
		r.Classes = append(r.Classes, models.ClassRow{
			BaseModel: models.BaseModel{ID: classID},
			SchoolID:  schoolID,
			Name:      "Klasse " + className,
			Type:      string(models.ClassTypeClass),
		})

		for si := 0; si < studentsPerClass; si++ {
			studentID := seedID(schoolID, "student/", className, "/", si)
			r.Students = append(r.Students, models.StudentRow{
				BaseModel:    models.BaseModel{ID: studentID},
				FirstName:    firstNames[(ci*studentsPerClass+si)%len(firstNames)],
				LastName:     lastNames[rng.Intn(len(lastNames))],
				ClassID:      classID,
				TotalLessons: weeksPerTerm * 5 * len(periods),
			})
			seedAbsences(&r, rng, schoolID, studentID, classTeacher, today)
		}

		for day := 1; day <= 5; day++ {
			for p, slot := range periods {
				sub := subjects[(ci+day*len(periods)+p)%len(subjects)]
				lesson := models.LessonRow{
					BaseModel:     models.BaseModel{ID: seedID(schoolID, "lesson/", className, "/", day, "/", p+1)},
					ClassID:       classID,
					Weekday:       day,
					Period:        p + 1,
					StartTime:     slot[0],
					EndTime:       slot[1],
					Subject:       sub.name,
					TeacherName:   teachers[(ci+day+p)%len(teachers)],
					Room:          fmt.Sprintf("R%d%02d", ci+1, p+1),
					Color:         sub.color,
					Status:        string(models.LessonNormal),
					ExpectedCount: studentsPerClass,
				}
				if day < weekdayOf(today) {
					lesson.RecordedCount = studentsPerClass
					if rng.Intn(10) == 0 {
						lesson.RecordedCount = rng.Intn(studentsPerClass)
					}
				}
				switch rng.Intn(20) {
				case 0:
					lesson.Status = string(models.LessonTeacherChanged)
					lesson.OriginalTeacher = lesson.TeacherName
					lesson.TeacherName = teachers[(ci+day+p+1)%len(teachers)]
					lesson.AdminComment = "Vertretung"
				case 1:
					lesson.Status = string(models.LessonRoomChanged)
					lesson.OriginalRoom = lesson.Room
					lesson.Room = "Aula"
				case 2:
					lesson.Status = string(models.LessonCancelled)
					lesson.AdminComment = "Entfällt"
				}
				held := monday.AddDate(0, 0, day-1)
				lesson.HeldOn = &held
				r.Lessons = append(r.Lessons, lesson)
			}
		}
	}

	termStart := monday.AddDate(0, 0, -7*absenceWeeks)
	for i, c := range []struct {
		name, subject string
		day           int
	}{{"Informatik AG", "Informatik", 3}, {"Schulchor", "Musik", 4}} {
		courseID := seedID(schoolID, "course/", i)
		r.Classes = append(r.Classes, models.ClassRow{
			BaseModel: models.BaseModel{ID: courseID},
			SchoolID:  schoolID,
			Name:      c.name,
			Type:      string(models.ClassTypeCourse),
		})
		r.Courses = append(r.Courses, models.CourseRow{
			BaseModel:   models.BaseModel{ID: courseID},
			Name:        c.name,
			Subject:     c.subject,
			TeacherName: teachers[(i+2)%len(teachers)],
			Weekday:     c.day,
			ClassID:     courseID,
			TermStart:   termStart,
		})
		for _, st := range r.Students {
			if rng.Intn(3) != 0 {
				continue
			}
			r.Enrollments = append(r.Enrollments, models.EnrollmentRow{
				BaseModel: models.BaseModel{ID: seedID(schoolID, "enrollment/", courseID, "/", st.ID)},
				CourseID:  courseID,
				StudentID: st.ID,
			})
		}
	}
	return r
}

func seedAbsences(r *database.Rows, rng *rand.Rand, schoolID, studentID, author string, today time.Time) {
	schoolDay := func() time.Time {
		for {
			d := today.AddDate(0, 0, -1-rng.Intn(7*absenceWeeks))
			if weekdayOf(d) <= 5 {
				return d
			}
		}
	}
	excuse := func(itemType, itemID string, date time.Time) (*string, string, *time.Time) {
		at := date.Add(32 * time.Hour)
		text := reasons[rng.Intn(len(reasons))]
		if rng.Intn(4) == 0 {
			r.Edits = append(r.Edits, models.ExcuseEditRow{
				BaseModel:    models.BaseModel{ID: seedID(schoolID, "edit/", itemID)},
				ItemID:       itemID,
				ItemType:     itemType,
				EditorName:   author,
				EditedAt:     at.Add(2 * time.Hour),
				PreviousText: utils.StringPtr(text),
			})
			text = reasons[rng.Intn(len(reasons))] + " (Attest liegt vor)"
		}
		return utils.StringPtr(text), author, &at
	}

	n := rng.Intn(4) + rng.Intn(6)
	for i := 0; i < n; i++ {
		id := seedID(schoolID, "absence/", studentID, "/", i)
		wholeDay := rng.Intn(3) == 0
		row := models.AbsenceRow{
			BaseModel: models.BaseModel{ID: id},
			StudentID: studentID,
			Date:      schoolDay(),
			Subject:   subjects[rng.Intn(len(subjects))].name,
			WholeDay:  wholeDay,
			Minutes:   models.LessonMinutes,
		}
		if wholeDay {
			row.Subject = ""
			row.Minutes = models.FullDayMinutes
		}
		if rng.Intn(100) < 60 {
			row.Excused = true
			row.ExcuseText, row.ExcuseCreatedBy, row.ExcuseCreatedAt = excuse(string(models.ItemAbsence), id, row.Date)
		}
		r.Absences = append(r.Absences, row)
	}

	n = rng.Intn(5)
	for i := 0; i < n; i++ {
		id := seedID(schoolID, "lateness/", studentID, "/", i)
		row := models.LatenessRow{
			BaseModel: models.BaseModel{ID: id},
			StudentID: studentID,
			Date:      schoolDay(),
			Subject:   subjects[rng.Intn(len(subjects))].name,
			Minutes:   5 + 5*rng.Intn(4),
		}
		if rng.Intn(100) < 40 {
			row.Excused = true
			row.ExcuseText, row.ExcuseCreatedBy, row.ExcuseCreatedAt = excuse(string(models.ItemLateness), id, row.Date)
		}
		r.Lateness = append(r.Lateness, row)
	}
}

// SeedAll writes the demo school into db unless classes already exist.
func SeedAll(ctx context.Context, db *gorm.DB, schoolID string, ref time.Time) error {
	var count int64
	if err := db.WithContext(ctx).Model(&models.ClassRow{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count classes: %w", err)
	}
	if count > 0 {
		logrus.Info("Klassenbuch data already seeded, skipping...")
		return nil
	}

	r := Generate(schoolID, ref)
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, batch := range []struct {
			table string
			rows  interface{}
			n     int
		}{
			{"classes", &r.Classes, len(r.Classes)},
			{"students", &r.Students, len(r.Students)},
			{"lessons", &r.Lessons, len(r.Lessons)},
			{"courses", &r.Courses, len(r.Courses)},
			{"course_enrollments", &r.Enrollments, len(r.Enrollments)},
			{"absences", &r.Absences, len(r.Absences)},
			{"lateness", &r.Lateness, len(r.Lateness)},
			{"excuse_edits", &r.Edits, len(r.Edits)},
		} {
			if batch.n == 0 {
				continue
			}
			if err := tx.CreateInBatches(batch.rows, 100).Error; err != nil {
				return fmt.Errorf("seed %s: %w", batch.table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"classes":  len(r.Classes),
		"students": len(r.Students),
		"absences": len(r.Absences),
		"lateness": len(r.Lateness),
	}).Info("Klassenbuch seeding completed successfully")
	return nil
}

// MemorySource serves generated rows without a database. Committed excuse
// changes are written back into the rows so a refresh keeps them.
type MemorySource struct {
	mu      sync.RWMutex
	rows    database.Rows
	lessons map[string]models.LessonRow
	Now     func() time.Time
}

func NewMemorySource(schoolID string, now time.Time) *MemorySource {
	rows := Generate(schoolID, now)
	lessons := make(map[string]models.LessonRow, len(rows.Lessons))
	for _, l := range rows.Lessons {
		lessons[l.ID] = l
	}
	return &MemorySource{rows: rows, lessons: lessons, Now: time.Now}
}

// Snapshot implements klassenbuch.DataSource.
func (m *MemorySource) Snapshot(_ context.Context) (klassenbuch.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return database.SnapshotFromRows(m.rows, m.Now()), nil
}

// SaveAbsence implements excuse.Persister.
func (m *MemorySource) SaveAbsence(_ context.Context, studentID string, d models.AbsenceDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows.Absences {
		r := &m.rows.Absences[i]
		if r.ID != d.ID || r.StudentID != studentID {
			continue
		}
		r.Date = d.Date
		r.Subject = d.Subject
		r.WholeDay = d.AbsenceType == models.Fehltag
		r.Excused = d.Type == models.Excused
		r.Reason = d.Reason
		r.Minutes = d.Minutes
		r.ExcuseText, r.ExcuseCreatedBy, r.ExcuseCreatedAt = utils.ExcuseColumns(d.ExcuseInfo)
		m.replaceEdits(string(models.ItemAbsence), d.ID, d.ExcuseInfo)
		return nil
	}
	return fmt.Errorf("absence %s: %w", d.ID, gorm.ErrRecordNotFound)
}

// SaveLateness implements excuse.Persister.
func (m *MemorySource) SaveLateness(_ context.Context, studentID string, d models.LatenessDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows.Lateness {
		r := &m.rows.Lateness[i]
		if r.ID != d.ID || r.StudentID != studentID {
			continue
		}
		r.Date = d.Date
		r.Subject = d.Subject
		r.Excused = d.Type == models.Excused
		r.Reason = d.Reason
		r.Minutes = d.Minutes
		r.ExcuseText, r.ExcuseCreatedBy, r.ExcuseCreatedAt = utils.ExcuseColumns(d.ExcuseInfo)
		m.replaceEdits(string(models.ItemLateness), d.ID, d.ExcuseInfo)
		return nil
	}
	return fmt.Errorf("lateness %s: %w", d.ID, gorm.ErrRecordNotFound)
}

// replaceEdits swaps the edit rows of one item for its current history.
func (m *MemorySource) replaceEdits(itemType, itemID string, info *models.ExcuseInfo) {
	kept := m.rows.Edits[:0:0]
	for _, e := range m.rows.Edits {
		if e.ItemType != itemType || e.ItemID != itemID {
			kept = append(kept, e)
		}
	}
	for _, e := range utils.EditRows(itemID, itemType, info) {
		e.ID = uuid.NewString()
		kept = append(kept, e)
	}
	m.rows.Edits = kept
}

// LessonAttendance implements klassenbuch.DataSource.
func (m *MemorySource) LessonAttendance(_ context.Context, lessonID string) (klassenbuch.LessonAttendance, error) {
	l, ok := m.lessons[lessonID]
	if !ok {
		return klassenbuch.LessonAttendance{}, fmt.Errorf("lesson %s: %w", lessonID, gorm.ErrRecordNotFound)
	}
	past, ongoing := utils.LessonTiming(l, m.Now())
	return klassenbuch.LessonAttendance{IsPast: past, IsOngoing: ongoing, Recorded: l.RecordedCount, Expected: l.ExpectedCount}, nil
}
