package klassenbuch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"klassenbuch_go/models"
	"klassenbuch_go/services/grid"
	"klassenbuch_go/services/statistics"
	"klassenbuch_go/services/store"

	"github.com/sirupsen/logrus"
)

// TeacherScheduleID selects the timetable of the requesting teacher instead of
// a class.
const TeacherScheduleID = "teacher"

var (
	ErrStaleRefresh = errors.New("refresh superseded by a newer one")
	// ErrRefreshConflict means statistics kept changing while a refresh was
	// fetching, so its result was dropped to keep those changes.
	ErrRefreshConflict = errors.New("statistics changed during refresh")
)

// refreshAttempts bounds the refetches after a concurrent store write.
const refreshAttempts = 3

// LessonAttendance is the recording state of one lesson.
type LessonAttendance struct {
	IsPast    bool
	IsOngoing bool
	Recorded  int
	Expected  int
}

// DataSource is the hosted database collaborator.
type DataSource interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	LessonAttendance(ctx context.Context, lessonID string) (LessonAttendance, error)
}

// Service answers the read queries of the Klassenbuch views. Statistics are
// kept in the store; everything else is replaced as a whole on refresh.
type Service struct {
	source DataSource
	store  *store.Store
	grid   grid.Source
	Weeks  int
	Now    func() time.Time

	mu  sync.RWMutex
	dir *directory

	started uint64
}

func NewService(source DataSource, st *store.Store, gridSource grid.Source) *Service {
	return &Service{
		source: source,
		store:  st,
		grid:   gridSource,
		Weeks:  grid.DefaultWeeks,
		Now:    time.Now,
		dir:    &directory{},
	}
}

func (s *Service) Store() *store.Store { return s.store }

// Refresh reloads everything from the data source and re-derives all
// statistics from their detail lists. If another refresh started while this one
// was fetching, this result is discarded with ErrStaleRefresh. If the store was
// written during the fetch, the fetch is repeated so the write is not lost.
func (s *Service) Refresh(ctx context.Context) error {
	gen := atomic.AddUint64(&s.started, 1)

	for attempt := 1; ; attempt++ {
		version := s.store.Version()
		snap, err := s.source.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("refresh klassenbuch: %w", err)
		}
		dir, err := newDirectory(snap)
		if err != nil {
			return fmt.Errorf("refresh klassenbuch: %w", err)
		}
		stats := buildStatistics(dir, snap.Statistics)

		s.mu.Lock()
		if atomic.LoadUint64(&s.started) != gen {
			s.mu.Unlock()
			return ErrStaleRefresh
		}
		if !s.store.ReplaceIf(stats, version) {
			s.mu.Unlock()
			if attempt == refreshAttempts {
				return ErrRefreshConflict
			}
			logrus.WithField("attempt", attempt).Debug("Statistics changed during refresh, fetching again")
			continue
		}
		s.dir = dir
		s.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"classes":  len(dir.classes),
			"students": len(dir.students),
			"lessons":  len(dir.lessons),
			"courses":  len(dir.courses),
		}).Info("Klassenbuch data refreshed")
		return nil
	}
}

// buildStatistics gives every student exactly one recomputed record.
func buildStatistics(dir *directory, loaded []models.StudentStatistics) []models.StudentStatistics {
	byID := make(map[string]models.StudentStatistics, len(loaded))
	for _, st := range loaded {
		byID[st.ID] = st
	}
	out := make([]models.StudentStatistics, 0, len(dir.students))
	for _, student := range dir.students {
		st, ok := byID[student.ID]
		if !ok {
			st = models.StudentStatistics{ID: student.ID}
		}
		st = st.Clone()
		st.Name = student.Name
		st.ClassID = student.ClassID
		statistics.Recompute(&st)
		out = append(out, st)
	}
	return out
}

// RefreshAttendance re-derives the attendance badge of one lesson. ok is false
// when the lesson is unknown.
func (s *Service) RefreshAttendance(ctx context.Context, lessonID string) (models.Lesson, bool, error) {
	s.mu.RLock()
	_, known := s.dir.lessonIndex[lessonID]
	s.mu.RUnlock()
	if !known {
		return models.Lesson{}, false, nil
	}

	att, err := s.source.LessonAttendance(ctx, lessonID)
	if err != nil {
		return models.Lesson{}, true, fmt.Errorf("refresh attendance for lesson %s: %w", lessonID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.dir.lessonIndex[lessonID]
	if !ok {
		return models.Lesson{}, false, nil
	}
	l := &s.dir.lessons[i]
	l.IsPast, l.IsOngoing = att.IsPast, att.IsOngoing
	l.AttendanceStatus = models.DeriveAttendanceStatus(att.IsPast, att.IsOngoing, att.Recorded, att.Expected)
	return *l, true, nil
}

// LessonClass returns the class a lesson belongs to.
func (s *Service) LessonClass(lessonID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.dir.lessonIndex[lessonID]
	if !ok {
		return "", false
	}
	return s.dir.lessons[i].ClassID, true
}

func (s *Service) Classes() []models.ClassOption {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ClassOption(nil), s.dir.classes...)
}

func (s *Service) GetStudentsForClass(classID string) []models.Student {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Student{}, s.dir.studentsByClass[classID]...)
}

// GetTimetableForClass returns the lessons of a class ordered by day and
// period. For TeacherScheduleID it returns the lessons taught by actor.
func (s *Service) GetTimetableForClass(classID string, actor models.Actor) []models.Lesson {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Lesson{}
	for _, l := range s.dir.lessons {
		if classID == TeacherScheduleID {
			if actor.Name != "" && (l.Teacher == actor.Name || l.OriginalTeacher == actor.Name) {
				out = append(out, l)
			}
			continue
		}
		if l.ClassID == classID {
			out = append(out, l)
		}
	}
	return out
}

func (s *Service) GetStudentStatisticsForClass(classID string) []models.StudentStatistics {
	return s.store.List(store.Filter{ClassID: classID})
}

func (s *Service) GetAllStudentStatistics() []models.StudentStatistics {
	return s.store.List(store.Filter{})
}

func (s *Service) GetStudentStatistics(studentID string) (models.StudentStatistics, bool) {
	return s.store.Get(studentID)
}

func (s *Service) GetClassSummary(classID string) statistics.Summary {
	return statistics.ClassSummary(s.GetStudentStatisticsForClass(classID))
}

// GetSubjectBreakdown counts a student's fehlstunden per subject.
func (s *Service) GetSubjectBreakdown(studentID string) ([]models.SubjectCount, bool) {
	st, ok := s.store.Get(studentID)
	if !ok {
		return []models.SubjectCount{}, false
	}
	out := statistics.SubjectBreakdown(st.AbsenceDetails)
	if out == nil {
		out = []models.SubjectCount{}
	}
	return out, true
}

// GetCourseStudentsForCourse returns enrolled students in enrollment order.
func (s *Service) GetCourseStudentsForCourse(courseID string) []models.Student {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Student{}
	for _, id := range s.dir.enrollments[courseID] {
		if st, ok := s.dir.studentByID[id]; ok {
			out = append(out, st)
		}
	}
	return out
}

func (s *Service) course(id string) (models.Course, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.dir.courseByID[id]; ok {
		return c, true
	}
	for _, c := range s.dir.courses {
		if c.ClassID == id {
			return c, true
		}
	}
	return models.Course{}, false
}

// GetCourseDataForClass builds the attendance grid of a course, addressed by
// course id or by the class option it is listed under. ok is false for an
// unknown id; err reports a failing grid source.
func (s *Service) GetCourseDataForClass(ctx context.Context, id string) (models.CourseAttendanceData, bool, error) {
	c, ok := s.course(id)
	if !ok {
		return models.CourseAttendanceData{}, false, nil
	}
	ref := c.TermStart
	if ref.IsZero() {
		ref = s.Now()
	}
	weeks := s.Weeks
	if weeks <= 0 {
		weeks = grid.DefaultWeeks
	}
	data, err := grid.Build(ctx, c, s.GetCourseStudentsForCourse(c.ID), weeks, ref, s.grid)
	if err != nil {
		return models.CourseAttendanceData{}, true, err
	}
	return data, true, nil
}

// SearchStudents matches query case-insensitively against student names. An
// empty query matches nothing.
func (s *Service) SearchStudents(query string) []models.Student {
	q := strings.ToLower(strings.TrimSpace(query))
	out := []models.Student{}
	if q == "" {
		return out
	}
	s.mu.RLock()
	for _, st := range s.dir.students {
		if strings.Contains(strings.ToLower(st.Name), q) {
			out = append(out, st)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Heal verifies every stored record and recomputes those whose counters
// diverged. It returns the ids that were repaired.
func (s *Service) Heal() []string {
	return s.heal(s.store.IDs())
}

func (s *Service) heal(ids []string) []string {
	var healed []string
	for _, id := range ids {
		current, ok := s.store.Get(id)
		if ok && statistics.Verify(current) == nil {
			continue
		}
		var err error
		if ok {
			_, err = s.store.Update(id, func(st *models.StudentStatistics) error {
				if err := statistics.Verify(*st); err != nil {
					logrus.WithField("student_id", id).WithError(err).Warn("Healing diverged statistics")
					statistics.Recompute(st)
					healed = append(healed, id)
				}
				return nil
			})
		}
		if !ok || errors.Is(err, store.ErrNotFound) {
			logrus.WithField("student_id", id).Debug("Student removed by a refresh before it was verified")
		}
	}
	return healed
}
