package klassenbuch

import (
	"errors"
	"fmt"
	"sort"

	"klassenbuch_go/models"
	"klassenbuch_go/services/grid"
)

var ErrDuplicateLessonSlot = errors.New("duplicate lesson slot")

// Snapshot is everything a full refresh loads from the data source. Statistics
// carry detail lists and TotalLessons; their counters are re-derived on load.
type Snapshot struct {
	Classes     []models.ClassOption
	Students    []models.Student
	Lessons     []models.Lesson
	Courses     []models.Course
	Enrollments map[string][]string // course id -> student ids
	Statistics  []models.StudentStatistics
}

// directory is the immutable lookup side of a snapshot.
type directory struct {
	classes         []models.ClassOption
	students        []models.Student
	studentByID     map[string]models.Student
	studentsByClass map[string][]models.Student
	lessons         []models.Lesson
	lessonIndex     map[string]int
	courses         []models.Course
	courseByID      map[string]models.Course
	enrollments     map[string][]string
}

type slot struct {
	classID string
	day     string
	period  int
}

func newDirectory(snap Snapshot) (*directory, error) {
	d := &directory{
		classes:         append([]models.ClassOption(nil), snap.Classes...),
		students:        append([]models.Student(nil), snap.Students...),
		studentByID:     make(map[string]models.Student, len(snap.Students)),
		studentsByClass: make(map[string][]models.Student),
		lessonIndex:     make(map[string]int, len(snap.Lessons)),
		courseByID:      make(map[string]models.Course, len(snap.Courses)),
		courses:         append([]models.Course(nil), snap.Courses...),
		enrollments:     make(map[string][]string, len(snap.Enrollments)),
	}

	for _, st := range d.students {
		d.studentByID[st.ID] = st
		d.studentsByClass[st.ClassID] = append(d.studentsByClass[st.ClassID], st)
	}

	seen := make(map[slot]string, len(snap.Lessons))
	d.lessons = make([]models.Lesson, 0, len(snap.Lessons))
	for _, l := range snap.Lessons {
		key := slot{classID: l.ClassID, day: l.Day, period: l.Period}
		if other, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: lessons %s and %s share class %s, %s period %d",
				ErrDuplicateLessonSlot, other, l.ID, l.ClassID, l.Day, l.Period)
		}
		seen[key] = l.ID
		d.lessons = append(d.lessons, l)
	}
	sort.SliceStable(d.lessons, func(i, j int) bool {
		a, b := d.lessons[i], d.lessons[j]
		if da, db := dayIndex(a.Day), dayIndex(b.Day); da != db {
			return da < db
		}
		return a.Period < b.Period
	})
	for i, l := range d.lessons {
		d.lessonIndex[l.ID] = i
	}

	for _, c := range d.courses {
		d.courseByID[c.ID] = c
	}
	for id, members := range snap.Enrollments {
		d.enrollments[id] = append([]string(nil), members...)
	}
	return d, nil
}

func dayIndex(day string) int {
	wd, err := grid.Weekday(day)
	if err != nil {
		return 7
	}
	return int(wd)
}
