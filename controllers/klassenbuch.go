package controllers

import (
	"context"
	"errors"
	"time"

	"klassenbuch_go/middleware"
	"klassenbuch_go/models"
	"klassenbuch_go/services/klassenbuch"
	"klassenbuch_go/services/reports"
	"klassenbuch_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// KlassenbuchController serves the read side of the Klassenbuch views.
type KlassenbuchController struct {
	svc      *klassenbuch.Service
	archiver *reports.Archiver
}

func NewKlassenbuchController(svc *klassenbuch.Service, archiver *reports.Archiver) *KlassenbuchController {
	return &KlassenbuchController{svc: svc, archiver: archiver}
}

func (kc *KlassenbuchController) class(id string) (models.ClassOption, bool) {
	for _, c := range kc.svc.Classes() {
		if c.ID == id {
			return c, true
		}
	}
	return models.ClassOption{}, false
}

// GetClasses returns the selector entries for ?view=live|statistics&type=class|student|course
func (kc *KlassenbuchController) GetClasses(c *fiber.Ctx) error {
	view, err := klassenbuch.ParseView(c.Query("view"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	mode, err := klassenbuch.ParseStatisticsViewType(c.Query("type"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"classes": klassenbuch.GetFilteredClassesForView(kc.svc.Classes(), view, mode),
		"view":    view,
		"type":    mode,
	})
}

// GetStudents returns the students of a class
func (kc *KlassenbuchController) GetStudents(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"students": kc.svc.GetStudentsForClass(c.Params("id"))})
}

// GetTimetable returns the lessons of a class, or of the caller for the
// teacher schedule entry.
func (kc *KlassenbuchController) GetTimetable(c *fiber.Ctx) error {
	actor, err := middleware.GetCurrentActor(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"lessons": kc.svc.GetTimetableForClass(c.Params("id"), actor)})
}

// GetClassStatistics returns per-student statistics and the class summary
func (kc *KlassenbuchController) GetClassStatistics(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, ok := kc.class(id); !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Class not found"})
	}
	stats := kc.svc.GetStudentStatisticsForClass(id)
	return c.JSON(fiber.Map{
		"statistics": utils.ToStudentStatisticsDTOs(stats),
		"summary":    kc.svc.GetClassSummary(id),
	})
}

// GetAllStatistics returns every student's statistics
func (kc *KlassenbuchController) GetAllStatistics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"statistics": utils.ToStudentStatisticsDTOs(kc.svc.GetAllStudentStatistics())})
}

// SearchStudents backs the student mode search box
func (kc *KlassenbuchController) SearchStudents(c *fiber.Ctx) error {
	q := utils.SanitizeString(c.Query("q"))
	return c.JSON(fiber.Map{"students": kc.svc.SearchStudents(q)})
}

func (kc *KlassenbuchController) GetStudentStatistics(c *fiber.Ctx) error {
	st, ok := kc.svc.GetStudentStatistics(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Student not found"})
	}
	return c.JSON(fiber.Map{"statistics": utils.ToStudentStatisticsDTO(st)})
}

func (kc *KlassenbuchController) GetSubjectBreakdown(c *fiber.Ctx) error {
	subjects, ok := kc.svc.GetSubjectBreakdown(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Student not found"})
	}
	return c.JSON(fiber.Map{"subjects": subjects})
}

// GetCourse returns the attendance grid of a course
func (kc *KlassenbuchController) GetCourse(c *fiber.Ctx) error {
	data, ok, err := kc.svc.GetCourseDataForClass(c.UserContext(), c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Course not found"})
	}
	if err != nil {
		logrus.WithError(err).WithField("course_id", c.Params("id")).Error("Failed to build course grid")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to build course grid"})
	}
	if c.Query("format") == "xlsx" {
		f, err := reports.CourseGrid(data)
		if err != nil {
			return err
		}
		return sendWorkbook(c, f, data.Course.Name+".xlsx")
	}
	return c.JSON(fiber.Map{"course": utils.ToCourseGridDTO(data)})
}

func (kc *KlassenbuchController) GetCourseStudents(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"students": kc.svc.GetCourseStudentsForCourse(c.Params("id"))})
}

// Refresh reloads everything from the data source
func (kc *KlassenbuchController) Refresh(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), time.Minute)
	defer cancel()
	err := kc.svc.Refresh(ctx)
	if errors.Is(err, klassenbuch.ErrStaleRefresh) {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "Superseded by a newer refresh"})
	}
	if errors.Is(err, klassenbuch.ErrRefreshConflict) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Statistics changed during refresh, try again"})
	}
	if err != nil {
		logrus.WithError(err).Error("Manual refresh failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Failed to refresh data"})
	}
	return c.JSON(fiber.Map{
		"message":  "Refreshed",
		"students": kc.svc.Store().Len(),
	})
}

// ExportClassStatistics downloads the class statistics as xlsx
func (kc *KlassenbuchController) ExportClassStatistics(c *fiber.Ctx) error {
	class, ok := kc.class(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Class not found"})
	}
	f, err := reports.ClassStatistics(kc.svc.GetStudentStatisticsForClass(class.ID))
	if err != nil {
		return err
	}
	return sendWorkbook(c, f, reports.FileName(class.Name, time.Now()))
}

// ArchiveClassStatistics uploads the class statistics workbook to S3
func (kc *KlassenbuchController) ArchiveClassStatistics(c *fiber.Ctx) error {
	if kc.archiver == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Report storage not configured"})
	}
	class, ok := kc.class(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Class not found"})
	}
	rec, err := kc.archiver.Archive(c.UserContext(), class.ID, class.Name, kc.svc.GetStudentStatisticsForClass(class.ID))
	if err != nil {
		logrus.WithError(err).WithField("class_id", class.ID).Error("Failed to archive statistics")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Failed to archive statistics", "archive": rec})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"archive": rec})
}
