package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"klassenbuch_go/models"
	"klassenbuch_go/services/statistics"
	"klassenbuch_go/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const (
	SheetStatistics = "Statistik"
	SheetDetails    = "Fehlzeiten"
	SheetCourse     = "Kurs"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var statisticsHeader = []interface{}{
	"Name", "Fehltage", "davon entschuldigt", "davon unentschuldigt",
	"Fehlstunden", "davon entschuldigt", "davon unentschuldigt",
	"Verspätung (Min.)", "entschuldigt (Min.)", "unentschuldigt (Min.)", "Anwesenheit (%)",
}

var detailsHeader = []interface{}{"Name", "Datum", "Art", "Fach", "Status", "Minuten", "Entschuldigung", "Erfasst von"}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func boldHeader(f *excelize.File, sheet string, columns int) error {
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(columns, 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", "A", 26)
}

func excuseColumns(info *models.ExcuseInfo) (string, string) {
	if info == nil {
		return "", ""
	}
	return info.Text, info.CreatedBy
}

// ClassStatistics writes one row per student plus a class total, and a second
// sheet listing every absence and lateness.
func ClassStatistics(stats []models.StudentStatistics) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetStatistics); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(SheetDetails); err != nil {
		f.Close()
		return nil, err
	}

	if err := fillStatistics(f, stats); err != nil {
		f.Close()
		return nil, fmt.Errorf("write %s: %w", SheetStatistics, err)
	}
	if err := fillDetails(f, stats); err != nil {
		f.Close()
		return nil, fmt.Errorf("write %s: %w", SheetDetails, err)
	}
	return f, nil
}

func fillStatistics(f *excelize.File, stats []models.StudentStatistics) error {
	if err := setRow(f, SheetStatistics, 1, statisticsHeader); err != nil {
		return err
	}
	for i, s := range stats {
		row := []interface{}{
			s.Name, s.TotalFehltage, s.ExcusedFehltage, s.UnexcusedFehltage,
			s.TotalFehlstunden, s.ExcusedFehlstunden, s.UnexcusedFehlstunden,
			s.TotalMinutes, s.ExcusedLatenessMinutes, s.UnexcusedLatenessMinutes, s.AttendanceRate,
		}
		if err := setRow(f, SheetStatistics, i+2, row); err != nil {
			return err
		}
	}
	sum := statistics.ClassSummary(stats)
	total := []interface{}{
		"Gesamt", sum.TotalFehltage, sum.TotalFehltage - sum.UnexcusedFehltage, sum.UnexcusedFehltage,
		sum.TotalFehlstunden, sum.TotalFehlstunden - sum.UnexcusedFehlstunden, sum.UnexcusedFehlstunden,
		sum.TotalLatenessMinutes, sum.TotalLatenessMinutes - sum.UnexcusedLatenessMinutes, sum.UnexcusedLatenessMinutes,
		sum.AverageAttendanceRate,
	}
	if err := setRow(f, SheetStatistics, len(stats)+2, total); err != nil {
		return err
	}
	return boldHeader(f, SheetStatistics, len(statisticsHeader))
}

func fillDetails(f *excelize.File, stats []models.StudentStatistics) error {
	if err := setRow(f, SheetDetails, 1, detailsHeader); err != nil {
		return err
	}
	row := 2
	for _, s := range stats {
		for _, d := range s.AbsenceDetails {
			kind := "Fehlstunde"
			if d.AbsenceType == models.Fehltag {
				kind = "Fehltag"
			}
			text, by := excuseColumns(d.ExcuseInfo)
			values := []interface{}{s.Name, utils.FormatDate(d.Date), kind, d.Subject, statusLabel(d.Type), d.Minutes, text, by}
			if err := setRow(f, SheetDetails, row, values); err != nil {
				return err
			}
			row++
		}
		for _, d := range s.LatenessDetails {
			text, by := excuseColumns(d.ExcuseInfo)
			values := []interface{}{s.Name, utils.FormatDate(d.Date), "Verspätung", d.Subject, statusLabel(d.Type), d.Minutes, text, by}
			if err := setRow(f, SheetDetails, row, values); err != nil {
				return err
			}
			row++
		}
	}
	return boldHeader(f, SheetDetails, len(detailsHeader))
}

func statusLabel(t models.ExcuseStatus) string {
	if t == models.Excused {
		return "entschuldigt"
	}
	return "unentschuldigt"
}

// CourseGrid writes the dates × students grid of a course with the code
// letters and per-student totals.
func CourseGrid(data models.CourseAttendanceData) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetCourse); err != nil {
		f.Close()
		return nil, err
	}
	header := []interface{}{"Name"}
	for _, d := range data.Dates {
		header = append(header, utils.GridLabel(d))
	}
	header = append(header, "A", "S", "E", "U")
	if err := setRow(f, SheetCourse, 1, header); err != nil {
		f.Close()
		return nil, err
	}
	for i, st := range data.Students {
		row := []interface{}{st.Student.Name}
		for _, e := range st.Attendance {
			row = append(row, e.Code.String())
		}
		row = append(row, st.Totals.Present, st.Totals.Late, st.Totals.Excused, st.Totals.Unexcused)
		if err := setRow(f, SheetCourse, i+2, row); err != nil {
			f.Close()
			return nil, err
		}
	}
	if err := boldHeader(f, SheetCourse, len(header)); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// Bytes serializes and closes f.
func Bytes(f *excelize.File) ([]byte, error) {
	defer f.Close()
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// FileName is the download name of a class export.
func FileName(className string, now time.Time) string {
	return fmt.Sprintf("Fehlzeiten_%s_%s.xlsx", className, now.Format("2006-01-02"))
}

// Uploader stores report files.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Archiver uploads class exports and tracks them in report_archives. The
// database is optional; without it nothing is tracked.
type Archiver struct {
	uploader Uploader
	db       *gorm.DB
	Now      func() time.Time
	Folder   string
}

func NewArchiver(uploader Uploader, db *gorm.DB) *Archiver {
	return &Archiver{uploader: uploader, db: db, Now: time.Now, Folder: "reports/statistics"}
}

// Archive exports stats of one class and uploads the workbook.
func (a *Archiver) Archive(ctx context.Context, classID, className string, stats []models.StudentStatistics) (models.ReportArchive, error) {
	now := a.Now()
	name := FileName(className, now)
	rec := models.ReportArchive{
		BaseModel:   models.BaseModel{ID: uuid.NewString()},
		ClassID:     classID,
		FileName:    name,
		S3Key:       fmt.Sprintf("%s/%s/%s", a.Folder, classID, name),
		RecordCount: len(stats),
		Status:      "pending",
	}
	if raw, err := json.Marshal(statistics.ClassSummary(stats)); err == nil {
		rec.Summary = models.JSON(raw)
	}
	if a.db != nil {
		if err := a.db.WithContext(ctx).Create(&rec).Error; err != nil {
			return rec, fmt.Errorf("create archive record: %w", err)
		}
	}

	body, err := a.build(stats)
	if err == nil {
		rec.FileSize = int64(len(body))
		_, err = a.uploader.Upload(ctx, rec.S3Key, body, ContentType)
	}
	if err != nil {
		rec.Status = "failed"
		rec.Error = err.Error()
	} else {
		rec.Status = "completed"
	}
	if a.db != nil {
		if dbErr := a.db.WithContext(ctx).Save(&rec).Error; dbErr != nil {
			logrus.WithError(dbErr).WithField("archive_id", rec.ID).Error("Failed to update archive record")
		}
	}
	if err != nil {
		return rec, fmt.Errorf("archive statistics of class %s: %w", classID, err)
	}
	logrus.WithFields(logrus.Fields{"class_id": classID, "key": rec.S3Key, "students": len(stats)}).Info("Statistics archived")
	return rec, nil
}

func (a *Archiver) build(stats []models.StudentStatistics) ([]byte, error) {
	f, err := ClassStatistics(stats)
	if err != nil {
		return nil, err
	}
	return Bytes(f)
}

// Open parses an exported workbook.
func Open(body []byte) (*excelize.File, error) {
	return excelize.OpenReader(bytes.NewReader(body))
}
