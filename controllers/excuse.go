package controllers

import (
	"fmt"
	"time"

	"klassenbuch_go/middleware"
	"klassenbuch_go/models"
	"klassenbuch_go/services/excuse"
	"klassenbuch_go/utils"

	"github.com/gofiber/fiber/v2"
)

// ExcuseController exposes the excuse lifecycle. The acting teacher comes
// from the JWT claims.
type ExcuseController struct {
	mgr *excuse.Manager
}

func NewExcuseController(mgr *excuse.Manager) *ExcuseController {
	return &ExcuseController{mgr: mgr}
}

type ConvertExcuseRequest struct {
	ItemID   string `json:"item_id" validate:"required,max=64"`
	ItemType string `json:"item_type" validate:"required,oneof=absence lateness"`
	Text     string `json:"text" validate:"required,max=2000"`
}

type EditExcuseRequest struct {
	Text string `json:"text" validate:"required,max=2000"`
}

type AbsencePatchRequest struct {
	Date        *string `json:"date"`
	Subject     *string `json:"subject" validate:"omitempty,max=100"`
	Reason      *string `json:"reason" validate:"omitempty,max=2000"`
	AbsenceType *string `json:"absence_type" validate:"omitempty,oneof=fehltag fehlstunde"`
	Minutes     *int    `json:"minutes"`
	Type        *string `json:"type" validate:"omitempty,oneof=excused unexcused"`
	ExcuseText  *string `json:"excuse_text" validate:"omitempty,max=2000"`
}

type LatenessPatchRequest struct {
	Date       *string `json:"date"`
	Subject    *string `json:"subject" validate:"omitempty,max=100"`
	Reason     *string `json:"reason" validate:"omitempty,max=2000"`
	Minutes    *int    `json:"minutes"`
	Type       *string `json:"type" validate:"omitempty,oneof=excused unexcused"`
	ExcuseText *string `json:"excuse_text" validate:"omitempty,max=2000"`
}

// parseDate accepts 18.11.2024 and 2024-11-18.
func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{utils.DateLayout, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: date %q", excuse.ErrInvalidInput, s)
}

func sanitized(p *string) *string {
	if p == nil {
		return nil
	}
	return utils.StringPtr(utils.SanitizeString(*p))
}

func excuseStatus(p *string) *models.ExcuseStatus {
	if p == nil {
		return nil
	}
	s := models.ExcuseStatus(*p)
	return &s
}

func (r AbsencePatchRequest) update() (excuse.AbsenceUpdate, error) {
	u := excuse.AbsenceUpdate{
		Subject:    sanitized(r.Subject),
		Reason:     sanitized(r.Reason),
		Minutes:    r.Minutes,
		Type:       excuseStatus(r.Type),
		ExcuseText: sanitized(r.ExcuseText),
	}
	if r.AbsenceType != nil {
		t := models.AbsenceType(*r.AbsenceType)
		u.AbsenceType = &t
	}
	if r.Date != nil {
		d, err := parseDate(*r.Date)
		if err != nil {
			return u, err
		}
		u.Date = &d
	}
	return u, nil
}

func (r LatenessPatchRequest) update() (excuse.LatenessUpdate, error) {
	u := excuse.LatenessUpdate{
		Subject:    sanitized(r.Subject),
		Reason:     sanitized(r.Reason),
		Minutes:    r.Minutes,
		Type:       excuseStatus(r.Type),
		ExcuseText: sanitized(r.ExcuseText),
	}
	if r.Date != nil {
		d, err := parseDate(*r.Date)
		if err != nil {
			return u, err
		}
		u.Date = &d
	}
	return u, nil
}

func itemTypeParam(c *fiber.Ctx) (models.ItemType, error) {
	switch t := models.ItemType(c.Params("itemType")); t {
	case models.ItemAbsence, models.ItemLateness:
		return t, nil
	default:
		return "", fmt.Errorf("%w: item type %q", excuse.ErrInvalidInput, t)
	}
}

// ConvertToExcused handles POST /students/:id/excuses
func (ec *ExcuseController) ConvertToExcused(c *fiber.Ctx) error {
	actor, err := middleware.GetCurrentActor(c)
	if err != nil {
		return err
	}
	var req ConvertExcuseRequest
	if err := bind(c, &req); err != nil {
		return errorResponse(c, err)
	}
	err = ec.mgr.ConvertToExcused(c.UserContext(), c.Params("id"), req.ItemID, models.ItemType(req.ItemType),
		utils.SanitizeString(req.Text), actor)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "Excuse created"})
}

// EditExcuseText handles PUT /students/:id/excuses/:itemType/:itemId
func (ec *ExcuseController) EditExcuseText(c *fiber.Ctx) error {
	actor, err := middleware.GetCurrentActor(c)
	if err != nil {
		return err
	}
	itemType, err := itemTypeParam(c)
	if err != nil {
		return errorResponse(c, err)
	}
	var req EditExcuseRequest
	if err := bind(c, &req); err != nil {
		return errorResponse(c, err)
	}
	err = ec.mgr.EditExcuseText(c.UserContext(), c.Params("id"), c.Params("itemId"), itemType,
		utils.SanitizeString(req.Text), actor)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"message": "Excuse updated"})
}

// DeleteExcuse handles DELETE /students/:id/excuses/:itemType/:itemId
func (ec *ExcuseController) DeleteExcuse(c *fiber.Ctx) error {
	actor, err := middleware.GetCurrentActor(c)
	if err != nil {
		return err
	}
	itemType, err := itemTypeParam(c)
	if err != nil {
		return errorResponse(c, err)
	}
	if err := ec.mgr.DeleteExcuse(c.UserContext(), c.Params("id"), c.Params("itemId"), itemType, actor); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"message": "Excuse deleted"})
}

// UpdateAbsence handles PATCH /students/:id/absences/:itemId
func (ec *ExcuseController) UpdateAbsence(c *fiber.Ctx) error {
	actor, err := middleware.GetCurrentActor(c)
	if err != nil {
		return err
	}
	var req AbsencePatchRequest
	if err := bind(c, &req); err != nil {
		return errorResponse(c, err)
	}
	u, err := req.update()
	if err != nil {
		return errorResponse(c, err)
	}
	if err := ec.mgr.UpdateAbsenceDetails(c.UserContext(), c.Params("id"), c.Params("itemId"), u, actor); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"message": "Absence updated"})
}

// UpdateLateness handles PATCH /students/:id/lateness/:itemId
func (ec *ExcuseController) UpdateLateness(c *fiber.Ctx) error {
	actor, err := middleware.GetCurrentActor(c)
	if err != nil {
		return err
	}
	var req LatenessPatchRequest
	if err := bind(c, &req); err != nil {
		return errorResponse(c, err)
	}
	u, err := req.update()
	if err != nil {
		return errorResponse(c, err)
	}
	if err := ec.mgr.UpdateLatenessDetails(c.UserContext(), c.Params("id"), c.Params("itemId"), u, actor); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"message": "Lateness updated"})
}
