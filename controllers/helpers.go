package controllers

import (
	"errors"
	"fmt"
	"strings"

	"klassenbuch_go/services/excuse"
	"klassenbuch_go/services/reports"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/xuri/excelize/v2"
)

var validate = validator.New()

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, excuse.ErrStudentNotFound), errors.Is(err, excuse.ErrItemNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, excuse.ErrInvalidStateTransition):
		return fiber.StatusConflict
	case errors.Is(err, excuse.ErrInvalidInput), errors.As(err, &verrs):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

// errorResponse writes err with its mapped status. Internal errors are not
// echoed to clients.
func errorResponse(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		msg = "Internal server error"
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msg = validationMessage(verrs)
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func validationMessage(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" failed "+fe.Tag())
	}
	return "Validation failed: " + strings.Join(parts, ", ")
}

// bind parses the JSON body into dst and validates its tags.
func bind(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", excuse.ErrInvalidInput)
	}
	return validate.Struct(dst)
}

func sendWorkbook(c *fiber.Ctx, f *excelize.File, name string) error {
	body, err := reports.Bytes(f)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, reports.ContentType)
	c.Attachment(name)
	return c.Send(body)
}
