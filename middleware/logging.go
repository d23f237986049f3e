package middleware

import (
	"strings"
	"time"

	"klassenbuch_go/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const HeaderRequestID = "X-Request-ID"

// RequestID keeps an incoming X-Request-ID or assigns a new one.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals("request_id", id)
		c.Set(HeaderRequestID, id)
		return c.Next()
	}
}

// GetRequestID returns the request id assigned by RequestID.
func GetRequestID(c *fiber.Ctx) string {
	id, _ := c.Locals("request_id").(string)
	return id
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		logrus.WithFields(logrus.Fields{
			"request_id": GetRequestID(c),
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"duration":   time.Since(start).String(),
			"ip":         c.IP(),
			"user_agent": c.Get("User-Agent"),
		}).Info("HTTP Request")

		return err
	}
}

// LogActivityMiddleware writes an audit entry for successful mutations of
// Klassenbuch records, naming the acting teacher.
func LogActivityMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodGet || c.Method() == fiber.MethodHead {
			return c.Next()
		}

		err := c.Next()

		var action string
		switch c.Method() {
		case fiber.MethodPost:
			action = "CREATE"
		case fiber.MethodPut, fiber.MethodPatch:
			action = "UPDATE"
		case fiber.MethodDelete:
			action = "DELETE"
		default:
			return err
		}
		if c.Response().StatusCode() >= 400 {
			return err
		}

		actor, _ := c.Locals("actor").(models.Actor)
		logrus.WithFields(logrus.Fields{
			"request_id": GetRequestID(c),
			"action":     action,
			"resource":   resourceOf(c.Path()),
			"student_id": c.Params("id"),
			"item_id":    c.Params("itemId"),
			"actor_id":   actor.ID,
			"actor":      actor.Name,
			"ip":         c.IP(),
		}).Info("Activity")
		return err
	}
}

// resourceOf returns the last static path segment: /api/klassenbuch/students/s1/excuses -> excuses
func resourceOf(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		p := parts[i]
		switch p {
		case "excuses", "absences", "lateness", "refresh", "archive", "students", "classes":
			return p
		}
	}
	if len(parts) > 0 {
		return parts[len(parts)-1]
	}
	return ""
}
