package controllers

import (
	"klassenbuch_go/services/realtime"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// RealtimeController lets the attendance and diary clients announce row
// changes of a lesson to every subscribed instance.
type RealtimeController struct {
	bus      realtime.Bus
	schoolID string
}

func NewRealtimeController(bus realtime.Bus, schoolID string) *RealtimeController {
	return &RealtimeController{bus: bus, schoolID: schoolID}
}

type PublishChangesRequest struct {
	LessonID string           `json:"lesson_id" validate:"required,max=64"`
	Payload  realtime.Payload `json:"payload"`
}

// PublishChanges handles POST /api/klassenbuch/changes
func (rc *RealtimeController) PublishChanges(c *fiber.Ctx) error {
	var req PublishChangesRequest
	if err := bind(c, &req); err != nil {
		return errorResponse(c, err)
	}
	scope := realtime.ScopeFor(req.Payload)
	if scope == realtime.ScopeNone {
		return c.JSON(fiber.Map{"scope": scope.String()})
	}
	key := realtime.Key{SchoolID: rc.schoolID, LessonID: req.LessonID}
	if err := rc.bus.Publish(c.UserContext(), key, req.Payload); err != nil {
		logrus.WithError(err).WithField("lesson_id", req.LessonID).Error("Failed to publish changes")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Failed to publish changes"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"scope": scope.String()})
}
