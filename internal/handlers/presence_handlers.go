package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

type userPresence struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// UserPresence GET /api/presence/:userId
func (h *Handler) UserPresence(c *fiber.Ctx) error {
	userID := c.Params("userId")
	out := userPresence{UserID: userID, Online: h.registry.IsOnline(userID)}
	if seen, ok := h.registry.LastSeen(userID); ok {
		out.LastSeen = &seen
	}
	return c.JSON(out)
}

// CommunityPresence GET /api/presence/communities/:communityId
func (h *Handler) CommunityPresence(c *fiber.Ctx) error {
	communityID := c.Params("communityId")
	return c.JSON(fiber.Map{
		"communityId": communityID,
		"users":       h.registry.ListOnlineInCommunity(communityID),
	})
}

// ListOnline GET /api/online
func (h *Handler) ListOnline(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"users": h.registry.ListOnline()})
}
