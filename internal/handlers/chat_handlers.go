package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/GurpreetSingh-21/Community-Talk/internal/chat"
	"github.com/GurpreetSingh-21/Community-Talk/internal/identity"
	"github.com/GurpreetSingh-21/Community-Talk/internal/messaging"
	"github.com/GurpreetSingh-21/Community-Talk/internal/presence"
)

// Handler serves the HTTP and websocket routes.
type Handler struct {
	messages  *messaging.Service
	registry  *presence.Registry
	gateway   *chat.Gateway
	auth      chat.Authenticator
	extractor identity.Extractor
	logger    *zap.Logger
}

func New(messages *messaging.Service, registry *presence.Registry, gateway *chat.Gateway, auth chat.Authenticator, extractor identity.Extractor, logger *zap.Logger) *Handler {
	return &Handler{
		messages:  messages,
		registry:  registry,
		gateway:   gateway,
		auth:      auth,
		extractor: extractor,
		logger:    logger.Named("http"),
	}
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r fiber.Router) {
	r.Get("/ws", upgradeOnly, websocket.New(h.ServeWS))

	api := r.Group("/api", h.RequireAuth)

	api.Post("/messages", h.CreateGroupMessage)
	api.Get("/messages/:communityId", h.GroupHistory)

	api.Post("/direct-messages", h.CreateDirectMessage)
	api.Get("/direct-messages", h.Conversations)
	api.Get("/direct-messages/:memberId", h.DirectHistory)

	api.Get("/online", h.ListOnline)
	api.Get("/presence/communities/:communityId", h.CommunityPresence)
	api.Get("/presence/:userId", h.UserPresence)
}

// ServeWS GET /ws?token=&communities=a,b
func (h *Handler) ServeWS(c *websocket.Conn) {
	if err := h.gateway.Serve(c, wsCarrier{c}); err != nil {
		h.logger.Debug("websocket session refused", zap.Error(err))
	}
}

type groupMessageRequest struct {
	CommunityID string `json:"communityId"`
	Content     string `json:"content"`
}

// CreateGroupMessage POST /api/messages
func (h *Handler) CreateGroupMessage(c *fiber.Ctx) error {
	var req groupMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed body")
	}
	msg, err := h.messages.SendGroupMessage(c.UserContext(), CurrentIdentity(c), req.CommunityID, req.Content)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// GroupHistory GET /api/messages/:communityId
func (h *Handler) GroupHistory(c *fiber.Ctx) error {
	history, err := h.messages.GroupHistory(c.UserContext(), c.Params("communityId"))
	if err != nil {
		return err
	}
	return c.JSON(history)
}

type directMessageRequest struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

// CreateDirectMessage POST /api/direct-messages
func (h *Handler) CreateDirectMessage(c *fiber.Ctx) error {
	var req directMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed body")
	}
	msg, err := h.messages.SendDirectMessage(c.UserContext(), CurrentIdentity(c), req.To, req.Content)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// DirectHistory GET /api/direct-messages/:memberId
func (h *Handler) DirectHistory(c *fiber.Ctx) error {
	history, err := h.messages.DirectHistory(c.UserContext(), CurrentIdentity(c), c.Params("memberId"))
	if err != nil {
		return err
	}
	return c.JSON(history)
}

// Conversations GET /api/direct-messages
func (h *Handler) Conversations(c *fiber.Ctx) error {
	convs, err := h.messages.Conversations(c.UserContext(), CurrentIdentity(c))
	if err != nil {
		return err
	}
	return c.JSON(convs)
}
