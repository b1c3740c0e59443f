package handlers

import (
	"net/textproto"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/GurpreetSingh-21/Community-Talk/internal/identity"
)

const localIdentity = "identity"

// fiberCarrier reads credentials from an HTTP request.
type fiberCarrier struct{ c *fiber.Ctx }

func (f fiberCarrier) Header(name string) string { return f.c.Get(name) }
func (f fiberCarrier) Cookie(name string) string { return f.c.Cookies(name) }
func (f fiberCarrier) Query(name string) string  { return f.c.Query(name) }

// wsCarrier reads credentials captured from the upgrade request. Header keys
// are stored in canonical form.
type wsCarrier struct{ c *websocket.Conn }

func (w wsCarrier) Header(name string) string {
	return w.c.Headers(textproto.CanonicalMIMEHeaderKey(name))
}
func (w wsCarrier) Cookie(name string) string { return w.c.Cookies(name) }
func (w wsCarrier) Query(name string) string  { return w.c.Query(name) }

// RequireAuth verifies the request credential and stores the Identity in
// the context locals. Failures go to the error handler as *identity.AuthError.
func (h *Handler) RequireAuth(c *fiber.Ctx) error {
	ident, err := h.auth.Authenticate(h.extractor.Extract(fiberCarrier{c}))
	if err != nil {
		return err
	}
	c.Locals(localIdentity, ident)
	return c.Next()
}

// CurrentIdentity returns the identity RequireAuth attached.
func CurrentIdentity(c *fiber.Ctx) identity.Identity {
	ident, _ := c.Locals(localIdentity).(identity.Identity)
	return ident
}

// upgradeOnly rejects plain HTTP requests on the websocket route.
func upgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
