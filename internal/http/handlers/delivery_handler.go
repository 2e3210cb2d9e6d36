// README: Driver session handlers: focus/blur, active order, step transitions, navigation, completion and cancellation.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"courier/internal/http/middleware"
	"courier/internal/modules/delivery"
	"courier/internal/modules/navigation"
	"courier/internal/types"
)

type DeliveryHandler struct {
	sessions *delivery.Registry
}

func NewDeliveryHandler(sessions *delivery.Registry) *DeliveryHandler {
	return &DeliveryHandler{sessions: sessions}
}

// session resolves the caller's focused session, answering 409 when there is none.
func (h *DeliveryHandler) session(c *gin.Context) (*delivery.Session, bool) {
	s, ok := h.sessions.Get(middleware.DriverID(c))
	if !ok {
		writeDeliveryError(c, delivery.ErrNotFocused)
		return nil, false
	}
	return s, true
}

type focusRequest struct {
	OrderID string `json:"order_id"`
}

func (h *DeliveryHandler) Focus(c *gin.Context) {
	var req focusRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid body")
		return
	}
	var hint *types.ID
	if req.OrderID != "" {
		if !isValidID(req.OrderID) {
			writeError(c, http.StatusBadRequest, "invalid order_id")
			return
		}
		id := types.ID(req.OrderID)
		hint = &id
	}
	s := h.sessions.Open(middleware.DriverID(c))
	v, err := s.Controller.Focus(c.Request.Context(), hint)
	writeView(c, v, err)
}

func (h *DeliveryHandler) Blur(c *gin.Context) {
	h.sessions.Close(middleware.DriverID(c))
	writeJSON(c, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *DeliveryHandler) Active(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, s.Controller.View(c.Request.Context()))
}

func (h *DeliveryHandler) Refresh(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	v, err := s.Controller.Refresh(c.Request.Context())
	writeView(c, v, err)
}

func (h *DeliveryHandler) HeadingToMerchant(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	v, err := s.Controller.StartHeadingToMerchant(c.Request.Context())
	writeView(c, v, err)
}

func (h *DeliveryHandler) PickedUp(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	v, err := s.Controller.MarkPickedUp(c.Request.Context())
	writeView(c, v, err)
}

func (h *DeliveryHandler) HeadingToCustomer(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	v, err := s.Controller.StartHeadingToCustomer(c.Request.Context())
	writeView(c, v, err)
}

// navigateRequest carries the URL schemes the device can open; the server picks the handler.
type navigateRequest struct {
	Target   string   `json:"target"`
	Platform string   `json:"platform"`
	Schemes  []string `json:"schemes"`
}

func parsePlatform(v string) (navigation.Platform, bool) {
	switch navigation.Platform(v) {
	case "":
		return navigation.PlatformWeb, true
	case navigation.PlatformIOS, navigation.PlatformAndroid, navigation.PlatformWeb:
		return navigation.Platform(v), true
	}
	return "", false
}

func (h *DeliveryHandler) bindNavigate(c *gin.Context) (navigateRequest, navigation.Platform, bool) {
	var req navigateRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid body")
		return req, "", false
	}
	platform, ok := parsePlatform(req.Platform)
	if !ok {
		writeError(c, http.StatusBadRequest, "invalid platform")
		return req, "", false
	}
	if len(req.Schemes) == 0 {
		req.Schemes = []string{"https"}
	}
	return req, platform, true
}

func (h *DeliveryHandler) ConfirmNavigation(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	req, platform, ok := h.bindNavigate(c)
	if !ok {
		return
	}
	handoff, err := s.Controller.ConfirmNavigation(c.Request.Context(), platform, navigation.NewSchemeOpener(req.Schemes))
	if err != nil {
		writeDeliveryError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, handoff)
}

func (h *DeliveryHandler) DismissNavigation(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Controller.DismissNavigation(); err != nil {
		writeDeliveryError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s.Controller.View(c.Request.Context()))
}

func (h *DeliveryHandler) Navigate(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	req, platform, ok := h.bindNavigate(c)
	if !ok {
		return
	}
	handoff, err := s.Controller.Navigate(c.Request.Context(), navigation.Target(req.Target), platform, navigation.NewSchemeOpener(req.Schemes))
	if err != nil {
		writeDeliveryError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, handoff)
}

// RequestCompletion starts the hold; the client confirms once the driver has held long enough.
func (h *DeliveryHandler) RequestCompletion(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	conf, err := s.Controller.RequestCompletion()
	if err != nil {
		writeDeliveryError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, conf)
}

func (h *DeliveryHandler) ConfirmCompletion(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	res, err := s.Controller.ConfirmCompletion(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeDeliveryError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *DeliveryHandler) ReleaseCompletion(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Controller.ReleaseCompletion(c.Param("id")); err != nil {
		writeDeliveryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *DeliveryHandler) Cancel(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req cancelRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid body")
		return
	}
	res, err := s.Controller.Cancel(c.Request.Context(), req.Reason)
	if err != nil {
		writeDeliveryError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}
