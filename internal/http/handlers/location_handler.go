// README: Location handlers; the driver app reports permission changes and device fixes here.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"courier/internal/http/middleware"
	"courier/internal/modules/delivery"
	"courier/internal/modules/location"
	"courier/internal/types"
)

type LocationHandler struct {
	sessions *delivery.Registry
}

func NewLocationHandler(sessions *delivery.Registry) *LocationHandler {
	return &LocationHandler{sessions: sessions}
}

type permissionRequest struct {
	Status string `json:"status" binding:"required"`
}

// Permission records the device's answer and retries tracking with it.
func (h *LocationHandler) Permission(c *gin.Context) {
	var req permissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "status is required")
		return
	}
	p, ok := location.ParsePermission(req.Status)
	if !ok {
		writeError(c, http.StatusBadRequest, "invalid status")
		return
	}
	s, ok := h.sessions.Get(middleware.DriverID(c))
	if !ok {
		writeDeliveryError(c, delivery.ErrNotFocused)
		return
	}
	if s.Location != nil {
		s.Location.ReportPermission(p)
	}
	if s.Probe != nil {
		s.Probe.Forget()
	}
	s.Controller.ResumeTracking(c.Request.Context())
	writeJSON(c, http.StatusOK, s.Controller.View(c.Request.Context()))
}

type fixRequest struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

func (h *LocationHandler) Fix(c *gin.Context) {
	var req fixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	if *req.Lat < -90 || *req.Lat > 90 || *req.Lng < -180 || *req.Lng > 180 {
		writeError(c, http.StatusBadRequest, "coordinates out of range")
		return
	}
	s, ok := h.sessions.Get(middleware.DriverID(c))
	if !ok {
		writeDeliveryError(c, delivery.ErrNotFocused)
		return
	}
	if s.Location == nil {
		writeError(c, http.StatusConflict, "location reporting is not enabled for this session")
		return
	}
	s.Location.ReportFix(types.Point{Lat: *req.Lat, Lng: *req.Lng})
	writeJSON(c, http.StatusAccepted, map[string]any{"status": "ok"})
}
