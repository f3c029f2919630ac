package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"phonewatch-service/internal/domain/monitor"
	"phonewatch-service/internal/service"
)

// CameraController is the part of the capture loop the API drives.
type CameraController interface {
	Start()
	Stop()
	Status() monitor.StatusSnapshot
	LastFrame() (monitor.Frame, bool)
}

// DeviceLister enumerates attached capture devices.
type DeviceLister interface {
	RefreshDevices() []monitor.DeviceInfo
}

type Handler struct {
	monitorService *service.MonitorService
	controller     CameraController
	devices        DeviceLister
	detectionsDir  string
	log            zerolog.Logger
}

func NewHandler(
	monitorService *service.MonitorService,
	controller CameraController,
	devices DeviceLister,
	detectionsDir string,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		monitorService: monitorService,
		controller:     controller,
		devices:        devices,
		detectionsDir:  detectionsDir,
		log:            log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.POST("/api/login", h.login)

	protected := r.Group("/api")
	protected.Use(authMiddleware)
	{
		protected.POST("/camera/start", h.startCamera)
		protected.POST("/camera/stop", h.stopCamera)
		protected.GET("/camera/status", h.cameraStatus)
		protected.GET("/camera/snapshot", h.cameraSnapshot)
		protected.GET("/camera/devices", h.listDevices)

		protected.GET("/settings", h.getSettings)
		protected.POST("/settings", h.updateSettings)
		protected.POST("/settings/roi", h.updateZones)

		protected.GET("/detections", h.listDetections)
		protected.DELETE("/detections/:id", h.deleteDetection)
		protected.GET("/dashboard-stats", h.dashboardStats)
	}

	files := r.Group("/detections")
	files.Use(authMiddleware)
	files.Static("/", h.detectionsDir)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	token, err := h.monitorService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, errorResponse("invalid credentials"))
			return
		}
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *Handler) startCamera(c *gin.Context) {
	h.controller.Start()
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (h *Handler) stopCamera(c *gin.Context) {
	h.controller.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *Handler) cameraStatus(c *gin.Context) {
	status := h.controller.Status()
	c.JSON(http.StatusOK, gin.H{
		"is_running":         status.IsRunning,
		"is_within_schedule": status.IsWithinSchedule,
	})
}

func (h *Handler) cameraSnapshot(c *gin.Context) {
	frame, ok := h.controller.LastFrame()
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse("no frame available"))
		return
	}
	c.Data(http.StatusOK, "image/jpeg", frame.JPEG)
}

func (h *Handler) listDevices(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.devices.RefreshDevices()))
}

func (h *Handler) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitorService.GetSettings())
}

func (h *Handler) updateSettings(c *gin.Context) {
	var next monitor.Settings
	if err := c.ShouldBindJSON(&next); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if err := h.monitorService.UpdateSettings(c.Request.Context(), next); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type zonesRequest struct {
	Zones          []monitor.Zone `json:"zones"`
	RoiCoordinates *monitor.Rect  `json:"roi_coordinates"`
}

func (h *Handler) updateZones(c *gin.Context) {
	var req zonesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if err := h.monitorService.UpdateZones(c.Request.Context(), req.Zones, req.RoiCoordinates); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listDetections(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	detections, total, err := h.monitorService.ListDetections(c.Request.Context(), limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  detections,
		"total": total,
	})
}

func (h *Handler) deleteDetection(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid detection id"))
		return
	}

	if err := h.monitorService.DeleteDetection(c.Request.Context(), id); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) dashboardStats(c *gin.Context) {
	stats, err := h.monitorService.DashboardStats(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	status := h.controller.Status()
	c.JSON(http.StatusOK, gin.H{
		"total_detections":   stats.TotalDetections,
		"today_detections":   stats.TodayDetections,
		"week_detections":    stats.WeekDetections,
		"is_running":         status.IsRunning,
		"is_within_schedule": status.IsWithinSchedule,
	})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
