package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parroquia-tech/catequesis-api/internal/middleware"
	"github.com/parroquia-tech/catequesis-api/internal/service"
	appErrors "github.com/parroquia-tech/catequesis-api/pkg/errors"
	"github.com/parroquia-tech/catequesis-api/pkg/response"
)

// Absences older than this are no longer flagged for guardian notification.
const defaultNotificationWindow = 48 * time.Hour

// AttendanceHandler exposes attendance endpoints.
type AttendanceHandler struct {
	attendance *service.AttendanceService
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(attendance *service.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance}
}

// Record godoc
// @Summary Record attendance for one enrollment
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.RecordAttendanceRequest true "Attendance payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /attendance [post]
func (h *AttendanceHandler) Record(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.RecordAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	attendance, err := h.attendance.Record(c.Request.Context(), scopeFromContext(c), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, attendance)
}

// BulkRecord godoc
// @Summary Record a whole group session
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param groupId path string true "Group ID"
// @Param payload body service.BulkRecordRequest true "Roll call payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /attendance/groups/{groupId}/bulk [post]
func (h *AttendanceHandler) BulkRecord(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.BulkRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.attendance.BulkRecord(c.Request.Context(), scopeFromContext(c), claims, c.Param("groupId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// List godoc
// @Summary List attendance records
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param enrollmentId query string false "Filter by enrollment"
// @Param groupId query string false "Filter by group"
// @Param parishId query string false "Filter by parish"
// @Param present query bool false "Filter by presence"
// @Param classType query string false "Filter by class type"
// @Param from query string false "Date from (YYYY-MM-DD)"
// @Param to query string false "Date to (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /attendance [get]
func (h *AttendanceHandler) List(c *gin.Context) {
	req := service.AttendanceListRequest{
		EnrollmentID: c.Query("enrollmentId"),
		GroupID:      c.Query("groupId"),
		ParishID:     c.Query("parishId"),
		Present:      queryBool(c, "present"),
		ClassType:    queryString(c, "classType"),
		DateFrom:     queryString(c, "from"),
		DateTo:       queryString(c, "to"),
		Page:         queryInt(c, "page", 1),
		PageSize:     queryInt(c, "limit", 20),
		SortBy:       c.Query("sort"),
		SortOrder:    c.Query("order"),
	}
	records, pagination, err := h.attendance.List(c.Request.Context(), scopeFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// Update godoc
// @Summary Update an attendance record
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Attendance ID"
// @Param payload body service.UpdateAttendanceRequest true "Attendance payload"
// @Success 200 {object} response.Envelope
// @Router /attendance/{id} [put]
func (h *AttendanceHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.UpdateAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	attendance, err := h.attendance.Update(c.Request.Context(), scopeFromContext(c), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, attendance, nil)
}

// Delete godoc
// @Summary Delete an attendance record
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param id path string true "Attendance ID"
// @Success 204
// @Router /attendance/{id} [delete]
func (h *AttendanceHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.attendance.Delete(c.Request.Context(), scopeFromContext(c), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Summary godoc
// @Summary Per-enrollment attendance roll-up
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param enrollmentId path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/enrollments/{enrollmentId}/summary [get]
func (h *AttendanceHandler) Summary(c *gin.Context) {
	summary, err := h.attendance.Summary(c.Request.Context(), scopeFromContext(c), c.Param("enrollmentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// GroupStats godoc
// @Summary Aggregate attendance across a group
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param groupId path string true "Group ID"
// @Param from query string false "Date from (YYYY-MM-DD)"
// @Param to query string false "Date to (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /attendance/groups/{groupId}/stats [get]
func (h *AttendanceHandler) GroupStats(c *gin.Context) {
	stats, err := h.attendance.GroupStats(c.Request.Context(), scopeFromContext(c), c.Param("groupId"), queryDate(c, "from"), queryDate(c, "to"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}

// ParishStats godoc
// @Summary Aggregate attendance across a parish
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param parishId path string true "Parish ID"
// @Param from query string false "Date from (YYYY-MM-DD)"
// @Param to query string false "Date to (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /attendance/parishes/{parishId}/stats [get]
func (h *AttendanceHandler) ParishStats(c *gin.Context) {
	stats, err := h.attendance.ParishStats(c.Request.Context(), scopeFromContext(c), c.Param("parishId"), queryDate(c, "from"), queryDate(c, "to"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// PendingNotifications godoc
// @Summary Unjustified absences awaiting guardian notification
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param windowHours query int false "Trailing window in hours (default 48)"
// @Success 200 {object} response.Envelope
// @Router /attendance/notifications/pending [get]
func (h *AttendanceHandler) PendingNotifications(c *gin.Context) {
	window := defaultNotificationWindow
	if hours := queryInt(c, "windowHours", 0); hours > 0 {
		window = time.Duration(hours) * time.Hour
	}
	records, err := h.attendance.PendingNotifications(c.Request.Context(), scopeFromContext(c), window)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// MarkNotifiedRequest stamps records as notified.
type MarkNotifiedRequest struct {
	IDs []string `json:"ids"`
}

// MarkNotified godoc
// @Summary Mark absences as notified
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body MarkNotifiedRequest true "Attendance IDs"
// @Success 204
// @Router /attendance/notifications [post]
func (h *AttendanceHandler) MarkNotified(c *gin.Context) {
	var req MarkNotifiedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.attendance.MarkNotified(c.Request.Context(), scopeFromContext(c), req.IDs); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// MarkReminder godoc
// @Summary Mark a follow-up reminder as sent
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param id path string true "Attendance ID"
// @Success 204
// @Router /attendance/{id}/reminder [post]
func (h *AttendanceHandler) MarkReminder(c *gin.Context) {
	if err := h.attendance.MarkReminderSent(c.Request.Context(), scopeFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Tasks godoc
// @Summary List follow-up tasks of a record
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param id path string true "Attendance ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/{id}/tasks [get]
func (h *AttendanceHandler) Tasks(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	tasks, err := h.attendance.Tasks(c.Request.Context(), scopeFromContext(c), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tasks, nil)
}

// AddTask godoc
// @Summary Attach a follow-up task to a record
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Attendance ID"
// @Param payload body service.TaskRequest true "Task payload"
// @Success 201 {object} response.Envelope
// @Router /attendance/{id}/tasks [post]
func (h *AttendanceHandler) AddTask(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	task, err := h.attendance.AddTask(c.Request.Context(), scopeFromContext(c), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, task)
}
