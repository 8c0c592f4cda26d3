package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parroquia-tech/catequesis-api/internal/service"
	appErrors "github.com/parroquia-tech/catequesis-api/pkg/errors"
	"github.com/parroquia-tech/catequesis-api/pkg/response"
)

// ParishHandler exposes parish endpoints.
type ParishHandler struct {
	parishes *service.ParishService
}

// NewParishHandler constructs ParishHandler.
func NewParishHandler(parishes *service.ParishService) *ParishHandler {
	return &ParishHandler{parishes: parishes}
}

// List godoc
// @Summary List parishes
// @Tags Parishes
// @Produce json
// @Security BearerAuth
// @Param search query string false "Name search"
// @Param active query bool false "Filter by active"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /parishes [get]
func (h *ParishHandler) List(c *gin.Context) {
	req := service.ParishListRequest{
		Active:    queryBool(c, "active"),
		Search:    c.Query("search"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "limit", 20),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	parishes, pagination, err := h.parishes.List(c.Request.Context(), scopeFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, parishes, pagination)
}

// Get godoc
// @Summary Get parish by ID
// @Tags Parishes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Parish ID"
// @Success 200 {object} response.Envelope
// @Router /parishes/{id} [get]
func (h *ParishHandler) Get(c *gin.Context) {
	parish, err := h.parishes.Get(c.Request.Context(), scopeFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, parish, nil)
}

// Create godoc
// @Summary Create parish
// @Tags Parishes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.ParishRequest true "Parish payload"
// @Success 201 {object} response.Envelope
// @Router /parishes [post]
func (h *ParishHandler) Create(c *gin.Context) {
	var req service.ParishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	parish, err := h.parishes.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, parish)
}

// Update godoc
// @Summary Update parish
// @Tags Parishes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Parish ID"
// @Param payload body service.ParishRequest true "Parish payload"
// @Success 200 {object} response.Envelope
// @Router /parishes/{id} [put]
func (h *ParishHandler) Update(c *gin.Context) {
	var req service.ParishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	parish, err := h.parishes.Update(c.Request.Context(), scopeFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, parish, nil)
}
