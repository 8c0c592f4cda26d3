package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parroquia-tech/catequesis-api/internal/service"
	appErrors "github.com/parroquia-tech/catequesis-api/pkg/errors"
	"github.com/parroquia-tech/catequesis-api/pkg/response"
)

// CatechumenHandler exposes catechumen endpoints.
type CatechumenHandler struct {
	catechumens *service.CatechumenService
}

// NewCatechumenHandler constructs CatechumenHandler.
func NewCatechumenHandler(catechumens *service.CatechumenService) *CatechumenHandler {
	return &CatechumenHandler{catechumens: catechumens}
}

// List godoc
// @Summary List catechumens
// @Tags Catechumens
// @Produce json
// @Security BearerAuth
// @Param parishId query string false "Filter by parish"
// @Param active query bool false "Filter by active"
// @Param search query string false "Name or document search"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /catechumens [get]
func (h *CatechumenHandler) List(c *gin.Context) {
	req := service.CatechumenListRequest{
		ParishID:  c.Query("parishId"),
		Active:    queryBool(c, "active"),
		Search:    c.Query("search"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "limit", 20),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	catechumens, pagination, err := h.catechumens.List(c.Request.Context(), scopeFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, catechumens, pagination)
}

// Get godoc
// @Summary Get catechumen by ID
// @Tags Catechumens
// @Produce json
// @Security BearerAuth
// @Param id path string true "Catechumen ID"
// @Success 200 {object} response.Envelope
// @Router /catechumens/{id} [get]
func (h *CatechumenHandler) Get(c *gin.Context) {
	catechumen, err := h.catechumens.Get(c.Request.Context(), scopeFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, catechumen, nil)
}

// Create godoc
// @Summary Register catechumen
// @Tags Catechumens
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CatechumenRequest true "Catechumen payload"
// @Success 201 {object} response.Envelope
// @Router /catechumens [post]
func (h *CatechumenHandler) Create(c *gin.Context) {
	var req service.CatechumenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	catechumen, err := h.catechumens.Create(c.Request.Context(), scopeFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, catechumen)
}

// Update godoc
// @Summary Update catechumen
// @Tags Catechumens
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Catechumen ID"
// @Param payload body service.CatechumenRequest true "Catechumen payload"
// @Success 200 {object} response.Envelope
// @Router /catechumens/{id} [put]
func (h *CatechumenHandler) Update(c *gin.Context) {
	var req service.CatechumenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	catechumen, err := h.catechumens.Update(c.Request.Context(), scopeFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, catechumen, nil)
}
