package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/parroquia-tech/catequesis-api/internal/access"
	"github.com/parroquia-tech/catequesis-api/internal/models"
)

func performAuthorized(t *testing.T, policy *access.Policy, role models.UserRole, action access.Action) int {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/guarded",
		func(c *gin.Context) {
			c.Set(ContextUserKey, &models.JWTClaims{UserID: "usr-1", Role: role})
		},
		Authorize(policy, action),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	router.ServeHTTP(recorder, req)
	return recorder.Code
}

func TestAuthorize(t *testing.T) {
	policy := access.DefaultPolicy()

	assert.Equal(t, http.StatusOK, performAuthorized(t, policy, models.RoleAdmin, access.ActionManageParishes))
	assert.Equal(t, http.StatusForbidden, performAuthorized(t, policy, models.RoleCatechist, access.ActionManageParishes))
	assert.Equal(t, http.StatusOK, performAuthorized(t, policy, models.RoleCatechist, access.ActionRecordAttendance))
	assert.Equal(t, http.StatusForbidden, performAuthorized(t, policy, models.RoleConsultant, access.ActionRecordAttendance))
}

func TestAuthorizeWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/guarded",
		Authorize(access.DefaultPolicy(), access.ActionViewRecords),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestAuthorizeAny(t *testing.T) {
	gin.SetMode(gin.TestMode)
	policy := access.DefaultPolicy()
	router := gin.New()
	router.GET("/guarded",
		func(c *gin.Context) {
			c.Set(ContextUserKey, &models.JWTClaims{UserID: "usr-1", Role: models.RoleConsultant})
		},
		AuthorizeAny(policy, access.ActionManageGroups, access.ActionViewRecords),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusOK, recorder.Code)
}
