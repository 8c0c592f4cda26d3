package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parroquia-tech/catequesis-api/internal/models"
)

func TestDefaultPolicyRoleTable(t *testing.T) {
	policy := DefaultPolicy()

	assert.True(t, policy.Can(models.RoleAdmin, ActionManageParishes))
	assert.True(t, policy.Can(models.RoleAdmin, ActionApproveEnrollment))

	assert.True(t, policy.Can(models.RolePriest, ActionApproveEnrollment))
	assert.False(t, policy.Can(models.RolePriest, ActionManageParishes))
	assert.False(t, policy.Can(models.RolePriest, ActionManageUsers))

	assert.True(t, policy.Can(models.RoleSecretary, ActionCreateEnrollment))
	assert.False(t, policy.Can(models.RoleSecretary, ActionApproveEnrollment))

	assert.True(t, policy.Can(models.RoleCatechist, ActionRecordAttendance))
	assert.False(t, policy.Can(models.RoleCatechist, ActionCreateEnrollment))
	assert.False(t, policy.Can(models.RoleCatechist, ActionManageGroups))

	assert.True(t, policy.Can(models.RoleConsultant, ActionViewRecords))
	assert.False(t, policy.Can(models.RoleConsultant, ActionRecordAttendance))

	assert.False(t, policy.Can(models.UserRole("GUEST"), ActionViewRecords))
}

func TestScopeForAdminSeesAllParishes(t *testing.T) {
	scope := ScopeFor(&models.JWTClaims{UserID: "u1", Role: models.RoleAdmin})
	assert.True(t, scope.AllParishes)
	assert.True(t, scope.Allows("any-parish"))
}

func TestScopeForStaffLimitedToHomeParish(t *testing.T) {
	parish := "parish-1"
	scope := ScopeFor(&models.JWTClaims{UserID: "u1", Role: models.RoleSecretary, ParishID: &parish})
	assert.False(t, scope.AllParishes)
	assert.True(t, scope.Allows("parish-1"))
	assert.False(t, scope.Allows("parish-2"))
}

func TestScopeForMissingParishAllowsNothing(t *testing.T) {
	scope := ScopeFor(&models.JWTClaims{UserID: "u1", Role: models.RoleCatechist})
	assert.False(t, scope.Allows("parish-1"))

	assert.False(t, ScopeFor(nil).Allows("parish-1"))
}
