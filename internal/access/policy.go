// Package access derives what a caller may see and do from their role and
// home parish. The policy is an explicit table handed to middleware and
// services; nothing here reads global state.
package access

import (
	"github.com/parroquia-tech/catequesis-api/internal/models"
)

// Action names one guarded operation.
type Action string

const (
	ActionManageParishes    Action = "parishes:manage"
	ActionManageUsers       Action = "users:manage"
	ActionManageLevels      Action = "levels:manage"
	ActionManageGroups      Action = "groups:manage"
	ActionManageCatechumens Action = "catechumens:manage"
	ActionCreateEnrollment  Action = "enrollments:create"
	ActionChangeEnrollment  Action = "enrollments:change_status"
	ActionApproveEnrollment Action = "enrollments:approve"
	ActionDeleteEnrollment  Action = "enrollments:delete"
	ActionRegisterPayment   Action = "enrollments:register_payment"
	ActionRecordGrade       Action = "enrollments:record_grade"
	ActionAddObservation    Action = "enrollments:add_observation"
	ActionRecordAttendance  Action = "attendance:record"
	ActionNotifyAbsences    Action = "attendance:notify"
	ActionViewRecords       Action = "records:view"
	ActionGenerateReports   Action = "reports:generate"
)

// Policy maps each role to its allowed action set.
type Policy struct {
	allowed map[models.UserRole]map[Action]struct{}
}

// NewPolicy builds a policy from an explicit role/action table.
func NewPolicy(table map[models.UserRole][]Action) *Policy {
	allowed := make(map[models.UserRole]map[Action]struct{}, len(table))
	for role, actions := range table {
		set := make(map[Action]struct{}, len(actions))
		for _, a := range actions {
			set[a] = struct{}{}
		}
		allowed[role] = set
	}
	return &Policy{allowed: allowed}
}

// DefaultPolicy returns the standard role table:
// admins are unrestricted; priests and secretaries manage records within
// their parish (only admins and priests approve enrollments); catechists
// read and record attendance for their assigned groups; consultants read.
func DefaultPolicy() *Policy {
	return NewPolicy(map[models.UserRole][]Action{
		models.RoleAdmin: {
			ActionManageParishes, ActionManageUsers, ActionManageLevels,
			ActionManageGroups, ActionManageCatechumens,
			ActionCreateEnrollment, ActionChangeEnrollment, ActionApproveEnrollment,
			ActionDeleteEnrollment, ActionRegisterPayment, ActionRecordGrade,
			ActionAddObservation, ActionRecordAttendance, ActionNotifyAbsences,
			ActionViewRecords, ActionGenerateReports,
		},
		models.RolePriest: {
			ActionManageLevels, ActionManageGroups, ActionManageCatechumens,
			ActionCreateEnrollment, ActionChangeEnrollment, ActionApproveEnrollment,
			ActionRegisterPayment, ActionRecordGrade, ActionAddObservation,
			ActionRecordAttendance, ActionNotifyAbsences,
			ActionViewRecords, ActionGenerateReports,
		},
		models.RoleSecretary: {
			ActionManageGroups, ActionManageCatechumens,
			ActionCreateEnrollment, ActionChangeEnrollment,
			ActionRegisterPayment, ActionRecordGrade, ActionAddObservation,
			ActionRecordAttendance, ActionNotifyAbsences,
			ActionViewRecords, ActionGenerateReports,
		},
		models.RoleCatechist: {
			ActionRecordAttendance, ActionRecordGrade, ActionAddObservation,
			ActionViewRecords,
		},
		models.RoleConsultant: {
			ActionViewRecords,
		},
	})
}

// Can reports whether the role may perform the action.
func (p *Policy) Can(role models.UserRole, action Action) bool {
	set, ok := p.allowed[role]
	if !ok {
		return false
	}
	_, ok = set[action]
	return ok
}

// Scope restricts which parish's records a caller may touch.
type Scope struct {
	AllParishes bool
	ParishID    string
}

// ScopeFor derives the visibility scope from the caller's claims: admins see
// every parish, everyone else only their home parish.
func ScopeFor(claims *models.JWTClaims) Scope {
	if claims == nil {
		return Scope{}
	}
	if claims.Role == models.RoleAdmin {
		return Scope{AllParishes: true}
	}
	scope := Scope{}
	if claims.ParishID != nil {
		scope.ParishID = *claims.ParishID
	}
	return scope
}

// Allows reports whether the scope covers the given parish.
func (s Scope) Allows(parishID string) bool {
	if s.AllParishes {
		return true
	}
	return s.ParishID != "" && s.ParishID == parishID
}
