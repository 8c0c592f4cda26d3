package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parroquia-tech/catequesis-api/internal/access"
	"github.com/parroquia-tech/catequesis-api/internal/models"
	"github.com/parroquia-tech/catequesis-api/internal/repository"
	appErrors "github.com/parroquia-tech/catequesis-api/pkg/errors"
)

type mockAttendanceRepo struct {
	records   map[string]*models.Attendance
	byDay     map[string]struct{}
	summaries map[string]*models.AttendanceSummary
	stats     *models.GroupAttendanceStats
	statCalls int
	pending   []models.AttendanceRecord
	notified  []string
	reminded  []string
	tasks     map[string][]models.AttendanceTask
}

func newMockAttendanceRepo() *mockAttendanceRepo {
	return &mockAttendanceRepo{
		records:   map[string]*models.Attendance{},
		byDay:     map[string]struct{}{},
		summaries: map[string]*models.AttendanceSummary{},
		tasks:     map[string][]models.AttendanceTask{},
	}
}

func dayKey(enrollmentID string, date time.Time) string {
	return enrollmentID + "|" + date.Format("2006-01-02")
}

func (m *mockAttendanceRepo) Create(ctx context.Context, attendance *models.Attendance) error {
	key := dayKey(attendance.EnrollmentID, attendance.Date)
	if _, ok := m.byDay[key]; ok {
		return repository.ErrDuplicateAttendance
	}
	m.byDay[key] = struct{}{}
	attendance.ID = "att-" + key
	m.records[attendance.ID] = attendance
	return nil
}

func (m *mockAttendanceRepo) ExistsForDay(ctx context.Context, enrollmentID string, date time.Time) (bool, error) {
	_, ok := m.byDay[dayKey(enrollmentID, date)]
	return ok, nil
}

func (m *mockAttendanceRepo) FindByID(ctx context.Context, id string) (*models.Attendance, error) {
	if a, ok := m.records[id]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAttendanceRepo) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error) {
	return nil, 0, nil
}

func (m *mockAttendanceRepo) Update(ctx context.Context, attendance *models.Attendance) error {
	m.records[attendance.ID] = attendance
	return nil
}

func (m *mockAttendanceRepo) Delete(ctx context.Context, id string) error {
	a, ok := m.records[id]
	if !ok {
		return sql.ErrNoRows
	}
	delete(m.byDay, dayKey(a.EnrollmentID, a.Date))
	delete(m.records, id)
	return nil
}

func (m *mockAttendanceRepo) SummaryForEnrollment(ctx context.Context, enrollmentID string) (*models.AttendanceSummary, error) {
	if s, ok := m.summaries[enrollmentID]; ok {
		return s, nil
	}
	return &models.AttendanceSummary{}, nil
}

func (m *mockAttendanceRepo) GroupStats(ctx context.Context, groupID string, from, to *time.Time) (*models.GroupAttendanceStats, error) {
	m.statCalls++
	return m.stats, nil
}

func (m *mockAttendanceRepo) ParishStats(ctx context.Context, parishID string, from, to *time.Time) (*models.GroupAttendanceStats, error) {
	m.statCalls++
	return m.stats, nil
}

func (m *mockAttendanceRepo) ListPendingNotifications(ctx context.Context, parishID string, window time.Duration, now time.Time) ([]models.AttendanceRecord, error) {
	return m.pending, nil
}

func (m *mockAttendanceRepo) MarkNotified(ctx context.Context, ids []string, at time.Time) error {
	m.notified = append(m.notified, ids...)
	return nil
}

func (m *mockAttendanceRepo) MarkReminderSent(ctx context.Context, id string, at time.Time) error {
	m.reminded = append(m.reminded, id)
	return nil
}

func (m *mockAttendanceRepo) ListTasks(ctx context.Context, attendanceID string) ([]models.AttendanceTask, error) {
	return m.tasks[attendanceID], nil
}

func (m *mockAttendanceRepo) AddTask(ctx context.Context, task *models.AttendanceTask) error {
	task.ID = "tsk-new"
	m.tasks[task.AttendanceID] = append(m.tasks[task.AttendanceID], *task)
	return nil
}

func (m *mockAttendanceRepo) UpdateTask(ctx context.Context, task *models.AttendanceTask) error {
	return nil
}

type mockRollupEnrollments struct {
	enrollments map[string]*models.Enrollment
	rollups     map[string]models.AttendanceSummary
}

func (m *mockRollupEnrollments) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRollupEnrollments) UpdateRollup(ctx context.Context, id string, total, present int, percent float64) error {
	if m.rollups == nil {
		m.rollups = map[string]models.AttendanceSummary{}
	}
	m.rollups[id] = models.AttendanceSummary{Total: total, Present: present, Percent: percent}
	return nil
}

type mockStatsGroups struct {
	groups    map[string]*models.Group
	assigned  map[string]bool
	refreshed []string
}

func (m *mockStatsGroups) FindByID(ctx context.Context, id string) (*models.Group, error) {
	if g, ok := m.groups[id]; ok {
		return g, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStatsGroups) IsCatechistAssigned(ctx context.Context, groupID, userID string) (bool, error) {
	return m.assigned[groupID+"|"+userID], nil
}

func (m *mockStatsGroups) RefreshStats(ctx context.Context, groupID string) error {
	m.refreshed = append(m.refreshed, groupID)
	return nil
}

type memoryStatsCache struct {
	entries map[string][]byte
	deleted []string
}

func (m *memoryStatsCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryStatsCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.entries == nil {
		m.entries = map[string][]byte{}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *memoryStatsCache) DeleteByPattern(ctx context.Context, pattern string) error {
	m.deleted = append(m.deleted, pattern)
	return nil
}

func newAttendanceFixture() (*AttendanceService, *mockAttendanceRepo, *mockRollupEnrollments, *mockStatsGroups, *memoryStatsCache) {
	repo := newMockAttendanceRepo()
	enrollments := &mockRollupEnrollments{enrollments: map[string]*models.Enrollment{
		"enr-1": {ID: "enr-1", CatechumenID: "cat-1", GroupID: "grp-1", ParishID: "par-1", Status: models.EnrollmentStatusActive, Active: true},
	}}
	groups := &mockStatsGroups{
		groups:   map[string]*models.Group{"grp-1": {ID: "grp-1", ParishID: "par-1", Active: true}},
		assigned: map[string]bool{},
	}
	cache := &memoryStatsCache{}
	svc := NewAttendanceService(repo, enrollments, groups, cache, time.Minute, nil, nil, zap.NewNop())
	return svc, repo, enrollments, groups, cache
}

func secretaryClaims() *models.JWTClaims {
	parish := "par-1"
	return &models.JWTClaims{UserID: "usr-1", Role: models.RoleSecretary, ParishID: &parish}
}

func catechistClaims() *models.JWTClaims {
	parish := "par-1"
	return &models.JWTClaims{UserID: "usr-cat", Role: models.RoleCatechist, ParishID: &parish}
}

func TestAttendanceRecord(t *testing.T) {
	svc, repo, enrollments, groups, cache := newAttendanceFixture()
	repo.summaries["enr-1"] = &models.AttendanceSummary{Present: 7, Absent: 1, Total: 8, Percent: 87.5}

	attendance, err := svc.Record(context.Background(), adminScope(), secretaryClaims(), RecordAttendanceRequest{
		EnrollmentID: "enr-1",
		Date:         "2026-03-14",
		Present:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ClassTypeRegular, attendance.ClassType)
	assert.Equal(t, "usr-1", attendance.RecordedBy)

	// Explicit post-write recompute: roll-up stored, group refreshed, cache invalidated.
	rollup := enrollments.rollups["enr-1"]
	assert.Equal(t, 8, rollup.Total)
	assert.Equal(t, 7, rollup.Present)
	assert.Equal(t, 87.5, rollup.Percent)
	assert.Contains(t, groups.refreshed, "grp-1")
	assert.Contains(t, cache.deleted, "stats:group:grp-1:*")
	assert.Contains(t, cache.deleted, "stats:parish:par-1:*")
}

func TestAttendanceRecordDuplicateDay(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()

	req := RecordAttendanceRequest{EnrollmentID: "enr-1", Date: "2026-03-14", Present: true}
	_, err := svc.Record(context.Background(), adminScope(), secretaryClaims(), req)
	require.NoError(t, err)

	reason := "sick"
	req.Present = false
	req.AbsenceReason = &reason
	_, err = svc.Record(context.Background(), adminScope(), secretaryClaims(), req)
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrConflict.Code, typed.Code)
	assert.Equal(t, 409, typed.Status)
}

func TestAttendanceRecordBadDate(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()

	_, err := svc.Record(context.Background(), adminScope(), secretaryClaims(), RecordAttendanceRequest{
		EnrollmentID: "enr-1",
		Date:         "14/03/2026",
	})
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrValidation.Code, typed.Code)
}

func TestAttendanceRecordInactiveEnrollment(t *testing.T) {
	svc, _, enrollments, _, _ := newAttendanceFixture()
	enrollments.enrollments["enr-1"].Active = false

	_, err := svc.Record(context.Background(), adminScope(), secretaryClaims(), RecordAttendanceRequest{
		EnrollmentID: "enr-1",
		Date:         "2026-03-14",
	})
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrValidation.Code, typed.Code)
}

func TestAttendanceRecordUnassignedCatechist(t *testing.T) {
	svc, _, _, groups, _ := newAttendanceFixture()

	scope := access.Scope{ParishID: "par-1"}
	_, err := svc.Record(context.Background(), scope, catechistClaims(), RecordAttendanceRequest{
		EnrollmentID: "enr-1",
		Date:         "2026-03-14",
		Present:      true,
	})
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrForbidden.Code, typed.Code)

	groups.assigned["grp-1|usr-cat"] = true
	_, err = svc.Record(context.Background(), scope, catechistClaims(), RecordAttendanceRequest{
		EnrollmentID: "enr-1",
		Date:         "2026-03-14",
		Present:      true,
	})
	require.NoError(t, err)
}

func TestAttendanceBulkRecord(t *testing.T) {
	svc, _, enrollments, groups, _ := newAttendanceFixture()
	enrollments.enrollments["enr-2"] = &models.Enrollment{ID: "enr-2", GroupID: "grp-1", ParishID: "par-1", Status: models.EnrollmentStatusActive, Active: true}

	reason := "sick"
	result, err := svc.BulkRecord(context.Background(), adminScope(), secretaryClaims(), "grp-1", BulkRecordRequest{
		Date: "2026-03-14",
		Items: []BulkAttendanceItem{
			{EnrollmentID: "enr-1", Present: true},
			{EnrollmentID: "enr-2", Present: false, AbsenceReason: &reason},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Success)

	assert.Len(t, enrollments.rollups, 2)
	assert.Equal(t, []string{"grp-1"}, groups.refreshed)
}

func TestAttendanceBulkRecordRejectsBadEntries(t *testing.T) {
	svc, repo, enrollments, _, _ := newAttendanceFixture()
	enrollments.enrollments["enr-other"] = &models.Enrollment{ID: "enr-other", GroupID: "grp-9", ParishID: "par-1", Status: models.EnrollmentStatusActive, Active: true}
	enrollments.enrollments["enr-done"] = &models.Enrollment{ID: "enr-done", GroupID: "grp-1", ParishID: "par-1", Status: models.EnrollmentStatusCompleted, Active: false}

	cases := []struct {
		name  string
		items []BulkAttendanceItem
		code  string
	}{
		{"duplicate payload", []BulkAttendanceItem{{EnrollmentID: "enr-1", Present: true}, {EnrollmentID: "enr-1", Present: true}}, appErrors.ErrValidation.Code},
		{"another group", []BulkAttendanceItem{{EnrollmentID: "enr-other", Present: true}}, appErrors.ErrValidation.Code},
		{"not active", []BulkAttendanceItem{{EnrollmentID: "enr-done", Present: true}}, appErrors.ErrValidation.Code},
		{"missing", []BulkAttendanceItem{{EnrollmentID: "enr-missing", Present: true}}, appErrors.ErrNotFound.Code},
		{"absent without reason", []BulkAttendanceItem{{EnrollmentID: "enr-1", Present: false}}, appErrors.ErrValidation.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.BulkRecord(context.Background(), adminScope(), secretaryClaims(), "grp-1", BulkRecordRequest{
				Date:  "2026-03-14",
				Items: tc.items,
			})
			var typed *appErrors.Error
			require.ErrorAs(t, err, &typed)
			assert.Equal(t, tc.code, typed.Code)
		})
	}
	// A rejected roll call writes nothing.
	assert.Empty(t, repo.records)
}

func TestAttendanceBulkRecordDuplicateDay(t *testing.T) {
	svc, repo, enrollments, _, _ := newAttendanceFixture()
	enrollments.enrollments["enr-2"] = &models.Enrollment{ID: "enr-2", GroupID: "grp-1", ParishID: "par-1", Status: models.EnrollmentStatusActive, Active: true}

	_, err := svc.Record(context.Background(), adminScope(), secretaryClaims(), RecordAttendanceRequest{
		EnrollmentID: "enr-2", Date: "2026-03-14", Present: true,
	})
	require.NoError(t, err)

	// One entry already recorded for the day rejects the whole request,
	// including entries that were themselves fine.
	_, err = svc.BulkRecord(context.Background(), adminScope(), secretaryClaims(), "grp-1", BulkRecordRequest{
		Date: "2026-03-14",
		Items: []BulkAttendanceItem{
			{EnrollmentID: "enr-1", Present: true},
			{EnrollmentID: "enr-2", Present: true},
		},
	})
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrConflict.Code, typed.Code)
	assert.Equal(t, 409, typed.Status)
	require.Len(t, repo.records, 1)
}

func TestAttendanceRecordFutureRegularDate(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()
	future := time.Now().UTC().AddDate(0, 0, 2).Format("2006-01-02")

	_, err := svc.Record(context.Background(), adminScope(), secretaryClaims(), RecordAttendanceRequest{
		EnrollmentID: "enr-1",
		Date:         future,
		Present:      true,
	})
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrValidation.Code, typed.Code)

	// Non-regular classes may be scheduled ahead of time.
	_, err = svc.Record(context.Background(), adminScope(), secretaryClaims(), RecordAttendanceRequest{
		EnrollmentID: "enr-1",
		Date:         future,
		Present:      true,
		ClassType:    "RETREAT",
	})
	require.NoError(t, err)
}

func TestAttendanceRecordAbsenceRequiresReason(t *testing.T) {
	svc, repo, _, _, _ := newAttendanceFixture()

	_, err := svc.Record(context.Background(), adminScope(), secretaryClaims(), RecordAttendanceRequest{
		EnrollmentID: "enr-1",
		Date:         "2026-03-14",
		Present:      false,
	})
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrValidation.Code, typed.Code)
	assert.Empty(t, repo.records)

	reason := "medical appointment"
	attendance, err := svc.Record(context.Background(), adminScope(), secretaryClaims(), RecordAttendanceRequest{
		EnrollmentID:  "enr-1",
		Date:          "2026-03-14",
		Present:       false,
		AbsenceReason: &reason,
	})
	require.NoError(t, err)
	// A reasoned absence counts as justified unless said otherwise.
	assert.True(t, attendance.Justified)
}

func TestAttendanceRecordDepartureBeforeArrival(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()
	arrival, departure := "10:00", "09:30"

	_, err := svc.Record(context.Background(), adminScope(), secretaryClaims(), RecordAttendanceRequest{
		EnrollmentID:  "enr-1",
		Date:          "2026-03-14",
		Present:       true,
		ArrivalTime:   &arrival,
		DepartureTime: &departure,
	})
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrValidation.Code, typed.Code)

	departure = "11:30"
	_, err = svc.Record(context.Background(), adminScope(), secretaryClaims(), RecordAttendanceRequest{
		EnrollmentID:  "enr-1",
		Date:          "2026-03-14",
		Present:       true,
		ArrivalTime:   &arrival,
		DepartureTime: &departure,
	})
	require.NoError(t, err)
}

func TestAttendanceUpdateKeepsInvariants(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()

	_, err := svc.Record(context.Background(), adminScope(), secretaryClaims(), RecordAttendanceRequest{
		EnrollmentID: "enr-1", Date: "2026-03-14", Present: true,
	})
	require.NoError(t, err)
	id := "att-" + dayKey("enr-1", time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC))

	absent := false
	_, err = svc.Update(context.Background(), adminScope(), secretaryClaims(), id, UpdateAttendanceRequest{
		Present: &absent,
	})
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrValidation.Code, typed.Code)

	reason := "sick"
	updated, err := svc.Update(context.Background(), adminScope(), secretaryClaims(), id, UpdateAttendanceRequest{
		Present:       &absent,
		AbsenceReason: &reason,
	})
	require.NoError(t, err)
	assert.True(t, updated.Justified)

	arrival, departure := "10:00", "09:00"
	_, err = svc.Update(context.Background(), adminScope(), secretaryClaims(), id, UpdateAttendanceRequest{
		ArrivalTime:   &arrival,
		DepartureTime: &departure,
	})
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrValidation.Code, typed.Code)
}

func TestGroupStatsCaching(t *testing.T) {
	svc, repo, _, _, cache := newAttendanceFixture()
	repo.stats = &models.GroupAttendanceStats{Sessions: 40, Present: 30, Percent: 75}

	stats, err := svc.GroupStats(context.Background(), adminScope(), "grp-1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 75.0, stats.Percent)
	assert.Equal(t, 1, repo.statCalls)
	assert.Contains(t, cache.entries, "stats:group:grp-1:-:-")

	// Second read is served from cache.
	stats, err = svc.GroupStats(context.Background(), adminScope(), "grp-1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 75.0, stats.Percent)
	assert.Equal(t, 1, repo.statCalls)
}

func TestParishStatsScope(t *testing.T) {
	svc, repo, _, _, _ := newAttendanceFixture()
	repo.stats = &models.GroupAttendanceStats{Sessions: 10, Present: 9}

	_, err := svc.ParishStats(context.Background(), access.Scope{ParishID: "par-2"}, "par-1", nil, nil)
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrForbidden.Code, typed.Code)

	_, err = svc.ParishStats(context.Background(), access.Scope{ParishID: "par-1"}, "par-1", nil, nil)
	require.NoError(t, err)
}

func TestPendingNotificationsScope(t *testing.T) {
	svc, repo, _, _, _ := newAttendanceFixture()
	repo.pending = []models.AttendanceRecord{{GroupID: "grp-1"}}

	records, err := svc.PendingNotifications(context.Background(), access.Scope{ParishID: "par-1"}, 48*time.Hour)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = svc.PendingNotifications(context.Background(), access.Scope{}, 48*time.Hour)
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrForbidden.Code, typed.Code)
}

func TestMarkNotified(t *testing.T) {
	svc, repo, _, _, _ := newAttendanceFixture()
	repo.records["att-1"] = &models.Attendance{ID: "att-1", EnrollmentID: "enr-1"}

	err := svc.MarkNotified(context.Background(), access.Scope{ParishID: "par-2"}, []string{"att-1"})
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrForbidden.Code, typed.Code)
	assert.Empty(t, repo.notified)

	require.NoError(t, svc.MarkNotified(context.Background(), access.Scope{ParishID: "par-1"}, []string{"att-1"}))
	assert.Equal(t, []string{"att-1"}, repo.notified)
}

func TestMarkReminderSent(t *testing.T) {
	svc, repo, _, _, _ := newAttendanceFixture()
	repo.records["att-1"] = &models.Attendance{ID: "att-1", EnrollmentID: "enr-1"}

	err := svc.MarkReminderSent(context.Background(), access.Scope{ParishID: "par-2"}, "att-1")
	var typed *appErrors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, appErrors.ErrForbidden.Code, typed.Code)
	assert.Empty(t, repo.reminded)

	require.NoError(t, svc.MarkReminderSent(context.Background(), access.Scope{ParishID: "par-1"}, "att-1"))
	assert.Equal(t, []string{"att-1"}, repo.reminded)
}

func TestAttendanceDeleteRecomputes(t *testing.T) {
	svc, repo, enrollments, _, _ := newAttendanceFixture()
	repo.summaries["enr-1"] = &models.AttendanceSummary{Present: 6, Absent: 1, Total: 7, Percent: 85.71}

	_, err := svc.Record(context.Background(), adminScope(), secretaryClaims(), RecordAttendanceRequest{
		EnrollmentID: "enr-1", Date: "2026-03-14", Present: true,
	})
	require.NoError(t, err)

	id := "att-" + dayKey("enr-1", time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, svc.Delete(context.Background(), adminScope(), secretaryClaims(), id))
	assert.Equal(t, 7, enrollments.rollups["enr-1"].Total)
}

func TestAddTaskStampsDelivery(t *testing.T) {
	svc, repo, _, _, _ := newAttendanceFixture()
	repo.records["att-1"] = &models.Attendance{ID: "att-1", EnrollmentID: "enr-1"}

	task, err := svc.AddTask(context.Background(), adminScope(), secretaryClaims(), "att-1", TaskRequest{
		Description: "memorise the creed",
		Delivered:   true,
	})
	require.NoError(t, err)
	assert.NotNil(t, task.DeliveredAt)
	assert.Len(t, repo.tasks["att-1"], 1)
}
