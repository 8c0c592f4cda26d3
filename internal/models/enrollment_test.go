package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from    EnrollmentStatus
		to      EnrollmentStatus
		allowed bool
	}{
		{EnrollmentStatusPending, EnrollmentStatusActive, true},
		{EnrollmentStatusPending, EnrollmentStatusWithdrawn, true},
		{EnrollmentStatusPending, EnrollmentStatusSuspended, false},
		{EnrollmentStatusPending, EnrollmentStatusCompleted, false},
		{EnrollmentStatusActive, EnrollmentStatusSuspended, true},
		{EnrollmentStatusActive, EnrollmentStatusCompleted, true},
		{EnrollmentStatusActive, EnrollmentStatusWithdrawn, true},
		{EnrollmentStatusActive, EnrollmentStatusPending, false},
		{EnrollmentStatusSuspended, EnrollmentStatusActive, true},
		{EnrollmentStatusSuspended, EnrollmentStatusWithdrawn, true},
		{EnrollmentStatusSuspended, EnrollmentStatusCompleted, false},
		{EnrollmentStatusCompleted, EnrollmentStatusActive, false},
		{EnrollmentStatusCompleted, EnrollmentStatusWithdrawn, false},
		{EnrollmentStatusWithdrawn, EnrollmentStatusActive, false},
		{EnrollmentStatusWithdrawn, EnrollmentStatusPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestStatusDeactivates(t *testing.T) {
	assert.False(t, EnrollmentStatusPending.Deactivates())
	assert.False(t, EnrollmentStatusActive.Deactivates())
	assert.True(t, EnrollmentStatusSuspended.Deactivates())
	assert.True(t, EnrollmentStatusCompleted.Deactivates())
	assert.True(t, EnrollmentStatusWithdrawn.Deactivates())
}

func TestStatusRequiresReason(t *testing.T) {
	assert.True(t, EnrollmentStatusSuspended.RequiresReason())
	assert.True(t, EnrollmentStatusWithdrawn.RequiresReason())
	assert.False(t, EnrollmentStatusActive.RequiresReason())
	assert.False(t, EnrollmentStatusCompleted.RequiresReason())
}

func TestComputePaymentTotals(t *testing.T) {
	payments := []EnrollmentPayment{
		{Concept: PaymentConceptRegistration, Amount: 25, Paid: true},
		{Concept: PaymentConceptMaterials, Amount: 15, Paid: false},
	}
	totals := ComputePaymentTotals(payments)
	assert.Equal(t, 40.0, totals.TotalDue)
	assert.Equal(t, 25.0, totals.TotalPaid)
	assert.Equal(t, 15.0, totals.Pending)
	assert.False(t, totals.FullyPaid)
	assert.Equal(t, 2, totals.EntryCount)

	// The identity due = paid + pending holds after settling everything.
	payments[1].Paid = true
	totals = ComputePaymentTotals(payments)
	assert.Equal(t, totals.TotalDue, totals.TotalPaid+totals.Pending)
	assert.Equal(t, 0.0, totals.Pending)
	assert.True(t, totals.FullyPaid)
}

func TestComputePaymentTotalsEmpty(t *testing.T) {
	totals := ComputePaymentTotals(nil)
	assert.Equal(t, 0.0, totals.TotalDue)
	assert.True(t, totals.FullyPaid)
	assert.Equal(t, 0, totals.EntryCount)
}

func TestComputeFinalScore(t *testing.T) {
	grades := []EnrollmentGrade{
		{Score: 80},
		{Score: 90},
		{Score: 70},
	}
	final := ComputeFinalScore(grades)
	require.NotNil(t, final)
	assert.Equal(t, 80.0, *final)
}

func TestComputeFinalScoreRounding(t *testing.T) {
	grades := []EnrollmentGrade{
		{Score: 70},
		{Score: 71},
		{Score: 71},
	}
	final := ComputeFinalScore(grades)
	require.NotNil(t, final)
	assert.Equal(t, 70.67, *final)
}

func TestComputeFinalScoreEmpty(t *testing.T) {
	assert.Nil(t, ComputeFinalScore(nil))
}

func TestPassedTriState(t *testing.T) {
	e := &Enrollment{AttendancePercent: 90}
	assert.Nil(t, e.Passed())

	score := 70.0
	e.FinalScore = &score
	require.NotNil(t, e.Passed())
	assert.True(t, *e.Passed())

	e.AttendancePercent = 79.99
	assert.False(t, *e.Passed())

	e.AttendancePercent = 80
	score = 69.99
	assert.False(t, *e.Passed())
}

func TestPaymentConceptFixed(t *testing.T) {
	assert.True(t, PaymentConceptRegistration.Fixed())
	assert.True(t, PaymentConceptMaterials.Fixed())
	assert.False(t, PaymentConceptOther.Fixed())
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 87.5, Round2(7.0/8.0*100))
	assert.Equal(t, 33.33, Round2(1.0/3.0*100))
	assert.Equal(t, 66.67, Round2(2.0/3.0*100))
}
