package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroupAttendanceStatsFinalize(t *testing.T) {
	stats := &GroupAttendanceStats{Sessions: 40, Present: 30, DistinctDates: 8}
	stats.Finalize()
	assert.Equal(t, 75.0, stats.Percent)
	assert.Equal(t, 3.75, stats.AvgPresentPerDate)
}

func TestGroupAttendanceStatsFinalizeEmpty(t *testing.T) {
	stats := &GroupAttendanceStats{}
	stats.Finalize()
	assert.Equal(t, 0.0, stats.Percent)
	assert.Equal(t, 0.0, stats.AvgPresentPerDate)
}

func TestClassTypeValid(t *testing.T) {
	assert.True(t, ClassTypeRegular.Valid())
	assert.True(t, ClassTypeRetreat.Valid())
	assert.False(t, ClassType("HOLIDAY").Valid())
}
