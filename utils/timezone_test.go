package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLocation(t *testing.T) {
	defer SetLocation(DefaultTimezone)

	require.NoError(t, SetLocation(""))
	_, offset := time.Date(2024, 1, 2, 9, 15, 0, 0, GlobalLocation).Zone()
	assert.Equal(t, 5*3600+1800, offset, "默认时区应为 IST")

	require.NoError(t, SetLocation("UTC"))
	assert.Equal(t, "UTC", GlobalLocation.String())

	err := SetLocation("Mars/Olympus")
	assert.Error(t, err)
	assert.Equal(t, "UTC", GlobalLocation.String(), "加载失败时保留原时区")
}

func TestToConfiguredTimezone(t *testing.T) {
	defer SetLocation(DefaultTimezone)
	require.NoError(t, SetLocation(DefaultTimezone))

	assert.True(t, ToConfiguredTimezone(time.Time{}).IsZero())

	utc := time.Date(2024, 1, 2, 3, 45, 0, 0, time.UTC)
	local := ToConfiguredTimezone(utc)
	assert.Equal(t, 9, local.Hour())
	assert.Equal(t, 15, local.Minute())
	assert.True(t, local.Equal(utc))
}
