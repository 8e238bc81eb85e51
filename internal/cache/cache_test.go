package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savegress/shiftkpi/pkg/models"
)

func TestDisabledCacheIsNoop(t *testing.T) {
	c, err := New(Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, c.IsEnabled())

	ctx := context.Background()
	require.NoError(t, c.SetReport(ctx, &models.Report{Scope: models.ReportScope{ShiftID: "S1"}}, false))

	report, ok, err := c.GetReport(ctx, "S1", false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, report)

	assert.NoError(t, c.Invalidate(ctx))
	assert.NoError(t, c.Close())
}

func TestKeyLayout(t *testing.T) {
	c := newCache(nil, Config{KeyPrefix: "plant7"})

	assert.Equal(t, "plant7:generation", c.generationKey())
	assert.Equal(t, "plant7:report:3:S1", c.reportKey(3, "S1", false))
	assert.Equal(t, "plant7:report:3:S1:intervals", c.reportKey(3, "S1", true))
	assert.Equal(t, DefaultTTL, c.ttl)
}

func TestDefaultPrefixAndTTL(t *testing.T) {
	c := newCache(nil, Config{TTL: time.Hour})
	assert.Equal(t, "shiftkpi:report:0:S9", c.reportKey(0, "S9", false))
	assert.Equal(t, time.Hour, c.ttl)
}

func TestInvalidURL(t *testing.T) {
	_, err := New(Config{Enabled: true, URL: "::not-a-url"})
	assert.Error(t, err)
}
