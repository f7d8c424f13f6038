package session

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/pagestream/internal/raster"
)

func query(t *testing.T, raw string) url.Values {
	t.Helper()
	q, err := url.ParseQuery(raw)
	require.NoError(t, err)
	return q
}

func TestParseParams_Defaults(t *testing.T) {
	cfg, err := ParseParams(query(t, "url=http://example.com/dash"), DefaultDefaults())
	require.NoError(t, err)

	assert.Equal(t, "http://example.com/dash", cfg.URL)
	assert.Equal(t, raster.Dimensions{Width: 1024, Height: 768}, cfg.Viewport)
	assert.Equal(t, 250*time.Millisecond, cfg.Interval)
	assert.Equal(t, 255, cfg.Colors.Depth)
	assert.False(t, cfg.Colors.Grayscale)
	assert.Zero(t, cfg.Colors.Steps)
	assert.Zero(t, cfg.DPR)
	assert.False(t, cfg.Colors.Wide)
}

func TestParseParams_Full(t *testing.T) {
	cfg, err := ParseParams(query(t,
		"url=https://example.com&width=800&height=600&depth=1&colors=2&dpr=2&timeout=1000&wide=false"),
		DefaultDefaults())
	require.NoError(t, err)

	assert.Equal(t, raster.Dimensions{Width: 800, Height: 600}, cfg.Viewport)
	assert.Equal(t, time.Second, cfg.Interval)
	assert.True(t, cfg.Colors.Grayscale)
	assert.Equal(t, 2, cfg.Colors.Steps)
	assert.Equal(t, 1, cfg.Colors.Depth)
	assert.Equal(t, 2, cfg.DPR)
}

func TestParseParams_SizeNeedsBothSides(t *testing.T) {
	cfg, err := ParseParams(query(t, "url=http://a.b&width=800"), DefaultDefaults())
	require.NoError(t, err)
	assert.Equal(t, raster.Dimensions{Width: 1024, Height: 768}, cfg.Viewport)
}

func TestParseParams_OddDPRIgnored(t *testing.T) {
	cfg, err := ParseParams(query(t, "url=http://a.b&dpr=3"), DefaultDefaults())
	require.NoError(t, err)
	assert.Zero(t, cfg.DPR)
}

func TestParseParams_Wide(t *testing.T) {
	cfg, err := ParseParams(query(t, "url=http://a.b&wide"), DefaultDefaults())
	require.NoError(t, err)
	assert.True(t, cfg.Colors.Wide)

	cfg, err = ParseParams(query(t, "url=http://a.b&wide=1"), DefaultDefaults())
	require.NoError(t, err)
	assert.True(t, cfg.Colors.Wide)
}

func TestParseParams_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing url", "width=100&height=100"},
		{"relative url", "url=/dash"},
		{"non-http url", "url=file:///etc/passwd"},
		{"odd width", "url=http://a.b&width=101&height=100"},
		{"odd width alone", "url=http://a.b&width=101"},
		{"odd height", "url=http://a.b&width=100&height=75"},
		{"negative depth", "url=http://a.b&depth=-1"},
		{"non-numeric timeout", "url=http://a.b&timeout=fast"},
		{"one color", "url=http://a.b&colors=1"},
		{"too many colors", "url=http://a.b&colors=17"},
		{"negative dpr", "url=http://a.b&dpr=-2"},
		{"bad wide", "url=http://a.b&wide=maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseParams(query(t, tt.raw), DefaultDefaults())
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	cfg, err := ParseParams(query(t, "url=http://a.b"), DefaultDefaults())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Viewport.Width = 101
	assert.ErrorIs(t, bad.Validate(), ErrConfig)

	bad = cfg
	bad.Colors.Steps = 4
	assert.ErrorIs(t, bad.Validate(), ErrConfig, "colors without grayscale")

	bad = cfg
	bad.Interval = 0
	assert.ErrorIs(t, bad.Validate(), ErrConfig)
}
