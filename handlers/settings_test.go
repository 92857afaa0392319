package handlers

import (
	"anclora/config"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settingsRouter(t *testing.T) (*gin.Engine, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.SettingsPath = filepath.Join(t.TempDir(), "settings.json")
	cfg.Conversion.UploadDir = filepath.Join(t.TempDir(), "uploads")

	h := NewSettingsHandler(cfg)
	r := gin.New()
	r.GET("/settings", h.GetSettings)
	r.POST("/settings", h.UpdateSettings)
	return r, cfg
}

func postSettings(r *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/settings", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestUpdateSettingsCreatesUploadLocation(t *testing.T) {
	r, cfg := settingsRouter(t)
	dir := filepath.Join(t.TempDir(), "new", "uploads")

	w := postSettings(r, `{"uploadLocation":"`+dir+`","defaultTargetFormat":"pdf"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, dir, cfg.UploadLocation())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUpdateSettingsRejectsBadInput(t *testing.T) {
	r, _ := settingsRouter(t)

	w := postSettings(r, `{"uploadLocation":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	file := filepath.Join(t.TempDir(), "plain-file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	w = postSettings(r, `{"uploadLocation":"`+file+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSettingsFallsBackToUploadDir(t *testing.T) {
	r, cfg := settingsRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/settings", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var settings config.UserSettings
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &settings))
	assert.Equal(t, cfg.Conversion.UploadDir, settings.UploadLocation)
	assert.Empty(t, settings.DefaultTargetFormat)
}
