package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth(version string) {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
		version:    version,
	}
}

func TestSetComponent(t *testing.T) {
	resetHealth("")

	SetComponent("runtime", true, "connected")
	SetComponent("runtime", false, "ping failed")

	require.Len(t, healthChecker.components, 1)
	comp := healthChecker.components["runtime"]
	assert.False(t, comp.Healthy)
	assert.Equal(t, "ping failed", comp.Message)
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		expected   string
	}{
		{"all healthy", map[string]bool{ComponentRuntime: true, ComponentReconciler: true}, "healthy"},
		{"one unhealthy", map[string]bool{ComponentRuntime: false, ComponentReconciler: true}, "unhealthy"},
		{"nothing registered", nil, "healthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth("1.0.0")
			for name, healthy := range tt.components {
				SetComponent(name, healthy, "down")
			}

			health := GetHealth()
			assert.Equal(t, tt.expected, health.Status)
			assert.Len(t, health.Components, len(tt.components))
			assert.Equal(t, "1.0.0", health.Version)
		})
	}
}

func TestGetHealth_UnhealthyMessage(t *testing.T) {
	resetHealth("")
	SetComponent(ComponentRuntime, false, "connection refused")

	health := GetHealth()
	assert.Equal(t, "unhealthy: connection refused", health.Components[ComponentRuntime])
}

func TestGetReadiness(t *testing.T) {
	t.Run("all critical components ready", func(t *testing.T) {
		resetHealth("")
		SetComponent(ComponentRuntime, true, "")
		SetComponent(ComponentReconciler, true, "")

		assert.Equal(t, "ready", GetReadiness().Status)
	})

	t.Run("reconciler not registered", func(t *testing.T) {
		resetHealth("")
		SetComponent(ComponentRuntime, true, "")

		readiness := GetReadiness()
		assert.Equal(t, "not_ready", readiness.Status)
		assert.Contains(t, readiness.Message, ComponentReconciler)
		assert.Equal(t, "not registered", readiness.Components[ComponentReconciler])
	})

	t.Run("runtime unhealthy", func(t *testing.T) {
		resetHealth("")
		SetComponent(ComponentRuntime, false, "ping failed")
		SetComponent(ComponentReconciler, true, "")

		assert.Equal(t, "not_ready", GetReadiness().Status)
	})
}

func TestHealthHandler(t *testing.T) {
	resetHealth("test")
	SetComponent(ComponentRuntime, true, "")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	resetHealth("")
	SetComponent(ComponentRuntime, false, "broken")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReadyHandler(t *testing.T) {
	resetHealth("")
	SetComponent(ComponentRuntime, true, "")

	w := httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	SetComponent(ComponentReconciler, true, "")

	w = httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServeMux(t *testing.T) {
	resetHealth("")
	srv := httptest.NewServer(NewServeMux())
	defer srv.Close()

	for _, path := range []string{"/metrics", "/health", "/live"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err, path)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
