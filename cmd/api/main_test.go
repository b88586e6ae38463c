package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/handlers"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/metrics"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/orders"
)

func TestSetupRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	prom := metrics.NewPrometheus("test")
	svc := orders.NewService(orders.NewMemoryStore(), nil, prom, zerolog.Nop())
	cfg := handlers.HandlerConfig{Service: svc, Logger: zerolog.Nop()}

	r := setupRouter(cfg, prom, true)
	for path, want := range map[string]int{
		"/health":  http.StatusOK,
		"/metrics": http.StatusOK,
		"/orders":  http.StatusOK,
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, w.Code, path)
	}

	r = setupRouter(cfg, prom, false)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
