package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleRouteChart_RendersHTMLForLoadedRoute(t *testing.T) {
	srv, _ := setupTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/debug/route/1/1/chart", nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.True(t, strings.Contains(w.Body.String(), "<html"))
}

func TestHandleRouteChart_NotFoundWhenNoRoute(t *testing.T) {
	srv, _ := setupTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/debug/route/1/999/chart", nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleRouteChartRoute_MalformedPathIsNotFound(t *testing.T) {
	srv, _ := setupTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/debug/route/1/1", nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleRouteChartRoute_InvalidIDIsBadRequest(t *testing.T) {
	srv, _ := setupTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/debug/route/x/1/chart", nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
