package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeBase(t *testing.T) {
	for in, want := range map[string]string{
		"":        "",
		"/":       "",
		" gw ":    "/gw",
		"/gw/":    "/gw",
		"api/v2/": "/api/v2",
	} {
		assert.Equal(t, want, sanitizeBase(in), in)
	}
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	writeJSON(c, http.StatusTeapot, map[string]int{"a": 1})
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"a":1}`, w.Body.String())
}
