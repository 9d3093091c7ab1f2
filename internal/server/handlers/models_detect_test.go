package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/poemonsense/antigravity-proxy-go/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestModelDetectHandler_MissingModelParam(t *testing.T) {
	h := NewModelDetectHandler(&config.Config{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/models/detect", nil)

	h.Detect(c)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", w.Code)
	}
}

func TestModelDetectHandler_ResolvesThroughMapping(t *testing.T) {
	cfg := &config.Config{ModelMapping: map[string]string{"gpt-4o": config.WebSearchCapableModel}}
	h := NewModelDetectHandler(cfg)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/models/detect?model=gpt-4o", nil)

	h.Detect(c)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}

	var got ModelCapabilities
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if got.ResolvedModel != config.WebSearchCapableModel || !got.WebSearch {
		t.Fatalf("unexpected capabilities: %+v", got)
	}
	if got.ImageGen {
		t.Fatalf("expected image_gen_capable to be false for %+v", got)
	}
}

func TestModelDetectHandler_ImageGenPrefix(t *testing.T) {
	cfg := &config.Config{ModelMapping: map[string]string{}}
	h := NewModelDetectHandler(cfg)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/models/detect?model="+config.ImageGenModelPrefix, nil)

	h.Detect(c)

	var got ModelCapabilities
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !got.ImageGen {
		t.Fatalf("expected image_gen_capable for %+v", got)
	}
}
