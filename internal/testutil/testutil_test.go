package testutil

import (
	"net/http"
	"testing"
)

func TestNewTestRequest(t *testing.T) {
	t.Parallel()

	req := NewTestRequest(http.MethodPost, "/api/correct")
	if req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.Method)
	}
	if req.URL.Path != "/api/correct" {
		t.Errorf("path = %s, want /api/correct", req.URL.Path)
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	rec := NewTestRecorder()
	rec.Body.WriteString(`{"matched": true, "qualityGrade": "GOOD"}`)

	var out struct {
		Matched      bool   `json:"matched"`
		QualityGrade string `json:"qualityGrade"`
	}
	DecodeJSON(t, rec, &out)

	if !out.Matched || out.QualityGrade != "GOOD" {
		t.Errorf("decoded %+v, want matched=true grade=GOOD", out)
	}
}

func TestAssertStatusCodeMatching(t *testing.T) {
	t.Parallel()

	// A matching pair must not fail the test.
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
}
