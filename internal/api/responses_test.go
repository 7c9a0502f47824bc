package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"id": "abc"})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["id"] != "abc" {
		t.Errorf("id = %q, want %q", body["id"], "abc")
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusNotFound, "session not found")

	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error != "session not found" {
		t.Errorf("error = %q, want %q", body.Error, "session not found")
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		want   int
		wantOK bool
	}{
		{"present", "/?limit=25", 25, true},
		{"missing", "/", 0, false},
		{"invalid", "/?limit=abc", 0, false},
		{"negative", "/?limit=-3", -3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			got, ok := QueryInt(req, "limit")
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("QueryInt = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestQueryStringList(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?types=load_complete,%20transcription%20,,", nil)
	got := QueryStringList(req, "types")
	want := []string{"load_complete", "transcription"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("QueryStringList = %v, want %v", got, want)
	}

	if got := QueryStringList(req, "absent"); got != nil {
		t.Errorf("QueryStringList(absent) = %v, want nil", got)
	}
}

func TestDecodeJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"content":"hi"}`))
	var body struct {
		Content string `json:"content"`
	}
	if err := DecodeJSON(req, &body); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if body.Content != "hi" {
		t.Errorf("content = %q, want %q", body.Content, "hi")
	}
}
