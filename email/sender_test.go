package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gurbetci/authcore/core"
)

func TestSendPostsTemplatePayload(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key-1" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "key-1")
	err := s.Send(context.Background(), "a@example.com", core.TemplateOTP, map[string]string{"code": "123456"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.To != "a@example.com" || got.Template != "otp" || got.Data["code"] != "123456" {
		t.Fatalf("unexpected payload: %+v", got)
	}

	// The link-style reset template travels the same way.
	err = s.Send(context.Background(), "a@example.com", core.TemplatePasswordReset, map[string]string{"link": "app://reset?token=t"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Template != "password-reset" {
		t.Fatalf("template = %q, want password-reset", got.Template)
	}
}

func TestSendSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "template not found", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "")
	err := s.Send(context.Background(), "a@example.com", "nope", nil)
	if err == nil {
		t.Fatal("want error on 422")
	}
}
