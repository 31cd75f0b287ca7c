package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/tavernhq/tavernmsg/internal/obs"
)

func TestLoginStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var creds map[string]string
		json.NewDecoder(r.Body).Decode(&creds)
		if creds["username"] != "bran" {
			t.Errorf("username = %q", creds["username"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"token": "tok-123", "user_id": 7, "username": "bran",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, obs.Discard())
	resp, err := c.Login(context.Background(), "bran", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Token != "tok-123" || resp.UserID != 7 {
		t.Fatalf("resp = %+v", resp)
	}
	if c.token != "tok-123" {
		t.Error("token was not retained on the client")
	}
}

func TestUploadMultipart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "map.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/10/upload/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		files := r.MultipartForm.File["files"]
		if len(files) != 1 || files[0].Filename != "map.png" {
			t.Fatalf("files = %+v", files)
		}
		json.NewEncoder(w).Encode(map[string]any{"file_ids": []string{"f-1"}})
	}))
	defer srv.Close()

	c := New(srv.URL, obs.Discard())
	c.SetToken("tok")
	ids, err := c.Upload(context.Background(), 10, []string{path})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(ids) != 1 || ids[0] != "f-1" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestUploadErrorSurfaced(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.bin")
	os.WriteFile(path, []byte("x"), 0o644)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		json.NewEncoder(w).Encode(map[string]string{"error": "file too large"})
	}))
	defer srv.Close()

	c := New(srv.URL, obs.Discard())
	c.SetToken("tok")
	if _, err := c.Upload(context.Background(), 10, []string{path}); err == nil {
		t.Fatal("expected an error for a non-2xx response")
	}
}

func TestStartConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/start/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		parts, _ := body["participants"].([]any)
		if len(parts) != 1 || parts[0] != "mira" {
			t.Errorf("participants = %v", body["participants"])
		}
		json.NewEncoder(w).Encode(map[string]any{"id": 42, "is_group": false})
	}))
	defer srv.Close()

	c := New(srv.URL, obs.Discard())
	c.SetToken("tok")
	conv, err := c.StartConversation(context.Background(), []string{"mira"}, false, "")
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if conv.ID != 42 || conv.IsGroup {
		t.Fatalf("conv = %+v", conv)
	}
}
