package gdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/Ning0612/pubsync/internal/domain"
)

func TestTokenSource_MissingToken(t *testing.T) {
	auth := NewAuthenticator("id", "secret", filepath.Join(t.TempDir(), "token.json"))
	if _, err := auth.TokenSource(context.Background()); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestTokenSource_ExpiredWithoutRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	auth := NewAuthenticator("id", "secret", path)
	if err := auth.saveToken(&oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatalf("saveToken failed: %v", err)
	}
	if _, err := auth.TokenSource(context.Background()); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestTokenSource_ValidToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	auth := NewAuthenticator("id", "secret", path)

	want := &oauth2.Token{AccessToken: "abc", RefreshToken: "r", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
	if err := auth.saveToken(want); err != nil {
		t.Fatalf("saveToken failed: %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("token file mode = %o, want 600", perm)
		}
	}

	src, err := auth.TokenSource(context.Background())
	if err != nil {
		t.Fatalf("TokenSource failed: %v", err)
	}
	got, err := src.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if got.AccessToken != "abc" || got.RefreshToken != "r" {
		t.Errorf("unexpected token %+v", got)
	}
}

func TestTokenSource_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	auth := NewAuthenticator("id", "secret", path)
	_, err := auth.TokenSource(context.Background())
	var syntax *json.SyntaxError
	if !errors.As(err, &syntax) {
		t.Errorf("expected JSON syntax error, got %v", err)
	}
}

func TestAuthenticate_EmptyCode(t *testing.T) {
	auth := NewAuthenticator("client-123", "secret", filepath.Join(t.TempDir(), "token.json"))

	var out bytes.Buffer
	_, err := auth.Authenticate(context.Background(), strings.NewReader("\n"), &out)
	if !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
	if !strings.Contains(out.String(), "client_id=client-123") {
		t.Errorf("consent URL not printed:\n%s", out.String())
	}
	if _, err := os.Stat(auth.TokenPath()); !os.IsNotExist(err) {
		t.Error("no token should be written without a code")
	}
}

func TestNewAuthenticator_DefaultPath(t *testing.T) {
	auth := NewAuthenticator("id", "secret", "")
	if filepath.Base(auth.TokenPath()) != DefaultTokenFile {
		t.Errorf("TokenPath() = %q", auth.TokenPath())
	}
}
