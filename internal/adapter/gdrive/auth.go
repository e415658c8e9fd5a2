package gdrive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"

	"github.com/Ning0612/pubsync/internal/domain"
)

// DefaultTokenFile is the token file name used when a transport sets no token_path
const DefaultTokenFile = "gdrive-token.json"

// Authenticator runs the OAuth consent flow and keeps the Drive token on disk
type Authenticator struct {
	config    *oauth2.Config
	tokenPath string
}

// NewAuthenticator creates an authenticator. An empty tokenPath stores the
// token in the user config directory.
func NewAuthenticator(clientID, clientSecret, tokenPath string) *Authenticator {
	if tokenPath == "" {
		tokenPath = DefaultTokenFile
		if dir, err := os.UserConfigDir(); err == nil {
			tokenPath = filepath.Join(dir, "pubsync", DefaultTokenFile)
		}
	}

	return &Authenticator{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			// Only files created or opened by pubsync
			Scopes:   []string{drive.DriveFileScope},
			Endpoint: google.Endpoint,
		},
		tokenPath: tokenPath,
	}
}

// TokenSource returns a source backed by the stored token. Refreshed tokens
// are written back so a long synchronization does not lose them.
func (a *Authenticator) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	token, err := a.loadToken()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no Google Drive token at %s, run 'pubsync auth' first",
				domain.ErrNotAuthenticated, a.tokenPath)
		}
		return nil, err
	}
	if !token.Valid() && token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: Google Drive token expired, run 'pubsync auth' again",
			domain.ErrNotAuthenticated)
	}

	src := &savingSource{
		auth: a,
		base: a.config.TokenSource(ctx, token),
		last: token.AccessToken,
	}
	// Fail early instead of on the first listing call
	if _, err := src.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNotAuthenticated, err)
	}
	return src, nil
}

// Authenticate prints the consent URL to out, reads the authorization code
// from in and stores the resulting token
func (a *Authenticator) Authenticate(ctx context.Context, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	state := uuid.NewString()
	url := a.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	fmt.Fprintf(out, "Open this URL in a browser and authorize pubsync:\n\n  %s\n\n", url)
	fmt.Fprint(out, "Authorization code: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read authorization code: %w", err)
	}
	code := strings.TrimSpace(line)
	if code == "" {
		return nil, fmt.Errorf("%w: no authorization code entered", domain.ErrNotAuthenticated)
	}

	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if err := a.saveToken(token); err != nil {
		return nil, err
	}
	return token, nil
}

// TokenPath returns where the token is stored
func (a *Authenticator) TokenPath() string {
	return a.tokenPath
}

func (a *Authenticator) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(a.tokenPath)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("invalid token file %s: %w", a.tokenPath, err)
	}
	return &token, nil
}

// saveToken replaces the token file through a temporary sibling
func (a *Authenticator) saveToken(token *oauth2.Token) error {
	dir := filepath.Dir(a.tokenPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".gdrive-token-*")
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save token: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	if err := os.Rename(tmp.Name(), a.tokenPath); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// savingSource persists every token the underlying source refreshes
type savingSource struct {
	auth *Authenticator
	base oauth2.TokenSource

	mu   sync.Mutex
	last string
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken != s.last {
		s.last = token.AccessToken
		// A failed write only costs a refresh on the next run
		_ = s.auth.saveToken(token)
	}
	return token, nil
}
