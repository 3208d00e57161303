// Package auth keeps the OAuth tokens used to push backups to cloud
// storage. Credentials and tokens live in the application directory.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

type Provider interface {
	Name() string
	Authorize(ctx context.Context) error
}

// tokenStore reads and writes one provider's token file.
type tokenStore struct {
	dir      string
	file     string
	provider string
}

func (s tokenStore) path() string {
	return filepath.Join(s.dir, s.file)
}

func (s tokenStore) load() (*oauth2.Token, error) {
	b, err := os.ReadFile(s.path())
	if err != nil {
		return nil, fmt.Errorf("%s auth needed, run 'cfgvault auth %s' first: %w", s.provider, s.provider, err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(b, &token); err != nil {
		return nil, fmt.Errorf("failed to parse %s token: %w", s.provider, err)
	}

	return &token, nil
}

func (s tokenStore) save(token *oauth2.Token) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.dir, err)
	}

	b, err := json.Marshal(token)
	if err != nil {
		return err
	}

	if err := os.WriteFile(s.path(), b, 0600); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	return nil
}

// persistingSource writes refreshed tokens back to disk.
type persistingSource struct {
	src   oauth2.TokenSource
	store tokenStore
	last  string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	t, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	if t.AccessToken != p.last {
		p.last = t.AccessToken
		_ = p.store.save(t)
	}

	return t, nil
}

func newPersistingSource(ctx context.Context, cfg *oauth2.Config, store tokenStore) (oauth2.TokenSource, error) {
	token, err := store.load()
	if err != nil {
		return nil, err
	}

	return oauth2.ReuseTokenSource(token, &persistingSource{
		src:   cfg.TokenSource(ctx, token),
		store: store,
		last:  token.AccessToken,
	}), nil
}
