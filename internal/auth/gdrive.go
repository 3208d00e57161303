package auth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	gdriveCredFile  = "gdrive_credentials.json"
	gdriveTokenFile = "gdrive_token.json"
)

type GDrive struct {
	dir   string
	in    io.Reader
	out   io.Writer
	store tokenStore
}

func NewGDrive(dir string) *GDrive {
	return &GDrive{
		dir:   dir,
		in:    os.Stdin,
		out:   os.Stdout,
		store: tokenStore{dir: dir, file: gdriveTokenFile, provider: "gdrive"},
	}
}

func (g *GDrive) Name() string { return "gdrive" }

func (g *GDrive) config() (*oauth2.Config, error) {
	b, err := os.ReadFile(filepath.Join(g.dir, gdriveCredFile))
	if err != nil {
		return nil, fmt.Errorf("%s not found in %s: %w", gdriveCredFile, g.dir, err)
	}

	cfg, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	return cfg, nil
}

func (g *GDrive) Authorize(ctx context.Context) error {
	cfg, err := g.config()
	if err != nil {
		return err
	}

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	_, _ = fmt.Fprintf(g.out, "Visit the URL for the auth dialog:\n\n%s\n\nEnter the code here: ", authURL)

	code, err := bufio.NewReader(g.in).ReadString('\n')
	if err != nil && strings.TrimSpace(code) == "" {
		return fmt.Errorf("failed to read code: %w", err)
	}

	token, err := cfg.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return fmt.Errorf("failed to exchange token: %w", err)
	}

	if err := g.store.save(token); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(g.out, "Token saved to %s\n", g.store.path())
	return nil
}

func (g *GDrive) NewService(ctx context.Context) (*drive.Service, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}

	ts, err := newPersistingSource(ctx, cfg, g.store)
	if err != nil {
		return nil, err
	}

	svc, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create gdrive service: %w", err)
	}

	return svc, nil
}
