package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"golang.org/x/oauth2"
)

const (
	dropboxCredFile  = "dropbox_credentials.json"
	dropboxTokenFile = "dropbox_token.json"
	dropboxCallback  = "localhost:9999"
)

type dropboxCredentials struct {
	AppKey    string `json:"app_key"`
	AppSecret string `json:"app_secret"`
}

var dropboxEndpoint = oauth2.Endpoint{
	AuthURL:  "https://www.dropbox.com/oauth2/authorize",
	TokenURL: "https://api.dropboxapi.com/oauth2/token",
}

type Dropbox struct {
	dir   string
	out   io.Writer
	store tokenStore
}

func NewDropbox(dir string) *Dropbox {
	return &Dropbox{
		dir:   dir,
		out:   os.Stdout,
		store: tokenStore{dir: dir, file: dropboxTokenFile, provider: "dropbox"},
	}
}

func (d *Dropbox) Name() string { return "dropbox" }

func (d *Dropbox) config() (*oauth2.Config, error) {
	b, err := os.ReadFile(filepath.Join(d.dir, dropboxCredFile))
	if err != nil {
		return nil, fmt.Errorf("%s not found in %s: %w", dropboxCredFile, d.dir, err)
	}

	var creds dropboxCredentials
	if err := json.Unmarshal(b, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse dropbox credentials: %w", err)
	}
	if creds.AppKey == "" {
		return nil, errors.New("dropbox credentials have no app_key")
	}

	return &oauth2.Config{
		ClientID:     creds.AppKey,
		ClientSecret: creds.AppSecret,
		Endpoint:     dropboxEndpoint,
		RedirectURL:  "http://" + dropboxCallback + "/callback",
		Scopes:       []string{"files.content.write"},
	}, nil
}

func (d *Dropbox) Authorize(ctx context.Context) error {
	cfg, err := d.config()
	if err != nil {
		return err
	}

	authURL := cfg.AuthCodeURL("state-token",
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("token_access_type", "offline"))

	_, _ = fmt.Fprintf(d.out, "Visit the URL for the auth dialog:\n\n%s\n\n", authURL)

	codeCh := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		select {
		case codeCh <- r.URL.Query().Get("code"):
		default:
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintln(w, "<h2>Authentication complete. You can close this window.</h2>")
	})

	srv := &http.Server{Addr: dropboxCallback, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	_, _ = fmt.Fprintln(d.out, "Waiting for the browser login to complete...")

	select {
	case code := <-codeCh:
		token, err := cfg.Exchange(ctx, code)
		if err != nil {
			return fmt.Errorf("failed to exchange token: %w", err)
		}
		if err := d.store.save(token); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(d.out, "Dropbox token saved to %s\n", d.store.path())
		return nil
	case <-time.After(2 * time.Minute):
		return errors.New("authorization timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dropbox) NewClient(ctx context.Context) (files.Client, error) {
	cfg, err := d.config()
	if err != nil {
		return nil, err
	}

	ts, err := newPersistingSource(ctx, cfg, d.store)
	if err != nil {
		return nil, err
	}

	token, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh dropbox token: %w", err)
	}

	return files.New(dropbox.Config{Token: token.AccessToken}), nil
}
