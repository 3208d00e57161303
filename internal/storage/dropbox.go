package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"cfgvault/internal/auth"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"go.uber.org/zap"
)

type Dropbox struct {
	client files.Client
	folder string
}

func NewDropbox(ctx context.Context, p *auth.Dropbox, folder string, log *zap.Logger) (*Dropbox, error) {
	client, err := p.NewClient(ctx)
	if err != nil {
		return nil, err
	}

	folder = dropboxPath(folder)
	if folder != "/" {
		if err := ensureDropboxFolder(client, folder); err != nil {
			return nil, fmt.Errorf("failed to prepare dropbox folder: %w", err)
		}
	}

	log.Info("dropbox remote ready", zap.String("folder", folder))

	return &Dropbox{client: client, folder: folder}, nil
}

func (r *Dropbox) Name() string { return "dropbox:" + r.folder }

// Push uploads content. The SDK takes no context, so cancellation only
// takes effect between requests.
func (r *Dropbox) Push(ctx context.Context, name string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	arg := files.NewUploadArg(strings.TrimSuffix(r.folder, "/") + "/" + name)
	arg.Mode = &files.WriteMode{Tagged: dropbox.Tagged{Tag: "add"}}
	arg.Autorename = false

	if _, err := r.client.Upload(arg, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("failed to upload to dropbox: %w", err)
	}

	return nil
}

func ensureDropboxFolder(client files.Client, path string) error {
	arg := files.NewCreateFolderArg(path)
	arg.Autorename = false

	if _, err := client.CreateFolderV2(arg); err != nil {
		if isDropboxConflict(err) {
			return nil
		}
		return err
	}

	return nil
}

func dropboxPath(p string) string {
	return "/" + strings.Trim(filepath.ToSlash(p), "/")
}

func isDropboxConflict(err error) bool {
	if apiErr, ok := errors.AsType[files.CreateFolderV2APIError](err); ok {
		return apiErr.EndpointError != nil &&
			apiErr.EndpointError.Path != nil &&
			apiErr.EndpointError.Path.Tag == "conflict"
	}

	return false
}
