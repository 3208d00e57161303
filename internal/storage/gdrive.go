package storage

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"cfgvault/internal/auth"

	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"
)

const folderMime = "application/vnd.google-apps.folder"

type GDrive struct {
	svc      *drive.Service
	folder   string
	folderID string
}

func NewGDrive(ctx context.Context, p *auth.GDrive, folder string, log *zap.Logger) (*GDrive, error) {
	svc, err := p.NewService(ctx)
	if err != nil {
		return nil, err
	}

	r := &GDrive{svc: svc, folder: strings.Trim(filepath.ToSlash(folder), "/")}

	id, err := r.ensureFolderPath(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare gdrive folder: %w", err)
	}
	r.folderID = id

	log.Info("gdrive remote ready",
		zap.String("folder", r.folder),
		zap.String("folder_id", id))

	return r, nil
}

func (r *GDrive) Name() string { return "gdrive:" + r.folder }

func (r *GDrive) Push(ctx context.Context, name string, content []byte) error {
	f := &drive.File{
		Name:    name,
		Parents: []string{r.folderID},
	}

	if _, err := r.svc.Files.Create(f).Media(bytes.NewReader(content)).Fields("id").Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	return nil
}

func (r *GDrive) ensureFolderPath(ctx context.Context) (string, error) {
	parentID := "root"
	if r.folder == "" {
		return parentID, nil
	}

	for _, part := range strings.Split(r.folder, "/") {
		id, err := r.findFolder(ctx, part, parentID)
		if err != nil {
			return "", err
		}

		if id == "" {
			id, err = r.createFolder(ctx, part, parentID)
			if err != nil {
				return "", err
			}
		}

		parentID = id
	}

	return parentID, nil
}

func (r *GDrive) findFolder(ctx context.Context, name, parentID string) (string, error) {
	q := fmt.Sprintf("name='%s' and '%s' in parents and mimeType='%s' and trashed=false",
		escapeDriveName(name), parentID, folderMime)

	list, err := r.svc.Files.List().Q(q).Fields("files(id)").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(list.Files) == 0 {
		return "", nil
	}

	return list.Files[0].Id, nil
}

func (r *GDrive) createFolder(ctx context.Context, name, parentID string) (string, error) {
	f := &drive.File{
		Name:     name,
		MimeType: folderMime,
		Parents:  []string{parentID},
	}

	created, err := r.svc.Files.Create(f).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create folder %s: %w", name, err)
	}

	return created.Id, nil
}

func escapeDriveName(name string) string {
	return strings.ReplaceAll(name, "'", "\\'")
}
