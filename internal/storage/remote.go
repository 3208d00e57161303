package storage

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"cfgvault/internal/auth"
	"cfgvault/internal/config"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// NewRemote builds the remote named by cfg.Type, or nil for "none".
func NewRemote(ctx context.Context, cfg config.RemoteConfig, hostKeys ssh.HostKeyCallback, appDir string, log *zap.Logger) (Remote, error) {
	addr := func(defaultPort int) string {
		port := cfg.Port
		if port == 0 {
			port = defaultPort
		}
		return net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	}

	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "sftp":
		return NewSFTP(addr(22), cfg.Username, cfg.Password, cfg.Path, hostKeys), nil
	case "ftp":
		return NewFTP(addr(21), cfg.Username, cfg.Password, cfg.Path), nil
	case "tftp":
		return NewTFTP(addr(69), cfg.Path), nil
	case "gdrive":
		return NewGDrive(ctx, auth.NewGDrive(appDir), cfg.Path, log)
	case "dropbox":
		return NewDropbox(ctx, auth.NewDropbox(appDir), cfg.Path, log)
	default:
		return nil, fmt.Errorf("unsupported remote type: %s", cfg.Type)
	}
}
