package storage

import (
	"context"
	"fmt"

	"comfyrelay/internal/adapters/storage/gdrive"
	"comfyrelay/internal/adapters/storage/localfs"
	"comfyrelay/internal/adapters/storage/miniostore"
	"comfyrelay/internal/adapters/storage/s3"
	"comfyrelay/internal/config"
)

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(ctx context.Context, cfg config.StorageConfig) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "s3":
		store, err := s3.New(s3.Config{
			Endpoint:  cfg.S3.URL(),
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return store, nil

	case "minio":
		store, err := miniostore.New(miniostore.Config{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Region:    cfg.Minio.Region,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("minio bucket: %w", err)
		}
		return store, nil

	case "localfs":
		return localfs.New(cfg.LocalFS.Root), nil

	case "gdrive":
		srv, err := gdrive.NewService(ctx, cfg.GDrive.ClientID, cfg.GDrive.ClientSecret, cfg.GDrive.RefreshToken)
		if err != nil {
			return nil, err
		}
		return gdrive.NewClient(srv, cfg.GDrive.FolderID), nil

	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}
