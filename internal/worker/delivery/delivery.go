// Package delivery turns located artifacts into response values, either
// inline as base64 or as references into durable storage.
package delivery

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"comfyrelay/internal/models"
	"comfyrelay/internal/pkg/logger"
	"comfyrelay/internal/worker/artifacts"
)

// Deliverer renders the located artifacts, one entry per kind, in
// artifacts.Tracked order.
type Deliverer interface {
	Name() string
	Deliver(ctx context.Context, found map[artifacts.Kind]artifacts.Record) ([]models.Artifact, error)
}

// Inline embeds file bytes as standard base64. Absent kinds are omitted.
type Inline struct{}

func (Inline) Name() string { return "inline" }

func (Inline) Deliver(_ context.Context, found map[artifacts.Kind]artifacts.Record) ([]models.Artifact, error) {
	out := make([]models.Artifact, 0, len(found))
	for _, kind := range artifacts.Tracked {
		rec, ok := found[kind]
		if !ok {
			continue
		}
		data, err := os.ReadFile(rec.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rec.Filename, err)
		}
		out = append(out, models.Artifact{
			Kind:     string(kind),
			Filename: rec.Filename,
			Value:    base64.StdEncoding.EncodeToString(data),
		})
	}
	return out, nil
}

// FileUploader uploads a local file and returns its remote reference.
type FileUploader interface {
	Upload(ctx context.Context, localPath, folder string) (ref string, ok bool)
}

// Storage uploads every located artifact under Folder. Kinds that are absent
// or fail to upload are rendered as null.
type Storage struct {
	uploader FileUploader
	folder   string
	log      *logger.Logger
}

func NewStorage(u FileUploader, folder string, log *logger.Logger) *Storage {
	if log == nil {
		log = logger.Discard()
	}
	return &Storage{uploader: u, folder: folder, log: log.WithComponent("delivery")}
}

func (*Storage) Name() string { return "storage" }

func (s *Storage) Deliver(ctx context.Context, found map[artifacts.Kind]artifacts.Record) ([]models.Artifact, error) {
	out := make([]models.Artifact, 0, len(artifacts.Tracked))
	for _, kind := range artifacts.Tracked {
		rec, ok := found[kind]
		if !ok {
			out = append(out, models.Artifact{Kind: string(kind), Missing: true})
			continue
		}

		ref, ok := s.uploader.Upload(ctx, rec.Path, s.folder)
		if !ok {
			s.log.FromContext(ctx).Warn("artifact dropped after failed upload", "kind", kind, "filename", rec.Filename)
			out = append(out, models.Artifact{Kind: string(kind), Missing: true})
			continue
		}
		out = append(out, models.Artifact{Kind: string(kind), Filename: rec.Filename, Value: ref})
	}
	return out, nil
}
