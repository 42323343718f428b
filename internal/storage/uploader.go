package storage

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"time"

	"k8s.io/utils/clock"

	"comfyrelay/internal/pkg/logger"
	"comfyrelay/internal/ports"
)

// Uploader copies local artifacts into durable storage.
type Uploader struct {
	provider Provider
	clk      clock.PassiveClock
	log      *logger.Logger
}

func NewUploader(p Provider, clk clock.PassiveClock, log *logger.Logger) *Uploader {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Uploader{provider: p, clk: clk, log: log.WithComponent("uploader")}
}

// ObjectKey returns <folder>/<UTC date>/<filename>.
func ObjectKey(folder string, at time.Time, filename string) string {
	return path.Join(folder, at.UTC().Format("2006-01-02"), filename)
}

// Upload stores the file at localPath under folder and returns the remote
// reference. Failures are logged and reported as ok == false.
func (u *Uploader) Upload(ctx context.Context, localPath, folder string) (ref string, ok bool) {
	filename := filepath.Base(localPath)
	key := ObjectKey(folder, u.clk.Now(), filename)
	log := u.log.FromContext(ctx).With("object_key", key, "provider", u.provider.Provider())

	f, err := os.Open(localPath)
	if err != nil {
		log.Error("upload failed: open artifact", "error", err)
		return "", false
	}
	defer f.Close()

	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}

	out, err := u.provider.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: "application/octet-stream",
		Reader:      f,
		Size:        size,
	})
	if err != nil {
		log.Error("upload failed", "error", err)
		return "", false
	}

	log.Info("artifact uploaded", "bytes", out.Size, "reference", out.Reference)
	return out.Reference, true
}
