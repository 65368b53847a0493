package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/schema-registry/internal/platform/logger"
)

// GCSWriter publishes artifacts to a bucket fronted by the CDN.
type GCSWriter struct {
	client *storage.Client
	bucket string
	log    *logger.Logger
}

func clientOptions(cfg Config) []option.ClientOption {
	if cfg.Backend == BackendGCSEmulator {
		return []option.ClientOption{option.WithoutAuthentication()}
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	creds := strings.TrimSpace(cfg.Credentials)
	switch {
	case creds == "":
	case strings.HasPrefix(creds, "{"):
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	default:
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	return opts
}

func NewGCSWriter(ctx context.Context, cfg Config, log *logger.Logger) (*GCSWriter, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	if cfg.Backend == BackendMemory {
		return nil, fmt.Errorf("gcs writer requested with memory backend")
	}
	if cfg.Backend == BackendGCSEmulator {
		// The storage client only honors the emulator through the environment.
		_ = os.Setenv("STORAGE_EMULATOR_HOST", cfg.EmulatorHost)
	}
	client, err := storage.NewClient(ctx, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	serviceLog := log.With("service", "ArtifactWriter")
	serviceLog.Info("artifact storage initialized", "backend", cfg.Backend, "bucket", cfg.Bucket, "emulator_host", cfg.EmulatorHost)
	return &GCSWriter{client: client, bucket: cfg.Bucket, log: serviceLog}, nil
}

func (w *GCSWriter) WriteArtifact(ctx context.Context, a Artifact) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	ow := w.client.Bucket(w.bucket).Object(a.Key()).NewWriter(ctx)
	ow.ContentType = a.ContentType()
	ow.CacheControl = "no-cache"
	if _, err := io.Copy(ow, bytes.NewReader(a.Payload)); err != nil {
		_ = ow.Close()
		return fmt.Errorf("failed to write artifact to GCS: %w", err)
	}
	if err := ow.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	w.log.Debug("artifact written", "key", a.Key(), "bytes", len(a.Payload))
	return nil
}

func (w *GCSWriter) Close() error {
	if w == nil || w.client == nil {
		return nil
	}
	return w.client.Close()
}

// New builds the writer for cfg's backend.
func New(ctx context.Context, cfg Config, log *logger.Logger) (Writer, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	if cfg.Backend == BackendMemory {
		log.Warn("artifact backend is memory; CDN artifacts are not persisted")
		return NewMemoryWriter(), nil
	}
	return NewGCSWriter(ctx, cfg, log)
}
