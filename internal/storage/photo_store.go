package storage

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/holder-rounds/internal/circuitbreaker"
	"github.com/holder-rounds/internal/config"
)

// PhotoStore persists an uploaded photo and returns its public URL
type PhotoStore interface {
	Upload(ctx context.Context, name string, format string, data []byte) (string, error)
}

// NewPhotoStore returns a Cloudinary store when credentials are configured, a local disk store otherwise
func NewPhotoStore(cfg *config.PhotoConfig) (PhotoStore, error) {
	if cfg.CloudinaryEnabled() {
		return NewCloudinaryPhotoStore(cfg)
	}
	log.Printf("[PhotoStore] Cloudinary not configured, storing photos under %s", cfg.LocalDir)
	return NewLocalPhotoStore(cfg.LocalDir, cfg.PublicBaseURL)
}

// CloudinaryPhotoStore uploads photos to Cloudinary
type CloudinaryPhotoStore struct {
	cld     *cloudinary.Cloudinary
	folder  string
	breaker *circuitbreaker.CircuitBreaker
}

// NewCloudinaryPhotoStore creates a Cloudinary backed photo store
func NewCloudinaryPhotoStore(cfg *config.PhotoConfig) (*CloudinaryPhotoStore, error) {
	if !cfg.CloudinaryEnabled() {
		return nil, fmt.Errorf("cloudinary configuration is missing")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &CloudinaryPhotoStore{
		cld:     cld,
		folder:  cfg.Folder,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("cloudinary")),
	}, nil
}

// Upload sends the photo to Cloudinary and returns its secure URL
func (s *CloudinaryPhotoStore) Upload(ctx context.Context, name string, format string, data []byte) (string, error) {
	var secureURL string

	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		res, err := s.cld.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
			PublicID:     name,
			Folder:       s.folder,
			ResourceType: "image",
			Format:       format,
		})
		if err != nil {
			return fmt.Errorf("failed to upload to cloudinary: %w", err)
		}
		if res.Error.Message != "" {
			return fmt.Errorf("cloudinary rejected upload: %s", res.Error.Message)
		}
		secureURL = res.SecureURL
		return nil
	})
	if err != nil {
		return "", err
	}
	return secureURL, nil
}

// LocalPhotoStore writes photos to a directory served by the API
type LocalPhotoStore struct {
	dir     string
	baseURL string
}

// NewLocalPhotoStore creates the directory if needed
func NewLocalPhotoStore(dir, baseURL string) (*LocalPhotoStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("photo directory is not configured")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create photo directory: %w", err)
	}
	return &LocalPhotoStore{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Dir returns the directory photos are written to
func (s *LocalPhotoStore) Dir() string {
	return s.dir
}

// Upload writes the photo as <name>.<format> and returns its URL
func (s *LocalPhotoStore) Upload(ctx context.Context, name string, format string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	filename := filepath.Base(name) + "." + format
	if err := os.WriteFile(filepath.Join(s.dir, filename), data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write photo: %w", err)
	}
	return s.baseURL + "/" + filename, nil
}
