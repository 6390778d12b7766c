// Package assets stores uploaded page images in an S3-compatible object store.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"notes/api/internal/content"
)

// Upload is a file handed to the store.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Asset identifies a stored object.
type Asset struct {
	URI         string `json:"uri"`
	StoragePath string `json:"storagePath"`
}

// Config holds object store settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the base that object URLs are issued under. Defaults to the endpoint
	// plus bucket.
	PublicURL string
}

var (
	ErrInvalidUpload = errors.New("invalid upload")
	ErrUnsupported   = errors.New("unsupported image type")
)

var allowedTypes = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

// Store implements asset upload and deletion on MinIO.
type Store struct {
	client   *minio.Client
	bucket   string
	resolver *content.Resolver
}

// New connects to the object store and makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		log.Info().Str("bucket", cfg.Bucket).Msg("assets: created bucket")
	}

	resolver, err := content.NewResolver(PublicBaseURL(cfg))
	if err != nil {
		return nil, err
	}
	return &Store{client: client, bucket: cfg.Bucket, resolver: resolver}, nil
}

// PublicBaseURL returns the URL prefix that object URLs are issued under.
func PublicBaseURL(cfg Config) string {
	if strings.TrimSpace(cfg.PublicURL) != "" {
		return strings.TrimRight(cfg.PublicURL, "/")
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return scheme + "://" + strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
}

// Resolver returns the reference resolver for URLs issued by this store.
func (s *Store) Resolver() *content.Resolver {
	return s.resolver
}

// UploadAsset stores an image under the owner's prefix.
func (s *Store) UploadAsset(ctx context.Context, ownerID string, upload Upload) (Asset, error) {
	objectPath, contentType, err := ObjectPath(ownerID, upload)
	if err != nil {
		return Asset{}, err
	}
	_, err = s.client.PutObject(ctx, s.bucket, objectPath, upload.Body, upload.Size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Asset{}, fmt.Errorf("put object %s: %w", objectPath, err)
	}
	return Asset{URI: s.resolver.ObjectURL(objectPath), StoragePath: objectPath}, nil
}

// DeleteAsset removes an object. Identifiers outside the store (external URLs) are ignored.
func (s *Store) DeleteAsset(ctx context.Context, storagePath string) error {
	if strings.Contains(storagePath, "://") {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, storagePath, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", storagePath, err)
	}
	return nil
}

// OwnedBy reports whether storagePath is an object under the owner's prefix. Paths that are not
// in canonical form are never owned.
func OwnedBy(ownerID, storagePath string) bool {
	if strings.TrimSpace(ownerID) == "" || strings.ContainsAny(ownerID, "/\\") {
		return false
	}
	if strings.Contains(storagePath, "..") || path.Clean(storagePath) != storagePath {
		return false
	}
	return strings.HasPrefix(storagePath, "users/"+ownerID+"/")
}

// ObjectPath chooses the storage path and content type for an upload.
func ObjectPath(ownerID string, upload Upload) (string, string, error) {
	if strings.TrimSpace(ownerID) == "" || strings.ContainsAny(ownerID, "/\\") {
		return "", "", fmt.Errorf("%w: bad owner id", ErrInvalidUpload)
	}
	if upload.Body == nil {
		return "", "", fmt.Errorf("%w: empty body", ErrInvalidUpload)
	}
	contentType := strings.ToLower(strings.TrimSpace(upload.ContentType))
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = parsed
	}
	ext, ok := allowedTypes[contentType]
	if !ok {
		byExt := strings.ToLower(path.Ext(upload.Name))
		for candidateType, candidateExt := range allowedTypes {
			if byExt == candidateExt || (byExt == ".jpeg" && candidateExt == ".jpg") {
				contentType, ext, ok = candidateType, candidateExt, true
				break
			}
		}
	}
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupported, upload.ContentType)
	}
	return path.Join("users", ownerID, "images", uuid.NewString()+ext), contentType, nil
}
