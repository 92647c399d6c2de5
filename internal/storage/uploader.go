// Package storage hosts reference images on S3-compatible object storage so
// URL-only image backends can read them.
//
// Objects are content addressed: the key is derived from a SHA-256 of the
// image bytes, so a design placed into several mockup scenes is stored once.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const defaultPrefix = "mockup-references"

type Config struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	UsePathStyle  bool
	Prefix        string
}

func (c Config) validate() error {
	var missing []string
	if c.Bucket == "" {
		missing = append(missing, "bucket")
	}
	if c.Region == "" {
		missing = append(missing, "region")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		missing = append(missing, "credentials")
	}
	if c.PublicBaseURL == "" {
		missing = append(missing, "public base url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("s3 storage: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// objectAPI is the part of the S3 client the uploader needs.
type objectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Uploader struct {
	cfg    Config
	client objectAPI
	log    *slog.Logger

	mu     sync.Mutex
	stored map[string]struct{}
}

func NewUploader(cfg Config, log *slog.Logger) (*Uploader, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	options := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return newUploader(cfg, s3.New(options), log), nil
}

func newUploader(cfg Config, client objectAPI, log *slog.Logger) *Uploader {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	return &Uploader{
		cfg:    cfg,
		client: client,
		log:    log,
		stored: make(map[string]struct{}),
	}
}

// Upload makes data reachable by URL and returns that URL. Bytes already in
// the bucket are not sent again.
func (u *Uploader) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("upload reference: empty image")
	}
	if contentType == "" {
		contentType = "image/png"
	}
	key := u.objectKey(data, contentType)
	if u.exists(ctx, key) {
		return u.publicURL(key), nil
	}

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("put reference object: %w", err)
	}
	u.remember(key)
	if u.log != nil {
		u.log.Debug("reference image uploaded", "key", key, "bytes", len(data))
	}
	return u.publicURL(key), nil
}

// exists checks the local record first, then asks the bucket. Any HEAD error
// is treated as absent; the following PUT is idempotent.
func (u *Uploader) exists(ctx context.Context, key string) bool {
	u.mu.Lock()
	_, ok := u.stored[key]
	u.mu.Unlock()
	if ok {
		return true
	}
	_, err := u.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if !errors.As(err, &notFound) && u.log != nil {
			u.log.Warn("head reference object", "err", err, "key", key)
		}
		return false
	}
	u.remember(key)
	return true
}

func (u *Uploader) remember(key string) {
	u.mu.Lock()
	u.stored[key] = struct{}{}
	u.mu.Unlock()
}

func (u *Uploader) publicURL(key string) string {
	return strings.TrimRight(u.cfg.PublicBaseURL, "/") + "/" + key
}

// objectKey fans objects out by the first byte of their digest.
func (u *Uploader) objectKey(data []byte, contentType string) string {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	prefix := strings.Trim(u.cfg.Prefix, "/")
	return path.Join(prefix, digest[:2], digest+extensionFromContentType(contentType))
}

func extensionFromContentType(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
