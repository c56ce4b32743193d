// Package storage is the permanent image store: content-addressed uploads to
// an object bucket the application owns.
package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// ObjectPrefix is the namespace meal images live under.
	ObjectPrefix = "meal-images/"
	// LocalRoutePrefix is where the HTTP API serves LocalBucket objects.
	LocalRoutePrefix = "/images/"
	// CacheControl marks uploaded objects as immutable for a year.
	CacheControl = "public, max-age=31536000, immutable"

	maxImageBytes = 20 << 20
	maxNameLength = 48
)

// ObjectAttrs are written alongside an object.
type ObjectAttrs struct {
	ContentType  string
	CacheControl string
}

// Bucket is the durable object namespace behind the store.
type Bucket interface {
	Put(ctx context.Context, objectPath string, attrs ObjectAttrs, data []byte) error
	FindContaining(ctx context.Context, prefix, needle string) (string, bool, error)
	PublicURL(objectPath string) string
}

// UploadRequest describes an image to persist. Data may be empty, in which
// case the bytes are fetched from ImageURL.
type UploadRequest struct {
	ImageURL    string
	Name        string
	Hash        string
	Data        []byte
	ContentType string
}

// UploadResult describes a stored object.
type UploadResult struct {
	PermanentURL string    `json:"permanentUrl"`
	ObjectPath   string    `json:"objectPath"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// ImageStore uploads images by content hash. Errors are returned to the
// caller unchanged in kind; the image gate decides how to degrade.
type ImageStore struct {
	bucket     Bucket
	httpClient *http.Client
	now        func() time.Time
}

// NewImageStore creates an ImageStore. A nil client gets a 30s timeout default.
func NewImageStore(bucket Bucket, httpClient *http.Client) *ImageStore {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ImageStore{bucket: bucket, httpClient: httpClient, now: time.Now}
}

// PublicURL exposes the bucket's URL scheme, used to derive first-party prefixes.
func (s *ImageStore) PublicURL(objectPath string) string {
	return s.bucket.PublicURL(objectPath)
}

// Upload stores the image and returns its permanent URL.
func (s *ImageStore) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	data, contentType := req.Data, req.ContentType
	if len(data) == 0 {
		var err error
		data, contentType, err = Fetch(ctx, s.httpClient, req.ImageURL)
		if err != nil {
			return UploadResult{}, err
		}
	}
	contentType = InferContentType(contentType, req.ImageURL, data)

	objectPath := ObjectPath(req.Name, req.Hash, contentType)
	attrs := ObjectAttrs{ContentType: contentType, CacheControl: CacheControl}
	if err := s.bucket.Put(ctx, objectPath, attrs, data); err != nil {
		return UploadResult{}, fmt.Errorf("failed to store image: %w", err)
	}

	return UploadResult{
		PermanentURL: s.bucket.PublicURL(objectPath),
		ObjectPath:   objectPath,
		UploadedAt:   s.now().UTC(),
	}, nil
}

// CheckExists returns the public URL of an object whose name carries hash, or "".
func (s *ImageStore) CheckExists(ctx context.Context, hash string) (string, error) {
	if hash == "" {
		return "", nil
	}
	objectPath, ok, err := s.bucket.FindContaining(ctx, ObjectPrefix, hash)
	if err != nil {
		return "", fmt.Errorf("failed to check for existing image: %w", err)
	}
	if !ok {
		return "", nil
	}
	return s.bucket.PublicURL(objectPath), nil
}

// Fetch downloads an image body, capped at 20MB.
func Fetch(ctx context.Context, client *http.Client, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "image/*,text/html;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to fetch image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image body: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// InferContentType prefers a declared image type, then sniffs the bytes, then
// falls back to the URL extension.
func InferContentType(declared, sourceURL string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && strings.HasPrefix(mt, "image/") {
		return mt
	}
	if len(data) > 0 {
		if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
			return sniffed
		}
	}
	ext := path.Ext(strings.SplitN(sourceURL, "?", 2)[0])
	if byExt := mime.TypeByExtension(ext); strings.HasPrefix(byExt, "image/") {
		mt, _, _ := mime.ParseMediaType(byExt)
		return mt
	}
	return "application/octet-stream"
}

var extensions = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/webp":    ".webp",
	"image/gif":     ".gif",
	"image/svg+xml": ".svg",
	"image/avif":    ".avif",
}

// ObjectPath derives the object key: <prefix><sanitized-name>-<hash><ext>,
// with a random id standing in for a missing hash.
func ObjectPath(name, hash, contentType string) string {
	id := hash
	if id == "" {
		id = uuid.New().String()
	}
	ext, ok := extensions[contentType]
	if !ok {
		ext = ".bin"
	}
	return ObjectPrefix + SanitizeName(name) + "-" + id + ext
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeName turns a meal name into a short URL-safe slug.
func SanitizeName(name string) string {
	slug := nonSlug.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxNameLength {
		slug = strings.TrimRight(slug[:maxNameLength], "-")
	}
	if slug == "" {
		return "meal"
	}
	return slug
}
