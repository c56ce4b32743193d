package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gcs "google.golang.org/api/storage/v1"
)

// GCSPublicHost is the default public base for Cloud Storage objects.
const GCSPublicHost = "https://storage.googleapis.com"

var errStopPaging = errors.New("stop paging")

// GCSBucket stores objects in a Cloud Storage bucket through the JSON API.
type GCSBucket struct {
	svc        *gcs.Service
	bucket     string
	publicBase string
}

// NewGCSBucket creates a bucket client. publicBase defaults to
// https://storage.googleapis.com/<bucket>.
func NewGCSBucket(ctx context.Context, bucket, publicBase string, opts ...option.ClientOption) (*GCSBucket, error) {
	svc, err := gcs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	if publicBase == "" {
		publicBase = GCSPublicHost + "/" + bucket
	}
	return &GCSBucket{
		svc:        svc,
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
	}, nil
}

// Put uploads the object with a public-read ACL.
func (b *GCSBucket) Put(ctx context.Context, objectPath string, attrs ObjectAttrs, data []byte) error {
	obj := &gcs.Object{
		Name:         objectPath,
		ContentType:  attrs.ContentType,
		CacheControl: attrs.CacheControl,
	}
	_, err := b.svc.Objects.Insert(b.bucket, obj).
		Media(bytes.NewReader(data), googleapi.ContentType(attrs.ContentType)).
		PredefinedAcl("publicRead").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w", objectPath, err)
	}
	return nil
}

// FindContaining lists objects under prefix and returns the first whose name contains needle.
func (b *GCSBucket) FindContaining(ctx context.Context, prefix, needle string) (string, bool, error) {
	var found string
	err := b.svc.Objects.List(b.bucket).
		Prefix(prefix).
		Fields("items(name)", "nextPageToken").
		Pages(ctx, func(page *gcs.Objects) error {
			for _, obj := range page.Items {
				name := obj.Name[strings.LastIndex(obj.Name, "/")+1:]
				if strings.Contains(name, needle) {
					found = obj.Name
					return errStopPaging
				}
			}
			return nil
		})
	if err != nil && !errors.Is(err, errStopPaging) {
		return "", false, fmt.Errorf("failed to list objects: %w", err)
	}
	return found, found != "", nil
}

// PublicURL returns the object's public URL.
func (b *GCSBucket) PublicURL(objectPath string) string {
	return b.publicBase + "/" + objectPath
}
