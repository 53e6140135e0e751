package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"
)

const defaultUploadTTL = 15 * time.Minute

var (
	// ErrContentTypeNotAllowed is returned for uploads that are not images.
	ErrContentTypeNotAllowed = errors.New("storage: content type not allowed")
	errObjectPrefixRequired  = errors.New("storage: object prefix is required")
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// URLSigner signs object URLs. *storage.BucketHandle satisfies it.
type URLSigner interface {
	SignedURL(object string, opts *gcs.SignedURLOptions) (string, error)
}

// UploadTarget tells the client where and how to PUT the file.
type UploadTarget struct {
	URL        string
	Method     string
	Headers    map[string]string
	ObjectPath string
	PublicURL  string
	ExpiresAt  time.Time
}

// ImageUploader issues V4 signed PUT URLs for admin evidence photos.
type ImageUploader struct {
	bucket     URLSigner
	bucketName string
	ttl        time.Duration
	now        func() time.Time
}

// UploaderOption customises ImageUploader.
type UploaderOption func(*ImageUploader)

// WithUploadTTL overrides how long signed URLs stay valid.
func WithUploadTTL(ttl time.Duration) UploaderOption {
	return func(u *ImageUploader) {
		if ttl > 0 {
			u.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) UploaderOption {
	return func(u *ImageUploader) {
		if now != nil {
			u.now = now
		}
	}
}

// NewImageUploader binds an uploader to one bucket.
func NewImageUploader(bucket URLSigner, bucketName string, opts ...UploaderOption) (*ImageUploader, error) {
	bucketName = strings.TrimSpace(bucketName)
	if bucket == nil || bucketName == "" {
		return nil, errors.New("storage: bucket is required")
	}
	u := &ImageUploader{bucket: bucket, bucketName: bucketName, ttl: defaultUploadTTL, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u, nil
}

// NewBucketImageUploader is the production constructor over a Cloud Storage client.
func NewBucketImageUploader(client *gcs.Client, bucketName string, opts ...UploaderOption) (*ImageUploader, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	return NewImageUploader(client.Bucket(bucketName), bucketName, opts...)
}

// UploadURL signs a PUT for a new object under prefix. The object name is generated so that
// uploads never overwrite each other.
func (u *ImageUploader) UploadURL(_ context.Context, prefix, contentType string) (UploadTarget, error) {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return UploadTarget{}, errObjectPrefixRequired
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	ext, ok := imageExtensions[contentType]
	if !ok {
		return UploadTarget{}, fmt.Errorf("%w: %q", ErrContentTypeNotAllowed, contentType)
	}

	now := u.now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return UploadTarget{}, fmt.Errorf("storage: generate object id: %w", err)
	}
	object := prefix + "/" + strings.ToLower(id.String()) + ext
	expires := now.Add(u.ttl)

	signed, err := u.bucket.SignedURL(object, &gcs.SignedURLOptions{
		Method:      "PUT",
		ContentType: contentType,
		Expires:     expires,
		Scheme:      gcs.SigningSchemeV4,
	})
	if err != nil {
		return UploadTarget{}, fmt.Errorf("storage: sign upload url: %w", err)
	}

	return UploadTarget{
		URL:        signed,
		Method:     "PUT",
		Headers:    map[string]string{"Content-Type": contentType},
		ObjectPath: object,
		PublicURL:  u.PublicURL(object),
		ExpiresAt:  expires,
	}, nil
}

// PublicURL returns the storage.googleapis.com address of object.
func (u *ImageUploader) PublicURL(object string) string {
	return (&url.URL{Scheme: "https", Host: "storage.googleapis.com", Path: "/" + u.bucketName + "/" + object}).String()
}

// Owns reports whether rawURL points into this uploader's bucket.
func (u *ImageUploader) Owns(rawURL string) bool {
	return strings.HasPrefix(strings.TrimSpace(rawURL), u.PublicURL(""))
}
