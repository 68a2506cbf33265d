package s3

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/sqliteagent/sqliteagent/internal/storage"
)

type minioBucket struct {
	client *minio.Client
	name   string
}

func (b *minioBucket) Name() string { return b.name }

func (b *minioBucket) PutObject(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	upload, err := b.client.PutObject(ctx, b.name, key, body, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return storage.ObjectInfo{}, translateError(err)
	}
	return storage.ObjectInfo{
		Key:          upload.Key,
		Size:         upload.Size,
		ETag:         upload.ETag,
		ContentType:  opts.ContentType,
		Metadata:     lowerKeys(opts.Metadata),
		LastModified: upload.LastModified,
	}, nil
}

// GetObject stats before returning so a missing key fails here rather than on
// the first Read.
func (b *minioBucket) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := b.client.GetObject(ctx, b.name, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateError(err)
	}
	if _, err := object.Stat(); err != nil {
		_ = object.Close()
		return nil, translateError(err)
	}
	return object, nil
}

func (b *minioBucket) StatObject(ctx context.Context, key string) (storage.ObjectInfo, error) {
	stat, err := b.client.StatObject(ctx, b.name, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, translateError(err)
	}
	return objectInfo(stat), nil
}

func (b *minioBucket) RemoveObject(ctx context.Context, key string) error {
	return translateError(b.client.RemoveObject(ctx, b.name, key, minio.RemoveObjectOptions{}))
}

func (b *minioBucket) ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	out := make([]storage.ObjectInfo, 0)
	for object := range b.client.ListObjects(ctx, b.name, minio.ListObjectsOptions{Prefix: prefix, Recursive: true, WithMetadata: true}) {
		if object.Err != nil {
			return nil, translateError(object.Err)
		}
		out = append(out, objectInfo(object))
	}
	return out, nil
}

func (b *minioBucket) Exists(ctx context.Context) (bool, error) {
	exists, err := b.client.BucketExists(ctx, b.name)
	return exists, translateError(err)
}

func (b *minioBucket) Create(ctx context.Context, region string) error {
	return translateError(b.client.MakeBucket(ctx, b.name, minio.MakeBucketOptions{Region: region}))
}

func objectInfo(object minio.ObjectInfo) storage.ObjectInfo {
	info := storage.ObjectInfo{
		Key:          object.Key,
		Size:         object.Size,
		ETag:         object.ETag,
		ContentType:  object.ContentType,
		LastModified: object.LastModified,
	}
	if len(object.UserMetadata) > 0 {
		info.Metadata = lowerKeys(object.UserMetadata)
	}
	return info
}

// lowerKeys strips the X-Amz-Meta- prefix S3 adds to user metadata.
func lowerKeys(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for key, value := range metadata {
		key = strings.ToLower(key)
		key = strings.TrimPrefix(key, "x-amz-meta-")
		out[key] = value
	}
	return out
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	response := minio.ToErrorResponse(err)
	switch {
	case response.Code == "NoSuchKey", response.Code == "NoSuchBucket", response.Code == "NotFound":
		return storage.ErrObjectNotFound
	case response.StatusCode == http.StatusNotFound:
		return storage.ErrObjectNotFound
	}
	return err
}
