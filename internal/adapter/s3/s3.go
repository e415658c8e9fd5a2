package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Ning0612/pubsync/internal/domain"
)

const (
	// deleteBatchSize is the DeleteObjects limit per request
	deleteBatchSize = 1000
)

// API is the subset of the S3 client used by the adapter
type API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Adapter implements the adapter.Adapter interface for S3-compatible storage.
// Directories are key prefixes; Mkdir writes an empty "dir/" marker object.
type Adapter struct {
	client API
	bucket string
	prefix string // without leading or trailing slash
}

// NewFromTransport builds an adapter from transport settings.
// Required keys: bucket. Optional: region, endpoint, access_key, secret_key.
func NewFromTransport(ctx context.Context, t domain.Transport, root string) (*Adapter, error) {
	bucket := t.Config["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 transport %s requires bucket", domain.ErrConfigInvalid, t.Name)
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}

	opts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(httpClient),
	}
	if region := t.Config["region"]; region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	if ak, sk := t.Config["access_key"], t.Config["secret_key"]; ak != "" && sk != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := t.Config["endpoint"]
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return New(client, bucket, root), nil
}

// New wraps an existing client
func New(client API, bucket, root string) *Adapter {
	return &Adapter{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(root, "/"),
	}
}

// key maps a relative path to an object key
func (a *Adapter) key(relPath string) (string, error) {
	if relPath == "" || relPath == "." {
		return a.prefix, nil
	}
	clean := path.Clean(relPath)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", domain.ErrPermissionDenied
	}
	if a.prefix == "" {
		return clean, nil
	}
	return a.prefix + "/" + clean, nil
}

// dirPrefix returns the listing prefix for a directory key
func dirPrefix(key string) string {
	if key == "" {
		return ""
	}
	return key + "/"
}

// List returns all files and directories directly under the given path
func (a *Adapter) List(ctx context.Context, relPath string) ([]domain.FileInfo, error) {
	key, err := a.key(relPath)
	if err != nil {
		return nil, err
	}
	prefix := dirPrefix(key)
	base := strings.Trim(relPath, "/")
	if base == "." {
		base = ""
	}

	var result []domain.FileInfo
	sawMarker := false
	var token *string

	for {
		out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, a.mapError(err)
		}

		for _, cp := range out.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			result = append(result, domain.FileInfo{
				Path: path.Join(base, name),
				Type: domain.FileTypeDirectory,
			})
		}
		for _, obj := range out.Contents {
			k := aws.ToString(obj.Key)
			if k == prefix {
				sawMarker = true
				continue
			}
			result = append(result, fileInfoFromObject(path.Join(base, strings.TrimPrefix(k, prefix)), obj))
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	if len(result) == 0 && !sawMarker && key != a.prefix {
		if _, err := a.headObject(ctx, key); err == nil {
			return nil, domain.ErrNotDirectory
		}
		return nil, domain.ErrNotFound
	}

	return result, nil
}

// Read opens an object for reading
func (a *Adapter) Read(ctx context.Context, relPath string) (io.ReadCloser, error) {
	key, err := a.key(relPath)
	if err != nil {
		return nil, err
	}
	if key == a.prefix {
		return nil, domain.ErrNotFile
	}

	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, a.mapError(err)
	}
	return out.Body, nil
}

// Write uploads the content in one PutObject, which S3 applies atomically
func (a *Adapter) Write(ctx context.Context, relPath string, r io.Reader) error {
	key, err := a.key(relPath)
	if err != nil {
		return err
	}
	if key == a.prefix {
		return domain.ErrNotFile
	}

	// PutObject signs the payload, so the body must be seekable
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	return a.mapError(err)
}

// Delete removes an object or an empty directory marker
func (a *Adapter) Delete(ctx context.Context, relPath string) error {
	key, err := a.key(relPath)
	if err != nil {
		return err
	}
	if key == a.prefix {
		return domain.ErrPermissionDenied
	}

	if _, err := a.headObject(ctx, key); err == nil {
		return a.deleteKey(ctx, key)
	}

	keys, err := a.keysUnder(ctx, dirPrefix(key), 2)
	if err != nil {
		return err
	}
	switch {
	case len(keys) == 0:
		return domain.ErrNotFound
	case len(keys) == 1 && keys[0] == dirPrefix(key):
		return a.deleteKey(ctx, keys[0])
	default:
		return domain.ErrDirectoryNotEmpty
	}
}

// DeleteAll removes an object or every object under a directory prefix
func (a *Adapter) DeleteAll(ctx context.Context, relPath string) error {
	key, err := a.key(relPath)
	if err != nil {
		return err
	}
	if key == a.prefix {
		return domain.ErrPermissionDenied
	}

	keys, err := a.keysUnder(ctx, dirPrefix(key), 0)
	if err != nil {
		return err
	}
	if _, err := a.headObject(ctx, key); err == nil {
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return domain.ErrNotFound
	}

	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(a.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return a.mapError(err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("failed to delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message))
		}
	}
	return nil
}

// Stat returns metadata for an object or directory prefix
func (a *Adapter) Stat(ctx context.Context, relPath string) (domain.FileInfo, error) {
	key, err := a.key(relPath)
	if err != nil {
		return domain.FileInfo{}, err
	}
	clean := strings.Trim(path.Clean("/"+relPath), "/")

	if key == a.prefix {
		return domain.FileInfo{Path: clean, Type: domain.FileTypeDirectory}, nil
	}

	head, err := a.headObject(ctx, key)
	if err == nil {
		info := domain.FileInfo{
			Path:    clean,
			Type:    domain.FileTypeRegular,
			Size:    aws.ToInt64(head.ContentLength),
			ModTime: aws.ToTime(head.LastModified),
			ETag:    strings.Trim(aws.ToString(head.ETag), `"`),
		}
		return info, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.FileInfo{}, err
	}

	keys, err := a.keysUnder(ctx, dirPrefix(key), 1)
	if err != nil {
		return domain.FileInfo{}, err
	}
	if len(keys) == 0 {
		return domain.FileInfo{}, domain.ErrNotFound
	}
	return domain.FileInfo{Path: clean, Type: domain.FileTypeDirectory}, nil
}

// Mkdir writes a directory marker object
func (a *Adapter) Mkdir(ctx context.Context, relPath string) error {
	key, err := a.key(relPath)
	if err != nil {
		return err
	}
	if key == a.prefix {
		return nil
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(dirPrefix(key)),
		Body:   bytes.NewReader(nil),
	})
	return a.mapError(err)
}

// Close releases any resources
func (a *Adapter) Close() error {
	return nil
}

func (a *Adapter) headObject(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	out, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, a.mapError(err)
	}
	return out, nil
}

func (a *Adapter) deleteKey(ctx context.Context, key string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	return a.mapError(err)
}

// keysUnder lists keys beneath prefix recursively; limit 0 means all
func (a *Adapter) keysUnder(ctx context.Context, prefix string, limit int) ([]string, error) {
	var keys []string
	var token *string
	for {
		in := &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		}
		if limit > 0 {
			in.MaxKeys = aws.Int32(int32(limit))
		}
		out, err := a.client.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, a.mapError(err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
			if limit > 0 && len(keys) >= limit {
				return keys, nil
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}

func fileInfoFromObject(relPath string, obj types.Object) domain.FileInfo {
	return domain.FileInfo{
		Path:    relPath,
		Type:    domain.FileTypeRegular,
		Size:    aws.ToInt64(obj.Size),
		ModTime: aws.ToTime(obj.LastModified),
		ETag:    strings.Trim(aws.ToString(obj.ETag), `"`),
	}
}

// mapError converts S3 errors to domain errors
func (a *Adapter) mapError(err error) error {
	if err == nil {
		return nil
	}

	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return domain.ErrNotFound
	}
	if errors.As(err, &noBucket) {
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch code := respErr.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			return domain.ErrNotFound
		case code == http.StatusForbidden:
			return domain.ErrPermissionDenied
		case code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable:
			return fmt.Errorf("rate limit exceeded: %w", err)
		case code >= 500:
			return fmt.Errorf("%w: %w", domain.ErrNetworkError, err)
		}
	}

	return err
}
