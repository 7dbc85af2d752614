// Package s3 stores search output in an S3-compatible object store.
//
// Objects are written once: Put refuses to replace an existing key, using a
// conditional PutObject (If-None-Match) for small objects and a conditional
// CompleteMultipartUpload for large ones. Keys are relative to an optional
// prefix inside the bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/justapithecus/esgfsearch/esgf"
)

const (
	// minPartSize is the smallest part S3 accepts, except for the last one.
	minPartSize = 5 * 1024 * 1024

	// maxParts is the largest number of parts in one multipart upload.
	maxParts = 10000

	// defaultMultipartThreshold routes larger uploads through multipart.
	defaultMultipartThreshold = 64 * 1024 * 1024

	// abortTimeout bounds the cleanup of a failed multipart upload.
	abortTimeout = 30 * time.Second
)

// API is the subset of the S3 client used by Store.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config holds the store settings.
type Config struct {
	// Bucket is the bucket name. Required.
	Bucket string

	// Prefix is prepended to every key. A trailing slash is added if missing.
	Prefix string

	// MultipartThreshold is the size above which uploads use multipart.
	// Zero selects 64MB.
	MultipartThreshold int64

	// ContentType is set on every uploaded object when non-empty.
	ContentType string
}

// Store implements esgf.Store on an S3-compatible backend.
type Store struct {
	client      API
	bucket      string
	prefix      string
	threshold   int64
	contentType string
	createTemp  func() (*os.File, error)
}

// New creates a store. The client must already carry region, credentials and
// endpoint.
func New(client API, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("s3: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	threshold := cfg.MultipartThreshold
	if threshold <= 0 {
		threshold = defaultMultipartThreshold
	}

	return &Store{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      prefix,
		threshold:   threshold,
		contentType: cfg.ContentType,
		createTemp:  func() (*os.File, error) { return os.CreateTemp("", "esgfsearch-s3-*") },
	}, nil
}

// Put uploads r to key. It returns esgf.ErrPathExists if key already exists.
//
// The body is spooled to a temporary file first so its size is known and
// the upload can be retried by the SDK.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) error {
	fullKey, err := s.validateKey(key)
	if err != nil {
		return err
	}

	tmp, err := s.createTemp()
	if err != nil {
		return fmt.Errorf("s3: creating temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, r)
	if err != nil {
		return fmt.Errorf("s3: spooling %s: %w", key, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("s3: rewinding temp file: %w", err)
	}

	if size <= s.threshold {
		return s.putObject(ctx, fullKey, tmp, size)
	}
	return s.putMultipart(ctx, fullKey, tmp, size)
}

func (s *Store) putObject(ctx context.Context, fullKey string, body io.ReadSeeker, size int64) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(fullKey),
		Body:          body,
		ContentLength: aws.Int64(size),
		IfNoneMatch:   aws.String("*"),
	}
	if s.contentType != "" {
		in.ContentType = aws.String(s.contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		if isConditionFailed(err) {
			return esgf.ErrPathExists
		}
		return fmt.Errorf("s3: put object: %w", err)
	}
	return nil
}

// partSize keeps the part count under maxParts.
func partSize(size int64) int64 {
	if size > int64(minPartSize)*maxParts {
		return (size + maxParts - 1) / maxParts
	}
	return minPartSize
}

func (s *Store) putMultipart(ctx context.Context, fullKey string, body io.ReaderAt, size int64) error {
	exists, err := s.exists(ctx, fullKey)
	if err != nil {
		return fmt.Errorf("s3: checking existence: %w", err)
	}
	if exists {
		return esgf.ErrPathExists
	}

	create := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	}
	if s.contentType != "" {
		create.ContentType = aws.String(s.contentType)
	}
	created, err := s.client.CreateMultipartUpload(ctx, create)
	if err != nil {
		return fmt.Errorf("s3: create multipart upload: %w", err)
	}
	uploadID := created.UploadId

	//nolint:contextcheck // cleanup must outlive a canceled upload context
	abort := func() {
		actx, cancel := context.WithTimeout(context.Background(), abortTimeout)
		defer cancel()
		_, _ = s.client.AbortMultipartUpload(actx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(fullKey),
			UploadId: uploadID,
		})
	}

	step := partSize(size)
	var parts []types.CompletedPart
	for n, off := int32(1), int64(0); off < size; n, off = n+1, off+step {
		length := min(step, size-off)
		out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(fullKey),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(n),
			Body:          io.NewSectionReader(body, off, length),
			ContentLength: aws.Int64(length),
		})
		if err != nil {
			abort()
			return fmt.Errorf("s3: upload part %d: %w", n, err)
		}
		parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(n)})
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(fullKey),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
		IfNoneMatch:     aws.String("*"),
	})
	if err != nil {
		abort()
		if isConditionFailed(err) {
			return esgf.ErrPathExists
		}
		return fmt.Errorf("s3: complete multipart upload: %w", err)
	}
	return nil
}

// Get opens key for reading. It returns esgf.ErrNotFound for missing keys.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	fullKey, err := s.validateKey(key)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, esgf.ErrNotFound
		}
		return nil, fmt.Errorf("s3: get object: %w", err)
	}
	return out.Body, nil
}

// Exists reports whether key exists.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	fullKey, err := s.validateKey(key)
	if err != nil {
		return false, err
	}
	return s.exists(ctx, fullKey)
}

// List returns every key under prefix, relative to the store prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix, err := s.validatePrefix(prefix)
	if err != nil {
		return nil, err
	}

	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list objects: %w", err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, strings.TrimPrefix(*obj.Key, s.prefix))
			}
		}
	}
	return keys, nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	fullKey, err := s.validateKey(key)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	}); err != nil {
		return fmt.Errorf("s3: delete object: %w", err)
	}
	return nil
}

func (s *Store) exists(ctx context.Context, fullKey string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) validateKey(key string) (string, error) {
	cleaned := strings.TrimPrefix(path.Clean("/"+key), "/")
	if key == "" || cleaned == "" || escapes(key) {
		return "", esgf.ErrInvalidPath
	}
	return s.prefix + cleaned, nil
}

func (s *Store) validatePrefix(prefix string) (string, error) {
	if prefix == "" {
		return s.prefix, nil
	}
	if escapes(prefix) {
		return "", esgf.ErrInvalidPath
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+prefix), "/")
	if cleaned != "" && strings.HasSuffix(prefix, "/") {
		cleaned += "/"
	}
	return s.prefix + cleaned, nil
}

// escapes reports whether p climbs above its root.
func escapes(p string) bool {
	cleaned := path.Clean(strings.TrimPrefix(p, "/"))
	return cleaned == ".." || strings.HasPrefix(cleaned, "../")
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}

// isConditionFailed reports a rejected If-None-Match write.
func isConditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "412", "ConditionalRequestConflict", "409":
		return true
	}
	return false
}

var _ esgf.Store = (*Store)(nil)
