// Package s3 provides an S3-backed journal backend.
//
// Each record is stored as records/<id>.json. Listing uses empty index
// objects under index/<action>/ and index/_all/ whose names begin with an
// inverted completion timestamp, so S3's lexical listing yields newest first.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gezibash/ocpp-node/internal/journal/physical"
	"github.com/gezibash/ocpp-node/internal/storage"
)

const (
	KeyBucket          = "bucket"
	KeyRegion          = "region"
	KeyEndpoint        = "endpoint"
	KeyPrefix          = "prefix"
	KeyAccessKeyID     = "access_key_id"
	KeySecretAccessKey = "secret_access_key"
	KeyForcePathStyle  = "force_path_style"
)

const allActions = "_all"

func init() {
	physical.Register("s3", NewFactory, Defaults)
}

// Defaults returns the default options for the S3 backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyRegion:          "us-east-1",
		KeyEndpoint:        "",
		KeyPrefix:          "journal/",
		KeyAccessKeyID:     "",
		KeySecretAccessKey: "",
		KeyForcePathStyle:  "false",
	}
}

// NewFactory creates an S3 backend and checks that the bucket is reachable.
func NewFactory(ctx context.Context, opts storage.Options) (physical.Backend, error) {
	bucket, err := opts.Required(KeyBucket)
	if err != nil {
		return nil, err
	}
	forcePathStyle, err := opts.Bool(KeyForcePathStyle)
	if err != nil {
		return nil, err
	}

	region := opts.String(KeyRegion)
	endpoint := opts.String(KeyEndpoint)
	accessKeyID := opts.String(KeyAccessKeyID)
	secretAccessKey := opts.String(KeySecretAccessKey)

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKeyID != "" && secretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("s3", "", "failed to load AWS config", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = forcePathStyle
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, storage.NewConfigErrorWithCause("s3", KeyBucket, "bucket not accessible", err)
	}

	prefix := opts.String(KeyPrefix)
	slog.Info("s3 journal initialized", "component", "journal", "bucket", bucket, "region", region, "prefix", prefix)

	return &Backend{client: client, bucket: bucket, prefix: prefix}, nil
}

// Backend is an S3 implementation of physical.Backend.
type Backend struct {
	client *s3.Client
	bucket string
	prefix string
	closed atomic.Bool
}

func (b *Backend) recordKey(id string) string {
	return b.prefix + "records/" + id + ".json"
}

func (b *Backend) indexPrefix(action string) string {
	if action == "" {
		action = allActions
	}
	return b.prefix + "index/" + action + "/"
}

func (b *Backend) indexKeys(rec *physical.Record) []string {
	name := invertedStamp(rec) + "_" + rec.RequestID
	return []string{
		b.indexPrefix("") + name,
		b.indexPrefix(rec.Action) + name,
	}
}

// invertedStamp orders newer completion times first under lexical order.
func invertedStamp(rec *physical.Record) string {
	return fmt.Sprintf("%019d", math.MaxInt64-rec.CompletedAt.UnixNano())
}

func (b *Backend) Put(ctx context.Context, rec *physical.Record) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("s3 put: %w", err)
	}

	old, err := b.Get(ctx, rec.RequestID)
	if err != nil && !errors.Is(err, physical.ErrNotFound) {
		return err
	}
	if old != nil {
		for _, key := range b.indexKeys(old) {
			if err := b.delete(ctx, key); err != nil {
				return fmt.Errorf("s3 put: drop index: %w", err)
			}
		}
	}

	if err := b.put(ctx, b.recordKey(rec.RequestID), data); err != nil {
		return fmt.Errorf("s3 put: %w", err)
	}
	for _, key := range b.indexKeys(rec) {
		if err := b.put(ctx, key, nil); err != nil {
			return fmt.Errorf("s3 put: index: %w", err)
		}
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, requestID string) (*physical.Record, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.recordKey(requestID)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, physical.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 get: %w", err)
	}
	var rec physical.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("s3 get: decode: %w", err)
	}
	return &rec, nil
}

func (b *Backend) List(ctx context.Context, opts physical.ListOptions) ([]*physical.Record, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	limit := opts.EffectiveLimit()
	prefix := b.indexPrefix(opts.Action)

	var out []*physical.Record
	var token *string
	for len(out) < limit {
		page, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			MaxKeys:           aws.Int32(int32(limit - len(out))),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 list: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			_, id, ok := strings.Cut(name, "_")
			if !ok {
				continue
			}
			rec, err := b.Get(ctx, id)
			if errors.Is(err, physical.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
			if len(out) == limit {
				break
			}
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			break
		}
		token = page.NextContinuationToken
	}
	return out, nil
}

// Close is a no-op; the S3 SDK client needs no cleanup.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

func (b *Backend) put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (b *Backend) delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	return err
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var respErr interface{ HTTPStatusCode() int }
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404
}
