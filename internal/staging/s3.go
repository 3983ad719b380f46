// Package staging stores job specifications in object storage next to the
// job output so the engine and operators can read the exact input a job ran
// with.
package staging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
)

// compressedSuffix is appended to keys of zstd-compressed documents.
const compressedSuffix = ".zst"

// S3API abstracts the S3 operations used by the stager.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config controls where and how documents are written.
type Config struct {
	Bucket string
	// Prefix is prepended to every key, without a trailing slash.
	Prefix string
	// Compress writes documents zstd-compressed under a ".zst" key.
	Compress bool
}

// S3Stager writes job documents to S3.
type S3Stager struct {
	client S3API
	cfg    Config
	logger *slog.Logger

	encoders sync.Pool
	decoders sync.Pool
}

// NewS3Stager creates a stager for cfg.Bucket.
func NewS3Stager(client S3API, cfg Config, logger *slog.Logger) *S3Stager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	s := &S3Stager{client: client, cfg: cfg, logger: logger}
	s.encoders.New = func() any {
		e, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
		}
		return e
	}
	s.decoders.New = func() any {
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
		}
		return d
	}
	return s
}

func (s *S3Stager) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.cfg.Prefix != "" {
		key = s.cfg.Prefix + "/" + key
	}
	if s.cfg.Compress {
		key += compressedSuffix
	}
	return key
}

// Location returns the s3:// location Stage writes key to.
func (s *S3Stager) Location(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.cfg.Bucket, s.objectKey(key))
}

// Stage uploads doc under key and returns its s3:// location.
func (s *S3Stager) Stage(ctx context.Context, key string, doc []byte) (string, error) {
	objectKey := s.objectKey(key)

	body := doc
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(objectKey),
		ContentType: aws.String("application/json"),
	}
	if s.cfg.Compress {
		enc := s.encoders.Get().(*zstd.Encoder)
		body = enc.EncodeAll(doc, make([]byte, 0, len(doc)/2))
		s.encoders.Put(enc)
		input.ContentEncoding = aws.String("zstd")
	}
	input.Body = bytes.NewReader(body)
	input.ContentLength = aws.Int64(int64(len(body)))

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("staging: put s3://%s/%s: %w", s.cfg.Bucket, objectKey, err)
	}

	location := s.Location(key)
	s.logger.DebugContext(ctx, "job input staged",
		"location", location,
		"bytes", len(doc),
		"stored_bytes", len(body),
	)
	return location, nil
}

// Fetch reads a document previously written by Stage, given its location.
// Compressed documents are decompressed.
func (s *S3Stager) Fetch(ctx context.Context, location string) ([]byte, error) {
	bucket, key, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("staging: get %s: %w", location, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("staging: read %s: %w", location, err)
	}
	if !strings.HasSuffix(key, compressedSuffix) {
		return raw, nil
	}

	dec := s.decoders.Get().(*zstd.Decoder)
	defer s.decoders.Put(dec)
	doc, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("staging: zstd decompression of %s failed: %w", location, err)
	}
	return doc, nil
}

// ParseLocation splits an s3://bucket/key location.
func ParseLocation(location string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return "", "", fmt.Errorf("staging: not an s3 location: %q", location)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("staging: malformed s3 location: %q", location)
	}
	return bucket, key, nil
}
