package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ent0n29/confidant/internal/reliability"
)

// S3API is the subset of the S3 client in use.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads objects to a bucket. References are PublicBaseURL/key when a
// public base is configured, otherwise s3://bucket/key.
type S3Sink struct {
	api        S3API
	bucket     string
	prefix     string
	publicBase string
}

func NewS3Sink(cfg aws.Config, bucket, prefix, publicBaseURL string) (*S3Sink, error) {
	return NewS3SinkWithAPI(s3.NewFromConfig(cfg), bucket, prefix, publicBaseURL)
}

func NewS3SinkWithAPI(api S3API, bucket, prefix, publicBaseURL string) (*S3Sink, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("s3 blob sink requires S3_BUCKET")
	}
	return &S3Sink{
		api:        api,
		bucket:     bucket,
		prefix:     strings.Trim(strings.TrimSpace(prefix), "/"),
		publicBase: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
	}, nil
}

func (s *S3Sink) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3Sink) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	key := s.key(name)
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.api.PutObject(ctx, in); err != nil {
		return "", reliability.WrapAWS("s3", err)
	}
	if s.publicBase != "" {
		return s.publicBase + "/" + key, nil
	}
	return "s3://" + s.bucket + "/" + key, nil
}
