package objectstore

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/avast/retry-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// S3Api is the subset of the S3 client used by S3Store, split out so tests
// can substitute a fake.
type S3Api interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store implements Store on top of a single S3 bucket. Individual calls are
// retried a few times with a short delay before the error is surfaced.
type S3Store struct {
	client S3Api
	bucket string
}

func NewS3Store(client S3Api, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := s.withRetries(func() error {
		objects = objects[:0]
		var continuationToken *string
		for {
			out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(s.bucket),
				Prefix:            aws.String(prefix),
				ContinuationToken: continuationToken,
			})
			if err != nil {
				return err
			}
			for _, object := range out.Contents {
				info := ObjectInfo{Key: aws.ToString(object.Key)}
				if object.LastModified != nil {
					info.LastModified = *object.LastModified
				}
				objects = append(objects, info)
			}
			if !out.IsTruncated {
				return nil
			}
			continuationToken = out.NextContinuationToken
		}
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list objects under %q in bucket %q", prefix, s.bucket)
	}
	return objects, nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := s.withRetries(func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()
		body, err = io.ReadAll(out.Body)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get object %q from bucket %q", key, s.bucket)
	}
	return body, nil
}

func (s *S3Store) Put(ctx context.Context, key string, body []byte) error {
	err := s.withRetries(func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(body),
		})
		return err
	})
	return errors.Wrapf(err, "failed to put object %q in bucket %q", key, s.bucket)
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	err := s.withRetries(func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	return errors.Wrapf(err, "failed to delete object %q from bucket %q", key, s.bucket)
}

func (s *S3Store) withRetries(action func() error) error {
	return retry.Do(
		action,
		retry.Attempts(4),
		retry.Delay(250*time.Millisecond),
		retry.LastErrorOnly(true),
	)
}
