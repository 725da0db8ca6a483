package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Config holds connection settings for an S3 or S3-compatible target.
// Endpoint and PathStyle cover MinIO and similar gateways; credentials fall
// back to the ambient AWS chain when AccessKey is empty.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
	AccessKey string
	SecretKey string
}

// S3Store is an ObjectStore over an S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds the SDK client and returns the store. It does not
// verify the bucket; Ping does that.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 store: bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// Name identifies the backend.
func (s *S3Store) Name() string { return "s3" }

// Put uploads data to path, overwriting any existing object.
func (s *S3Store) Put(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return s.classify(path, err)
	}
	return nil
}

// Get downloads the object at path.
func (s *S3Store) Get(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, s.classify(path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, s.classify(path, err)
	}
	return data, nil
}

// List returns all object keys with the given prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, s.classify(prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// Delete removes the object at path. Deleting a missing object succeeds,
// matching S3 semantics.
func (s *S3Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return s.classify(path, err)
	}
	return nil
}

// Ping checks bucket reachability.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return s.classify("", err)
	}
	return nil
}

var (
	s3TransientCodes = map[string]bool{
		"SlowDown":             true,
		"RequestTimeout":       true,
		"ServiceUnavailable":   true,
		"InternalError":        true,
		"Throttling":           true,
		"ThrottlingException":  true,
		"RequestLimitExceeded": true,
	}
	s3PermanentCodes = map[string]bool{
		"AccessDenied":          true,
		"AllAccessDisabled":     true,
		"NoSuchBucket":          true,
		"InvalidBucketName":     true,
		"InvalidAccessKeyId":    true,
		"SignatureDoesNotMatch": true,
		"EntityTooLarge":        true,
		"AccountProblem":        true,
		"InvalidObjectState":    true,
	}
)

// classify maps SDK errors onto the failure taxonomy: throttling and server
// faults are transient, authorization and target problems are permanent,
// anything unidentified stays transient so redelivery gets a chance.
func (s *S3Store) classify(path string, err error) *WriteError {
	if werr := classifyCtx(s.Name(), path, err); werr != nil {
		return werr
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		code := ae.ErrorCode()
		switch {
		case s3TransientCodes[code]:
			return Transient(s.Name(), path, err)
		case s3PermanentCodes[code]:
			return Permanent(s.Name(), path, err)
		case ae.ErrorFault() == smithy.FaultServer:
			return Transient(s.Name(), path, err)
		case ae.ErrorFault() == smithy.FaultClient:
			return Permanent(s.Name(), path, err)
		}
	}
	return Transient(s.Name(), path, err)
}
