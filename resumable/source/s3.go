package source

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"
)

// ErrObjectNotFound is returned when the S3 object does not exist.
var ErrObjectNotFound = errors.New("object not found in s3 bucket")

// S3API is the part of the S3 client an object source needs.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Params ...
type S3Params struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client returns an S3 client. Static credentials are used when both keys are set,
// otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, params S3Params, logger log.Logger) (*s3.Client, error) {
	if params.Region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(params.Region),
	}

	if params.AccessKeyID != "" && params.SecretAccessKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(params.AccessKeyID, params.SecretAccessKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg), nil
}

// Object streams an S3 object. It must be closed after the upload.
type Object struct {
	Source
	body        io.ReadCloser
	size        int64
	contentType string
}

// FromS3 looks up the object's size and opens its body for streaming.
func FromS3(ctx context.Context, client S3API, bucket, key string, bufSize int) (*Object, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiError smithy.APIError
		if errors.As(err, &apiError) {
			switch apiError.(type) {
			case *types.NotFound:
				return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
			default:
				return nil, fmt.Errorf("aws api error: %w", err)
			}
		}
		return nil, fmt.Errorf("generic aws error: %w", err)
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}

	return &Object{
		Source:      FromReader(result.Body, bufSize),
		body:        result.Body,
		size:        aws.ToInt64(head.ContentLength),
		contentType: aws.ToString(head.ContentType),
	}, nil
}

// Size ...
func (o *Object) Size() int64 {
	return o.size
}

// ContentType returns the object's stored content type, if any.
func (o *Object) ContentType() string {
	return o.contentType
}

// Close ...
func (o *Object) Close() error {
	return o.body.Close()
}
