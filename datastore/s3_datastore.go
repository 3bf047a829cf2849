package datastore

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/go-sif/catalog/internal/util"
	"github.com/rs/zerolog"
)

// S3Config locates an S3 DataStore. Empty fields fall back to the
// AWS_DEFAULT_REGION, S3_ENDPOINT and S3_BUCKET_NAME environment variables.
type S3Config struct {
	Region   string
	Endpoint string
	Bucket   string
	Prefix   string // Prefix is prepended to every key
	Logger   *zerolog.Logger
}

// S3DataStore stores objects in an S3 bucket
type S3DataStore struct {
	bucket     string
	prefix     string
	client     *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	logger     zerolog.Logger
}

// NewS3DataStore creates an S3DataStore using credentials from the environment
func NewS3DataStore(conf S3Config) (*S3DataStore, error) {
	region := conf.Region
	if region == "" {
		region = util.GetEnvOrDefault("AWS_DEFAULT_REGION", "us-east-1")
	}
	endpoint := conf.Endpoint
	if endpoint == "" {
		endpoint = util.GetEnvOrDefault("S3_ENDPOINT", "")
	}
	bucket := conf.Bucket
	if bucket == "" {
		bucket = util.GetEnvOrDefault("S3_BUCKET_NAME", "")
	}
	if bucket == "" {
		return nil, fmt.Errorf("no S3 bucket configured")
	}

	s3Config := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewEnvCredentials(),
	}
	if endpoint != "" {
		s3Config.Endpoint = aws.String(endpoint)
		s3Config.S3ForcePathStyle = aws.Bool(true)
	}
	s3Session, err := session.NewSession(s3Config)
	if err != nil {
		return nil, fmt.Errorf("error making new session: %w", err)
	}
	logger := zerolog.Nop()
	if conf.Logger != nil {
		logger = *conf.Logger
	}
	return &S3DataStore{
		bucket:     bucket,
		prefix:     conf.Prefix,
		client:     s3.New(s3Session),
		uploader:   s3manager.NewUploader(s3Session),
		downloader: s3manager.NewDownloader(s3Session),
		logger:     logger,
	}, nil
}

func (sds *S3DataStore) key(key string) string {
	if sds.prefix == "" {
		return key
	}
	return path.Join(sds.prefix, key)
}

// ReadFile downloads an object
func (sds *S3DataStore) ReadFile(ctx context.Context, key string) ([]byte, error) {
	buf := aws.NewWriteAtBuffer(nil)
	s := time.Now()
	_, err := sds.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(sds.bucket),
		Key:    aws.String(sds.key(key)),
	})
	if err != nil {
		return nil, fmt.Errorf("error downloading from s3: %w", err)
	}
	d := time.Since(s)
	sds.logger.Debug().Str("key", key).Int64("durationNS", d.Nanoseconds()).Str("durationHuman", d.String()).Msg("downloaded file from s3")
	return buf.Bytes(), nil
}

// WriteFile uploads an object
func (sds *S3DataStore) WriteFile(ctx context.Context, key string, data []byte) error {
	s := time.Now()
	_, err := sds.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(sds.bucket),
		Key:    aws.String(sds.key(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("error uploading to s3: %w", err)
	}
	d := time.Since(s)
	sds.logger.Debug().Str("key", key).Int64("durationNS", d.Nanoseconds()).Str("durationHuman", d.String()).Msg("uploaded file to s3")
	return nil
}

// Exists reports whether an object is present
func (sds *S3DataStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := sds.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(sds.bucket),
		Key:    aws.String(sds.key(key)),
	})
	if err == nil {
		return true, nil
	}
	if aerr, ok := err.(awserr.Error); ok && (aerr.Code() == "NotFound" || aerr.Code() == s3.ErrCodeNoSuchKey) {
		return false, nil
	}
	return false, fmt.Errorf("error in HeadObject: %w", err)
}

func (sds *S3DataStore) String() string {
	return "s3://" + path.Join(sds.bucket, sds.prefix)
}

// Shutdown is a no-op for an S3DataStore
func (sds *S3DataStore) Shutdown(_ context.Context) error {
	return nil
}
