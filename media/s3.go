package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/corpos/channel/api"
	"github.com/gabriel-vasile/mimetype"
)

// S3Config configures the S3 upload storage.
type S3Config struct {
	Region string
	Bucket string
	// Prefix is prepended to object keys, e.g. "channel/uploads".
	Prefix string
	// PublicURL is the base URL objects are served from. Defaults to the
	// virtual-hosted bucket URL.
	PublicURL string
	// Endpoint overrides the S3 endpoint, for MinIO or R2.
	Endpoint string
	// AccessKeyID and SecretAccessKey, when set, replace the default
	// credential chain.
	AccessKeyID     string
	SecretAccessKey string
}

// An objectStore is the part of the S3 client S3 uses.
type objectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 stores uploads in an S3 bucket.
type S3 struct {
	// Now is used to name objects. Defaults to time.Now.
	Now func() time.Time

	client    objectStore
	bucket    string
	prefix    string
	publicURL string
}

// NewS3 loads the AWS configuration and returns the storage.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	opts := []func(*awscfg.LoadOptions) error{awscfg.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	return newS3(client, cfg.Bucket, cfg.Prefix, publicURL), nil
}

func newS3(client objectStore, bucket, prefix, publicURL string) *S3 {
	return &S3{
		Now:       time.Now,
		client:    client,
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// Save uploads r under a random key and returns the object's public URL.
// The upload is buffered in memory so the request body is seekable.
func (s *S3) Save(ctx context.Context, filename string, r io.Reader) (api.SavedFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return api.SavedFile{}, fmt.Errorf("read upload: %w", err)
	}
	contentType := mimetype.Detect(data).String()

	key := randomName(filename, s.Now())
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}); err != nil {
		return api.SavedFile{}, fmt.Errorf("put object: %w", err)
	}

	return api.SavedFile{
		Key:         key,
		URL:         s.publicURL + "/" + key,
		ContentType: contentType,
	}, nil
}

// Remove deletes a saved object.
func (s *S3) Remove(ctx context.Context, f api.SavedFile) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(f.Key),
	}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
