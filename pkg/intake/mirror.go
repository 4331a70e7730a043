package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Mirror receives a copy of every stored upload. The local directory stays the
// source of truth; mirrors are best effort.
type Mirror interface {
	Put(ctx context.Context, rec Record) error
}

// S3Config configures an S3-compatible bucket (AWS or MinIO).
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// S3Mirror copies screenshots and their sidecars into a bucket.
type S3Mirror struct {
	client *s3.Client
	cfg    S3Config
	log    *zap.Logger
}

func NewS3Mirror(ctx context.Context, cfg S3Config, log *zap.Logger) (*S3Mirror, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 mirror: bucket is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "payment-screenshots"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})
	if log == nil {
		log = zap.NewNop()
	}
	return &S3Mirror{client: client, cfg: cfg, log: log}, nil
}

// Put uploads the stored file and then its sidecar.
func (m *S3Mirror) Put(ctx context.Context, rec Record) error {
	f, err := os.Open(rec.FilePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", rec.FileName, err)
	}
	defer f.Close()
	if _, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.Bucket),
		Key:           aws.String(path.Join(m.cfg.Prefix, rec.FileName)),
		Body:          f,
		ContentType:   aws.String(rec.MIMEType),
		ContentLength: aws.Int64(rec.Size),
	}); err != nil {
		return fmt.Errorf("put %s: %w", rec.FileName, err)
	}

	meta, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if _, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.cfg.Bucket),
		Key:         aws.String(path.Join(m.cfg.Prefix, sidecarName(rec.FileName))),
		Body:        bytes.NewReader(meta),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return fmt.Errorf("put metadata %s: %w", rec.FileName, err)
	}

	m.log.Info("screenshot mirrored",
		zap.String("bucket", m.cfg.Bucket),
		zap.String("key", path.Join(m.cfg.Prefix, rec.FileName)))
	return nil
}
