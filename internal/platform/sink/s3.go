package sink

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/CymonMachera/OnSight-Helper/internal/cohort"
)

// S3Config selects the bucket and endpoint. Credentials come from the default
// AWS chain.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, e.g. MinIO
	Prefix    string
	PathStyle bool
}

// S3Sink uploads the CSV rendering of each cohort as <prefix>/<run-id>.csv.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Sink builds a client from the default AWS configuration.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required for the s3 sink")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewS3SinkFromClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3SinkFromClient wraps an existing client.
func NewS3SinkFromClient(client *s3.Client, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

func (*S3Sink) Name() string { return "s3" }

// Key returns the object key used for run.
func (s *S3Sink) Key(run Run) string {
	return path.Join(s.prefix, run.ID.String()+".csv")
}

func (s *S3Sink) Write(ctx context.Context, run Run, c cohort.Cohort) error {
	var buf bytes.Buffer
	if err := cohort.WriteCSV(&buf, c); err != nil {
		return fmt.Errorf("render csv: %w", err)
	}
	key := s.Key(run)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
		ContentType:   aws.String("text/csv"),
		Metadata: map[string]string{
			"run-id":       run.ID.String(),
			"seed":         strconv.FormatInt(run.Seed, 10),
			"prevalence":   strconv.FormatFloat(run.Prevalence, 'f', -1, 64),
			"record-count": strconv.Itoa(len(c)),
		},
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
