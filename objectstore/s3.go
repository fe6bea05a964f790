// Package objectstore mirrors dated snapshot directories to an S3-compatible
// bucket.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"autoprice/utils"
)

const defaultRegion = "eu-west-1"

// Config locates the bucket. Credentials are optional; without them the
// default AWS credential chain is used.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type api interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 copies date=YYYY-MM-DD directories between the output directory and the
// bucket.
type S3 struct {
	client api
	bucket string
	prefix string
	logger *utils.Logger
}

// New builds a client from cfg. A custom endpoint switches to path-style
// addressing so MinIO and similar servers work.
func New(ctx context.Context, cfg Config, logger *utils.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("objectstore: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func newS3(client api, bucket, prefix string, logger *utils.Logger) *S3 {
	return &S3{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// dayPrefix is the object key prefix of one day, always ending in "/".
func (s *S3) dayPrefix(key utils.DateKey) string {
	return path.Join(s.prefix, key.String()) + "/"
}

// Download copies every object under the day's prefix into
// outputDir/date=YYYY-MM-DD and returns how many files were written.
func (s *S3) Download(ctx context.Context, outputDir string, key utils.DateKey) (int, error) {
	prefix := s.dayPrefix(key)
	dir := filepath.Join(outputDir, key.String())

	n := 0
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return n, fmt.Errorf("objectstore: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			if err := s.get(ctx, aws.ToString(obj.Key), filepath.Join(dir, name)); err != nil {
				return n, err
			}
			n++
		}
	}
	s.logger.Info("[objectstore] Downloaded %d files for %s", n, key)
	return n, nil
}

func (s *S3) get(ctx context.Context, objectKey, dest string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("objectstore: get %s: %w", objectKey, err)
	}
	defer out.Body.Close()
	err = utils.WriteFileAtomic(dest, func(w io.Writer) error {
		_, err := io.Copy(w, out.Body)
		return err
	})
	if err != nil {
		return fmt.Errorf("objectstore: write %q: %w", dest, err)
	}
	return nil
}

// Upload copies the regular files of outputDir/date=YYYY-MM-DD to the bucket.
// A missing day directory uploads nothing.
func (s *S3) Upload(ctx context.Context, outputDir string, key utils.DateKey) (int, error) {
	dir := filepath.Join(outputDir, key.String())
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("objectstore: read %q: %w", dir, err)
	}

	n := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.Contains(e.Name(), ".tmp.") {
			continue
		}
		objectKey := s.dayPrefix(key) + e.Name()
		if err := s.put(ctx, filepath.Join(dir, e.Name()), objectKey); err != nil {
			return n, err
		}
		n++
	}
	s.logger.Info("[objectstore] Uploaded %d files for %s", n, key)
	return n, nil
}

func (s *S3) put(ctx context.Context, src, objectKey string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("objectstore: open %q: %w", src, err)
	}
	defer f.Close()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("objectstore: put %s: %w", objectKey, err)
	}
	return nil
}
