package mirror

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

var contentTypes = map[string]string{
	".json": "application/json",
	".zst":  "application/zstd",
}

// S3Uploader writes objects to an S3 compatible bucket, switching to
// multipart uploads for large files. A custom endpoint (R2, MinIO) uses path
// style addressing.
type S3Uploader struct {
	up     *s3manager.Uploader
	bucket string
}

type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("mirror bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	ac := &aws.Config{Region: aws.String(region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		ac.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if ep := strings.TrimSpace(cfg.Endpoint); ep != "" {
		if !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
			ep = "https://" + ep
		}
		ac.Endpoint = aws.String(ep)
		ac.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(ac)
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return &S3Uploader{up: s3manager.NewUploader(sess), bucket: cfg.Bucket}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("path is directory: %s", localPath)
	}
	_, err = u.up.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(key)),
	})
	return err
}

func contentType(key string) string {
	for ext, mime := range contentTypes {
		if strings.HasSuffix(key, ext) {
			return mime
		}
	}
	return "application/octet-stream"
}
