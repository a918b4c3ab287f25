package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"snapback/internal/config"
	"snapback/internal/snap"
)

// s3API is the subset of the S3 client used by S3Vault.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// uploader streams an object of unknown length, using multipart uploads
// for large archives.
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Vault stores archives as objects under <prefix>/<key> in a bucket.
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   s3API
	uploader uploader
}

// NewS3Vault creates an S3 vault from configuration. A custom endpoint
// (MinIO and friends) switches the client to path-style addressing.
func NewS3Vault(ctx context.Context, cfg config.VaultConfig) (*S3Vault, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKey != "" || cfg.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Vault(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client, manager.NewUploader(client)), nil
}

func newS3Vault(name, bucket, prefix string, client s3API, up uploader) *S3Vault {
	return &S3Vault{
		name:     name,
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: up,
	}
}

func (v *S3Vault) Name() string {
	return v.name
}

func (v *S3Vault) objectKey(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	if v.prefix == "" {
		return key, nil
	}
	return path.Join(v.prefix, key), nil
}

// HasArchive issues a HEAD request for the object.
func (v *S3Vault) HasArchive(ctx context.Context, key string) (bool, error) {
	objKey, err := v.objectKey(key)
	if err != nil {
		return false, err
	}

	_, err = v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(objKey),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking s3://%s/%s: %w", v.bucket, objKey, err)
}

// PutArchive uploads r. The uploader aborts a failed multipart upload, so
// no partial object becomes visible.
func (v *S3Vault) PutArchive(ctx context.Context, key string, r io.Reader) (int64, error) {
	objKey, err := v.objectKey(key)
	if err != nil {
		return 0, err
	}

	body := &countingReader{r: r}
	_, err = v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(objKey),
		Body:   body,
	})
	if err != nil {
		return 0, fmt.Errorf("uploading s3://%s/%s: %w", v.bucket, objKey, err)
	}
	return body.n, nil
}

// GetArchive downloads the object into w.
func (v *S3Vault) GetArchive(ctx context.Context, key string, w io.Writer) error {
	objKey, err := v.objectKey(key)
	if err != nil {
		return err
	}

	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("archive not found: %s", key)
		}
		return fmt.Errorf("downloading s3://%s/%s: %w", v.bucket, objKey, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading s3://%s/%s: %w", v.bucket, objKey, err)
	}
	return nil
}

// ValidateSetup checks that the bucket exists and is reachable.
func (v *S3Vault) ValidateSetup(ctx context.Context) error {
	if _, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(v.bucket)}); err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Compile-time check that S3Vault implements snap.Vault interface
var _ snap.Vault = (*S3Vault)(nil)
