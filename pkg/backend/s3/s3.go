package s3

import (
	"context"
	"io"
	"sort"
	"strings"

	"emperror.dev/errors"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/cenkalti/backoff/v4"
	"github.com/ocfl-archive/ocflkit/pkg/backend"
	"github.com/rs/zerolog"
)

// Config holds the connection parameters for an S3-compatible endpoint.
// Endpoint may point at MinIO or any other S3 clone; path-style addressing
// is forced so bucket names need no DNS entry.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// Backend stores blobs as objects below Config.Prefix in one bucket.
// There is no rename primitive: the commit engine must order its uploads so
// that the authoritative inventory is always the last write.
type Backend struct {
	client *awss3.Client
	bucket string
	prefix string
	retry  backend.RetryPolicy
	logger zerolog.Logger
}

func NewBackend(ctx context.Context, cfg Config, retry backend.RetryPolicy, logger zerolog.Logger) (*Backend, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "cannot load aws config")
	}
	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})
	return &Backend{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		retry:  retry,
		logger: logger.With().Str("backend", "s3").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

func (b *Backend) String() string {
	s := "s3://" + b.bucket
	if b.prefix != "" {
		s += "/" + b.prefix
	}
	return s
}

func (b *Backend) key(path string) string {
	path = strings.Trim(path, "/")
	if b.prefix == "" {
		return path
	}
	if path == "" || path == "." {
		return b.prefix
	}
	return b.prefix + "/" + path
}

// transient reports whether err is worth retrying. Permission and
// not-found failures are fatal; throttling and server-side errors are not.
func transient(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "InternalError", "ServiceUnavailable",
			"RequestTimeout", "Throttling", "ThrottlingException", "TooManyRequests":
			return true
		case "NoSuchKey", "NoSuchBucket", "NotFound", "AccessDenied", "InvalidAccessKeyId":
			return false
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		return code == 429 || code >= 500
	}
	return false
}

// do runs op under the retry policy; non-transient failures abort the
// schedule immediately.
func (b *Backend) do(ctx context.Context, name string, op func() error) error {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !transient(err) {
			return backoff.Permanent(err)
		}
		b.logger.Warn().Str("op", name).Int("attempt", attempt).Err(err).Msg("transient backend failure")
		return err
	}, b.retry.BackOff(ctx))
	return err
}

func notFound(err error) bool {
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

func (b *Backend) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := b.do(ctx, "GetObject", func() error {
		resp, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.key(path)),
		})
		if err != nil {
			return err
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		if notFound(err) {
			return nil, errors.Wrapf(backend.ErrNotExist, "'%s'", path)
		}
		return nil, errors.Wrapf(err, "cannot get '%s'", path)
	}
	return body, nil
}

func (b *Backend) WriteNew(ctx context.Context, path string, src io.Reader) (int64, error) {
	exists, err := b.Exists(ctx, path)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	if exists {
		return 0, errors.Wrapf(backend.ErrAlreadyExists, "'%s'", path)
	}
	b.logger.Debug().Str("path", path).Msg("put object")

	put := func() error {
		_, err := b.client.PutObject(ctx, &awss3.PutObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.key(path)),
			Body:   src,
		})
		return err
	}

	if seeker, ok := src.(io.ReadSeeker); ok {
		err = b.do(ctx, "PutObject", func() error {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return backoff.Permanent(err)
			}
			return put()
		})
	} else {
		// the body cannot be replayed, so only one attempt is possible
		err = put()
	}
	if err != nil {
		return 0, errors.Wrapf(err, "cannot put '%s'", path)
	}

	var size int64
	err = b.do(ctx, "HeadObject", func() error {
		head, err := b.client.HeadObject(ctx, &awss3.HeadObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.key(path)),
		})
		if err != nil {
			return err
		}
		size = aws.ToInt64(head.ContentLength)
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "cannot stat '%s' after upload", path)
	}
	return size, nil
}

// WriteReplace is a plain PutObject: S3 object replacement is atomic at
// the key level, which is all the head pointer flip needs.
func (b *Backend) WriteReplace(ctx context.Context, path string, src io.Reader) error {
	b.logger.Debug().Str("path", path).Msg("put object (replace)")
	put := func() error {
		_, err := b.client.PutObject(ctx, &awss3.PutObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.key(path)),
			Body:   src,
		})
		return err
	}
	var err error
	if seeker, ok := src.(io.ReadSeeker); ok {
		err = b.do(ctx, "PutObject", func() error {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return backoff.Permanent(err)
			}
			return put()
		})
	} else {
		err = put()
	}
	if err != nil {
		return errors.Wrapf(err, "cannot put '%s'", path)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := b.do(ctx, "HeadObject", func() error {
		_, err := b.client.HeadObject(ctx, &awss3.HeadObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.key(path)),
		})
		if err != nil {
			if notFound(err) {
				exists = false
				return nil
			}
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "cannot head '%s'", path)
	}
	return exists, nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]backend.Entry, error) {
	keyPrefix := b.key(prefix)
	if keyPrefix != "" {
		keyPrefix += "/"
	}
	entries := map[string]backend.Entry{}
	paginator := awss3.NewListObjectsV2Paginator(b.client, &awss3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(keyPrefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		var page *awss3.ListObjectsV2Output
		err := b.do(ctx, "ListObjectsV2", func() error {
			var err error
			page, err = paginator.NextPage(ctx)
			return err
		})
		if err != nil {
			return nil, errors.Wrapf(err, "cannot list '%s'", prefix)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), keyPrefix), "/")
			entries[name] = backend.Entry{Name: name, Dir: true}
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), keyPrefix)
			if name == "" {
				continue
			}
			entries[name] = backend.Entry{Name: name, Size: aws.ToInt64(obj.Size)}
		}
	}
	names := []string{}
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	result := make([]backend.Entry, 0, len(names))
	for _, name := range names {
		result = append(result, entries[name])
	}
	return result, nil
}

func (b *Backend) Walk(ctx context.Context, prefix string, fn func(path string, size int64) error) error {
	keyPrefix := b.key(prefix)
	if keyPrefix != "" {
		keyPrefix += "/"
	}
	rootPrefix := b.prefix
	if rootPrefix != "" {
		rootPrefix += "/"
	}
	paginator := awss3.NewListObjectsV2Paginator(b.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(keyPrefix),
	})
	for paginator.HasMorePages() {
		var page *awss3.ListObjectsV2Output
		err := b.do(ctx, "ListObjectsV2", func() error {
			var err error
			page, err = paginator.NextPage(ctx)
			return err
		})
		if err != nil {
			return errors.Wrapf(err, "cannot list '%s'", prefix)
		}
		for _, obj := range page.Contents {
			path := strings.TrimPrefix(aws.ToString(obj.Key), rootPrefix)
			if err := fn(path, aws.ToInt64(obj.Size)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	b.logger.Debug().Str("path", path).Msg("delete object")
	err := b.do(ctx, "DeleteObject", func() error {
		_, err := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.key(path)),
		})
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "cannot delete '%s'", path)
	}
	return nil
}

func (b *Backend) DeleteAll(ctx context.Context, prefix string) error {
	if strings.Trim(prefix, "/") == "" {
		return errors.Errorf("refusing to delete '%s'", prefix)
	}
	b.logger.Debug().Str("prefix", prefix).Msg("delete all")
	return b.Walk(ctx, prefix, func(path string, _ int64) error {
		return b.Delete(ctx, path)
	})
}

var _ backend.Backend = (*Backend)(nil)
