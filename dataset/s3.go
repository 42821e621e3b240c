package dataset

import (
	"context"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// S3API is the part of the S3 client the source uses.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// IsS3URI returns true if the path is an s3 uri.
func IsS3URI(p string) bool {
	return strings.HasPrefix(p, "s3://")
}

// ParseS3URI splits s3://bucket/prefix into its bucket and key prefix.
func ParseS3URI(uri string) (bucket, prefix string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", errors.Wrapf(err, "parsing %s", uri)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", errors.Errorf("%s is not an s3://bucket/prefix uri", uri)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// NewS3Client loads the default AWS credential chain for region.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "loading aws config")
	}
	return s3.NewFromConfig(cfg), nil
}

// S3Source reads sidecar records stored under a bucket prefix. Sidecar keys
// are listed lazily, one page at a time, and served in lexical order within
// each page.
type S3Source struct {
	client S3API
	bucket string

	mu    sync.Mutex
	pager *s3.ListObjectsV2Paginator
	keys  []string
}

func NewS3Source(client S3API, bucket, prefix string) *S3Source {
	return &S3Source{
		client: client,
		bucket: bucket,
		pager: s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucket),
			Prefix: aws.String(prefix),
		}),
	}
}

// nextKey returns the next sidecar key, fetching list pages as needed.
func (s *S3Source) nextKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.keys) == 0 {
		if !s.pager.HasMorePages() {
			return "", io.EOF
		}
		page, err := s.pager.NextPage(ctx)
		if err != nil {
			return "", errors.Wrapf(err, "listing s3://%s", s.bucket)
		}
		for _, obj := range page.Contents {
			if key := aws.ToString(obj.Key); isSidecar(key) {
				s.keys = append(s.keys, key)
			}
		}
		sort.Strings(s.keys)
	}
	key := s.keys[0]
	s.keys = s.keys[1:]
	return key, nil
}

func (s *S3Source) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "getting s3://%s/%s", s.bucket, key)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "reading s3://%s/%s", s.bucket, key)
	}
	return data, nil
}

func (s *S3Source) Next(ctx context.Context) (Record, error) {
	key, err := s.nextKey(ctx)
	if err != nil {
		return Record{}, err
	}
	data, err := s.get(ctx, key)
	if err != nil {
		return Record{}, err
	}
	sc, err := ParseSidecar(data)
	if err != nil {
		return Record{}, errors.Wrapf(err, "s3://%s/%s", s.bucket, key)
	}
	dir := path.Dir(key)
	image, err := s.get(ctx, path.Join(dir, sc.Image))
	if err != nil {
		return Record{}, err
	}
	mask, err := s.get(ctx, path.Join(dir, sc.Mask))
	if err != nil {
		return Record{}, err
	}
	return sc.record(strings.TrimSuffix(key, path.Ext(key)), image, mask), nil
}
