package minio

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"
)

type MinioOpts struct {
	TLS             bool
	CACertPath      string
	Region          string
	Prefix          string
	SSECCustomerKey string
	AccessKeyID     string
	SecretAccessKey string
	PartSize        uint64
}

type MinioOpt func(m *MinioOpts)

func WithTLS(tls bool) MinioOpt {
	return func(m *MinioOpts) {
		m.TLS = tls
	}
}

func WithCACertPath(caCertPath string) MinioOpt {
	return func(m *MinioOpts) {
		m.CACertPath = caCertPath
	}
}

func WithRegion(region string) MinioOpt {
	return func(m *MinioOpts) {
		m.Region = region
	}
}

func WithPrefix(prefix string) MinioOpt {
	return func(m *MinioOpts) {
		m.Prefix = prefix
	}
}

func WithSSECCustomerKey(key string) MinioOpt {
	return func(m *MinioOpts) {
		m.SSECCustomerKey = key
	}
}

func WithCredentials(accessKeyID, secretAccessKey string) MinioOpt {
	return func(m *MinioOpts) {
		m.AccessKeyID = accessKeyID
		m.SecretAccessKey = secretAccessKey
	}
}

// WithPartSize sets the multipart size used when uploading streams of unknown size.
func WithPartSize(size uint64) MinioOpt {
	return func(m *MinioOpts) {
		m.PartSize = size
	}
}

// DefaultPartSize keeps streamed uploads of multi-terabyte snapshots under the 10000 parts limit.
const DefaultPartSize = 512 * 1024 * 1024

type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

type Client struct {
	MinioOpts
	*minio.Client
	bucket string
}

func NewClient(endpoint, bucket string, mOpts ...MinioOpt) (*Client, error) {
	opts := MinioOpts{
		PartSize: DefaultPartSize,
	}
	for _, setOpt := range mOpts {
		setOpt(&opts)
	}
	if bucket == "" {
		return nil, errors.New("bucket must be provided")
	}

	minioOpts, err := getMinioOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("error creating Minio client options: %v", err)
	}
	client, err := minio.New(endpoint, minioOpts)
	if err != nil {
		return nil, fmt.Errorf("error creating Minio client: %v", err)
	}
	return &Client{
		MinioOpts: opts,
		Client:    client,
		bucket:    bucket,
	}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

// List returns the objects whose key starts with the given prefix, relative to the client prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]Object, error) {
	// Cancelling stops the listing goroutine when returning early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var objects []Object
	for o := range c.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    c.PrefixedKey(prefix),
		Recursive: true,
	}) {
		if o.Err != nil {
			return nil, fmt.Errorf("error listing objects with prefix \"%s\": %v", prefix, o.Err)
		}
		objects = append(objects, Object{
			Key:          c.UnprefixedKey(o.Key),
			Size:         o.Size,
			LastModified: o.LastModified,
		})
	}
	return objects, nil
}

// Put streams reader into key. A negative size uploads in parts of PartSize.
func (c *Client) Put(ctx context.Context, key string, reader io.Reader, size int64) (int64, error) {
	putOpts := minio.PutObjectOptions{
		ContentType: "application/octet-stream",
		PartSize:    c.PartSize,
	}
	sse, err := c.getSSEC()
	if err != nil {
		return 0, err
	}
	if sse != nil {
		putOpts.ServerSideEncryption = sse
	}
	info, err := c.PutObject(ctx, c.bucket, c.PrefixedKey(key), reader, size, putOpts)
	if err != nil {
		return 0, fmt.Errorf("error uploading object \"%s\": %v", key, err)
	}
	return info.Size, nil
}

func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	getOpts := minio.GetObjectOptions{}
	sse, err := c.getSSEC()
	if err != nil {
		return nil, err
	}
	if sse != nil {
		getOpts.ServerSideEncryption = sse
	}
	object, err := c.GetObject(ctx, c.bucket, c.PrefixedKey(key), getOpts)
	if err != nil {
		return nil, fmt.Errorf("error getting object \"%s\": %v", key, err)
	}
	return object, nil
}

func (c *Client) PrefixedKey(key string) string {
	prefix := c.GetPrefix()
	if prefix == "" || strings.HasPrefix(key, prefix) {
		return key
	}
	return prefix + strings.TrimPrefix(key, "/")
}

func (c *Client) UnprefixedKey(key string) string {
	return strings.TrimPrefix(key, c.GetPrefix())
}

func (c *Client) GetPrefix() string {
	if c.Prefix == "" || c.Prefix == "/" {
		return "" // object store doesn't use slash for root path
	}
	if !strings.HasSuffix(c.Prefix, "/") {
		return c.Prefix + "/" // ending slash is required for avoiding matching like "foo/" and "foobar/" with prefix "foo"
	}
	return c.Prefix
}

// getSSEC returns the SSE-C encryption object if SSECCustomerKey is configured.
// The key is expected to be base64 encoded and must be 32 bytes (256 bits) when decoded.
func (c *Client) getSSEC() (encrypt.ServerSide, error) {
	if c.SSECCustomerKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.SSECCustomerKey)
	if err != nil {
		return nil, fmt.Errorf("error decoding SSE-C key from base64: %v", err)
	}
	sse, err := encrypt.NewSSEC(key)
	if err != nil {
		return nil, fmt.Errorf("error creating SSE-C encryption: %v", err)
	}
	return sse, nil
}

func getMinioOptions(opts MinioOpts) (*minio.Options, error) {
	if opts.AccessKeyID == "" || opts.SecretAccessKey == "" {
		return nil, errors.New("S3 access key and secret must be set in order to authenticate with S3")
	}
	minioOpts := &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Region: opts.Region,
	}
	if opts.TLS {
		minioOpts.Secure = true

		if opts.CACertPath != "" {
			bytes, err := os.ReadFile(opts.CACertPath)
			if err != nil {
				return nil, fmt.Errorf("error reading CA cert: %v", err)
			}
			cert, err := parseCert(bytes)
			if err != nil {
				return nil, fmt.Errorf("error parsing CA cert: %v", err)
			}
			rootCAs := x509.NewCertPool()
			rootCAs.AddCert(cert)

			minioOpts.Transport = &http.Transport{
				TLSClientConfig: &tls.Config{
					RootCAs: rootCAs,
				},
			}
		}
	}
	return minioOpts, nil
}

func parseCert(bytes []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(bytes)
	if block == nil {
		return nil, errors.New("error parsing PEM block")
	}
	return x509.ParseCertificate(block.Bytes)
}
