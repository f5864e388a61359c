package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

// S3Backend fetches and publishes content in Amazon S3 or compatible services.
// It supports both public read-only access and authenticated write access.
type S3Backend struct {
	client         *s3.S3
	writeClient    *s3.S3
	bucketName     string
	prefix         string
	region         string
	endpoint       string
	log            *slog.Logger
	locationURI    string
	hasWriteAccess bool
}

// NewS3Backend creates a new S3 backend.
// If accessKey and secretKey are provided, the backend can publish.
// Otherwise, it is read-only for publicly accessible objects.
func NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Backend, error) {
	log = common.OrDefault(log)
	prefix = strings.Trim(prefix, "/")

	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += "&endpoint=" + url.QueryEscape(endpoint)
	}

	baseCfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		baseCfg.Endpoint = aws.String(endpoint)
		baseCfg.S3ForcePathStyle = aws.Bool(true)
	}

	// Anonymous session for reads of public buckets
	baseSess, err := session.NewSession(baseCfg.Copy().WithCredentials(credentials.AnonymousCredentials))
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	readClient := s3.New(baseSess)

	hasWriteAccess := accessKey != "" && secretKey != ""
	writeClient := readClient

	if hasWriteAccess {
		writeCfg := baseCfg.Copy()
		writeCfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")

		writeSess, err := session.NewSession(writeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS write session: %w", err)
		}
		writeClient = s3.New(writeSess)
		// Authenticated reads work for private buckets too
		readClient = writeClient
	} else {
		log.Debug("No S3 credentials provided, backend is read-only", slog.String("bucket", bucketName))
	}

	return &S3Backend{
		client:         readClient,
		writeClient:    writeClient,
		bucketName:     bucketName,
		prefix:         prefix,
		region:         region,
		endpoint:       endpoint,
		log:            log,
		locationURI:    uri,
		hasWriteAccess: hasWriteAccess,
	}, nil
}

// Fetch retrieves the object named by an s3:// location.
func (b *S3Backend) Fetch(ctx context.Context, location string, id interfaces.ContentID) ([]byte, error) {
	start := time.Now()

	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrInvalidLocationURI, location)
	}

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		b.log.Debug("Failed to get object from S3",
			slog.String("content_id", id.Short()),
			slog.String("bucket", bucket),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("%w: s3 get %s/%s: %v", interfaces.ErrTransientFetch, bucket, key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(io.LimitReader(result.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading object body: %v", interfaces.ErrTransientFetch, err)
	}
	if len(data) > maxResponseSize {
		return nil, fmt.Errorf("%w: object %s exceeds %d bytes", interfaces.ErrTransientFetch, key, maxResponseSize)
	}

	b.log.Debug("Fetched content from S3",
		slog.String("content_id", id.Short()),
		slog.String("bucket", bucket),
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Publish uploads data under prefix/<content id>.
func (b *S3Backend) Publish(ctx context.Context, data []byte) (interfaces.ContentID, []string, error) {
	id := interfaces.ComputeID(data)
	if !b.hasWriteAccess {
		return id, nil, fmt.Errorf("%s: no write credentials: %w", b.Name(), interfaces.ErrStorageUnavailable)
	}

	key := b.objectKey(string(id))
	_, err := b.writeClient.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return id, nil, fmt.Errorf("failed to upload object to S3: %w", err)
	}

	b.log.Debug("Stored content in S3",
		slog.String("content_id", id.Short()),
		slog.String("bucket", b.bucketName),
		slog.String("key", key))

	template := fmt.Sprintf("s3://%s/%s?region=%s", b.bucketName, b.objectKey(interfaces.IDPlaceholder), b.region)
	if b.endpoint != "" {
		template += "&endpoint=" + url.QueryEscape(b.endpoint)
	}
	return id, []string{template}, nil
}

// Name returns a unique identifier for this backend.
func (b *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI that identifies this backend.
func (b *S3Backend) LocationURI() string {
	return b.locationURI
}

func (b *S3Backend) objectKey(name string) string {
	if b.prefix == "" {
		return name
	}
	return b.prefix + "/" + name
}
