package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"reportsync/internal/upload"
)

// S3Config holds settings for the object storage archive.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Archive stores dataset files as objects under {dataset}/{resourceType}/.
type S3Archive struct {
	client *minio.Client
	bucket string
	region string
	source *Source
	logger *slog.Logger

	initOnce sync.Once
	initErr  error
}

// Release manifests are kept under this folder of each dataset.
const releasesFolder = "releases"

// NewS3Archive creates an S3Archive reading file content from source.
func NewS3Archive(cfg S3Config, source *Source) (*S3Archive, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	if source == nil {
		source = NewSource(nil, nil)
	}

	return &S3Archive{
		client: client,
		bucket: bucket,
		region: region,
		source: source,
		logger: slog.With("component", "s3-archive"),
	}, nil
}

func (s *S3Archive) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// ListResources implements upload.Archive. Release manifests are not listed.
func (s *S3Archive) ListResources(ctx context.Context, datasetID string) ([]upload.Resource, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	prefix := datasetPrefix(datasetID)
	var resources []upload.Resource
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		res, ok := resourceFromKey(prefix, obj.Key)
		if !ok {
			continue
		}
		res.Size = obj.Size
		res.LastModified = obj.LastModified.UTC().Format(time.RFC3339)
		resources = append(resources, res)
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].ID < resources[j].ID })
	return resources, nil
}

// UploadFile implements upload.Archive.
func (s *S3Archive) UploadFile(ctx context.Context, datasetID string, file upload.Descriptor) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	content, err := s.source.Open(ctx, file)
	if err != nil {
		return err
	}
	defer content.Body.Close()

	contentType := content.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := objectKey(datasetID, file.ResourceType, file.Filename)
	info, err := s.client.PutObject(ctx, s.bucket, key, content.Body, content.Size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	s.logger.Debug("Object stored", "key", key, "bytes", info.Size)
	return nil
}

// releaseManifest is the object written for a release.
type releaseManifest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	CreatedAt   string   `json:"createdAt"`
	Resources   []string `json:"resources"`
}

// CreateRelease implements upload.Archive by writing a manifest of the
// dataset's current objects.
func (s *S3Archive) CreateRelease(ctx context.Context, datasetID string, release upload.Release) error {
	resources, err := s.ListResources(ctx, datasetID)
	if err != nil {
		return err
	}
	manifest := releaseManifest{
		Name:        release.Name,
		Description: release.Description,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		Resources:   make([]string, 0, len(resources)),
	}
	for _, r := range resources {
		manifest.Resources = append(manifest.Resources, r.ID)
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshal release manifest: %w", err)
	}
	key := releaseKey(datasetID, release.Name)
	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	}); err != nil {
		return fmt.Errorf("put release manifest: %w", err)
	}
	s.logger.Info("Release created", "datasetId", datasetID, "release", release.Name, "resources", len(resources))
	return nil
}

func datasetPrefix(datasetID string) string {
	return strings.Trim(strings.TrimSpace(datasetID), "/") + "/"
}

func objectKey(datasetID, resourceType, filename string) string {
	return datasetPrefix(datasetID) + path.Join(clean(resourceType), clean(filename))
}

func releaseKey(datasetID, name string) string {
	return datasetPrefix(datasetID) + path.Join(releasesFolder, clean(name)+".json")
}

// clean keeps a key segment from escaping its folder.
func clean(segment string) string {
	segment = strings.ReplaceAll(strings.TrimSpace(segment), "/", "_")
	if segment == "." || segment == ".." {
		return "_"
	}
	return segment
}

// resourceFromKey parses {prefix}{resourceType}/{filename}.
func resourceFromKey(prefix, key string) (upload.Resource, bool) {
	rel := strings.TrimPrefix(key, prefix)
	resourceType, filename, ok := strings.Cut(rel, "/")
	if !ok || resourceType == releasesFolder || filename == "" || strings.Contains(filename, "/") {
		return upload.Resource{}, false
	}
	return upload.Resource{ID: rel, ResourceType: resourceType, Filename: filename}, true
}

// Verify S3Archive implements upload.Archive
var _ upload.Archive = (*S3Archive)(nil)
