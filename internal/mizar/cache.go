package mizar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// CacheClient wraps the S3 client for the artifact cache bucket. Objects
// are keyed by project fingerprint, so a cached artifact is valid for
// exactly the inputs that produced it.
type CacheClient struct {
	Client     *s3.Client
	BucketName string
}

// NewCacheClient initializes the artifact cache client from config values.
func NewCacheClient(cfg *Config) (*CacheClient, error) {
	endpoint := cfg.CacheEndpoint
	accessKey := cfg.Values["MIZAR_CACHE_ACCESS_KEY"]
	secretKey := cfg.Values["MIZAR_CACHE_SECRET_KEY"]
	bucketName := cfg.CacheBucket

	if endpoint == "" || accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, fmt.Errorf("artifact cache not configured (MIZAR_CACHE_ENDPOINT, MIZAR_CACHE_ACCESS_KEY, MIZAR_CACHE_SECRET_KEY, MIZAR_CACHE_BUCKET)")
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: endpoint}, nil
	})

	options := []func(*config.LoadOptions) error{
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithRegion(cfg.CacheRegion),
	}

	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load cache config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &CacheClient{Client: client, BucketName: bucketName}, nil
}

// artifactKey is where a project's output lives in the bucket.
func artifactKey(node *ProjectNode, fingerprint string) string {
	return path.Join(fingerprint, filepath.Base(node.OutputPath()))
}

// manifestKey is where the artifact's descriptor lives, next to the output.
func manifestKey(node *ProjectNode, fingerprint string) string {
	return path.Join(fingerprint, node.Name+".json")
}

// artifactManifest describes one cached artifact so bucket tooling can
// inspect entries without downloading the binaries.
func artifactManifest(node *ProjectNode, fingerprint string) ([]byte, error) {
	return json.Marshal(map[string]string{
		"name":        node.Name,
		"platform":    node.Platform,
		"config":      node.Config,
		"output":      filepath.Base(node.OutputPath()),
		"fingerprint": fingerprint,
	})
}

// PushArtifact uploads a project's built output keyed by fingerprint,
// together with a JSON manifest describing it.
func (c *CacheClient) PushArtifact(ctx context.Context, node *ProjectNode, fingerprint string) error {
	out := node.OutputPath()
	if _, err := os.Stat(out); err != nil {
		return fmt.Errorf("output of %s not built: %w", node.Name, err)
	}
	if err := c.UploadLocalFile(ctx, artifactKey(node, fingerprint), out); err != nil {
		return err
	}
	manifest, err := artifactManifest(node, fingerprint)
	if err != nil {
		return err
	}
	return c.UploadFile(ctx, manifestKey(node, fingerprint), manifest)
}

// PruneStaleArtifacts removes cached copies of a project's output stored
// under superseded fingerprints. Returns how many objects were deleted.
func (c *CacheClient) PruneStaleArtifacts(ctx context.Context, node *ProjectNode, fingerprint string) (int, error) {
	objects, err := c.ListObjects(ctx, "")
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range staleArtifactKeys(objects, node, fingerprint) {
		if err := c.DeleteFile(ctx, key); err != nil {
			return removed, fmt.Errorf("deleting %s: %w", key, err)
		}
		removed++
	}
	return removed, nil
}

// staleArtifactKeys picks the keys that hold this project's output or
// manifest under a fingerprint other than the current one.
func staleArtifactKeys(objects []CacheObject, node *ProjectNode, fingerprint string) []string {
	targets := map[string]bool{
		filepath.Base(node.OutputPath()): true,
		node.Name + ".json":              true,
	}
	var stale []string
	for _, obj := range objects {
		prefix, base := path.Split(obj.Key)
		prefix = strings.TrimSuffix(prefix, "/")
		if targets[base] && prefix != "" && prefix != fingerprint {
			stale = append(stale, obj.Key)
		}
	}
	return stale
}

// PullArtifact downloads a cached output into the project's output path.
// A cache miss is reported as an error naming the key.
func (c *CacheClient) PullArtifact(ctx context.Context, node *ProjectNode, fingerprint string) error {
	key := artifactKey(node, fingerprint)
	data, err := c.DownloadFile(ctx, key)
	if err != nil {
		return fmt.Errorf("cache miss for %s (%s): %w", node.Name, key, err)
	}
	return writeFileAtomic(node.OutputPath(), data, 0o755)
}

// DownloadFile fetches an object from the cache bucket.
func (c *CacheClient) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	output, err := c.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer output.Body.Close()

	return io.ReadAll(output.Body)
}

// UploadFile uploads an in-memory object to the cache bucket.
func (c *CacheClient) UploadFile(ctx context.Context, key string, body []byte) error {
	_, err := c.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentTypeFor(key)),
	})
	return err
}

// UploadLocalFile uploads a file from disk to the cache bucket.
func (c *CacheClient) UploadLocalFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	_, err = c.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.BucketName),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(contentTypeFor(key)),
	})
	return err
}

// DeleteFile removes an object from the cache bucket.
func (c *CacheClient) DeleteFile(ctx context.Context, key string) error {
	_, err := c.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.BucketName),
		Key:    aws.String(key),
	})
	return err
}

// CacheObject represents metadata for one object in the bucket.
type CacheObject struct {
	Key  string
	Size int64
}

// ListObjects returns the objects in the bucket under the given prefix.
func (c *CacheClient) ListObjects(ctx context.Context, prefix string) ([]CacheObject, error) {
	var objects []CacheObject
	paginator := s3.NewListObjectsV2Paginator(c.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.BucketName),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			objects = append(objects, CacheObject{
				Key:  *obj.Key,
				Size: *obj.Size,
			})
		}
	}
	return objects, nil
}

func contentTypeFor(key string) string {
	if strings.HasSuffix(key, ".json") {
		return "application/json"
	}
	return "application/octet-stream"
}
