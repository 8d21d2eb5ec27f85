package coreforge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Mirror wraps an S3-compatible bucket holding built artifacts, one
// prefix per target family.
type Mirror struct {
	Client *s3.Client
	Bucket string
	Quota  int64 // bytes; 0 disables the usage warning
}

// NewMirror builds the client from configuration values. Endpoint and
// credentials are required; there are no sane defaults to fall back to.
func NewMirror(cfg *Config) (*Mirror, error) {
	endpoint := cfg.Values["COREFORGE_S3_ENDPOINT"]
	accessKey := cfg.Values["COREFORGE_S3_ACCESS_KEY"]
	secretKey := cfg.Values["COREFORGE_S3_SECRET_KEY"]
	bucket := cfg.Values["COREFORGE_S3_BUCKET"]

	var missing []string
	for key, v := range map[string]string{
		"COREFORGE_S3_ENDPOINT":   endpoint,
		"COREFORGE_S3_ACCESS_KEY": accessKey,
		"COREFORGE_S3_SECRET_KEY": secretKey,
		"COREFORGE_S3_BUCKET":     bucket,
	} {
		if v == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: mirror not configured, missing %s",
			ErrConfig, strings.Join(missing, ", "))
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: endpoint}, nil
	})

	options := []func(*config.LoadOptions) error{
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithRegion("auto"),
	}
	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	m := &Mirror{Client: client, Bucket: bucket}
	if raw := cfg.Values["COREFORGE_S3_QUOTA"]; raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			m.Quota = n
		}
	}
	return m, nil
}

func contentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, "/"+manifestName):
		return "text/plain"
	case strings.HasSuffix(key, ".xz"):
		return "application/x-xz"
	default:
		return "application/octet-stream"
	}
}

// Download fetches an object's full contents.
func (m *Mirror) Download(ctx context.Context, key string) ([]byte, error) {
	output, err := m.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer output.Body.Close()
	return io.ReadAll(output.Body)
}

// Upload stores body under key.
func (m *Mirror) Upload(ctx context.Context, key string, body []byte) error {
	_, err := m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentTypeFor(key)),
	})
	return err
}

// UploadFile streams a file from disk to key.
func (m *Mirror) UploadFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}
	_, err = m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.Bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(contentTypeFor(key)),
	})
	return err
}

// Delete removes an object.
func (m *Mirror) Delete(ctx context.Context, key string) error {
	_, err := m.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.Bucket),
		Key:    aws.String(key),
	})
	return err
}

// MirrorObject is the metadata kept per listed object.
type MirrorObject struct {
	Key  string
	Size int64
}

// List returns the objects under prefix.
func (m *Mirror) List(ctx context.Context, prefix string) ([]MirrorObject, error) {
	var objects []MirrorObject
	paginator := s3.NewListObjectsV2Paginator(m.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			objects = append(objects, MirrorObject{Key: *obj.Key, Size: *obj.Size})
		}
	}
	return objects, nil
}

// uploadArtifacts mirrors output/<family>/ to the bucket under the
// family prefix. The remote checksums manifest decides what changed;
// objects with matching digests are left alone.
func uploadArtifacts(ctx context.Context, cfg *Config, family string, only []string, prune bool) error {
	outDir := outputDir(family)
	local, err := readChecksumManifest(outDir)
	if err != nil {
		return fmt.Errorf("failed to read local manifest: %w", err)
	}
	if len(local) == 0 {
		return fmt.Errorf("no artifacts recorded in %s", filepath.Join(outDir, manifestName))
	}

	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[name] = true
	}

	mirror, err := NewMirror(cfg)
	if err != nil {
		return err
	}

	colArrow.Print("-> ")
	colSuccess.Println("Fetching remote manifest")
	remote := make(map[string]string)
	manifestKey := path.Join(family, manifestName)
	if data, err := mirror.Download(ctx, manifestKey); err != nil {
		debugf("remote manifest not found: %v\n", err)
	} else if remote, err = parseChecksums(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to parse remote manifest: %w", err)
	}

	names := make([]string, 0, len(local))
	for name := range local {
		names = append(names, name)
	}
	sort.Strings(names)

	var uploaded int
	for _, name := range names {
		if len(wanted) > 0 && !wanted[name] && !wanted[strings.TrimSuffix(name, filepath.Ext(name))] {
			continue
		}
		if remote[name] == local[name] {
			debugf("%s unchanged on mirror\n", name)
			continue
		}
		localPath := filepath.Join(outDir, name)
		if !fileExists(localPath) {
			cPrintf(colWarn, "Skipping %s: listed in manifest but missing on disk\n", name)
			continue
		}

		colArrow.Print("-> ")
		if !askForConfirmation(colWarn, "Upload %s (%s)?", name, family) {
			continue
		}
		colArrow.Print("-> ")
		colSuccess.Printf("Uploading ")
		colNote.Printf("%s\n", path.Join(family, name))
		if err := mirror.UploadFile(ctx, path.Join(family, name), localPath); err != nil {
			return fmt.Errorf("failed to upload %s: %w", name, err)
		}
		uploaded++
	}

	if prune {
		if err := pruneMirror(ctx, mirror, family, local); err != nil {
			return err
		}
	}

	if uploaded > 0 || prune {
		colArrow.Print("-> ")
		colSuccess.Println("Updating remote manifest")
		if err := mirror.UploadFile(ctx, manifestKey, filepath.Join(outDir, manifestName)); err != nil {
			return fmt.Errorf("failed to upload manifest: %w", err)
		}
	}

	reportMirrorUsage(ctx, mirror)
	if uploaded == 0 && !prune {
		colArrow.Print("-> ")
		colSuccess.Println("Everything up to date.")
	} else {
		colArrow.Print("-> ")
		colSuccess.Printf("Sync complete: %d uploaded.\n", uploaded)
	}
	return nil
}

// pruneMirror deletes family objects no longer present in the local
// manifest, one confirmation each.
func pruneMirror(ctx context.Context, mirror *Mirror, family string, local map[string]string) error {
	objects, err := mirror.List(ctx, family+"/")
	if err != nil {
		return fmt.Errorf("failed to list mirror: %w", err)
	}

	var deleted int
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, family+"/")
		if name == manifestName {
			continue
		}
		if _, ok := local[name]; ok {
			continue
		}
		colArrow.Print("-> ")
		if !askForConfirmation(colError, "Delete stale object %s?", obj.Key) {
			continue
		}
		if err := mirror.Delete(ctx, obj.Key); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to delete %s: %v\n", obj.Key, err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		colSuccess.Printf("Pruned %d stale objects.\n", deleted)
	}
	return nil
}

func reportMirrorUsage(ctx context.Context, mirror *Mirror) {
	objects, err := mirror.List(ctx, "")
	if err != nil {
		debugf("cannot list mirror for usage report: %v\n", err)
		return
	}
	var total int64
	for _, obj := range objects {
		total += obj.Size
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Storage used: ")
	if mirror.Quota > 0 {
		percent := float64(total) / float64(mirror.Quota) * 100
		colNote.Printf("%s / %s (%.1f%%)\n", humanReadableSize(total), humanReadableSize(mirror.Quota), percent)
		if total > mirror.Quota*9/10 {
			colWarn.Println("Warning: over 90% of the configured mirror quota!")
		}
		return
	}
	colNote.Printf("%s\n", humanReadableSize(total))
}

func humanReadableSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
