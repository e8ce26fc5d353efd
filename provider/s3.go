package provider

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ensure interface is implemented
var _ Provider = (*S3Provider)(nil)

// mtimeMetadataKey holds a preserved modification time in object metadata.
const mtimeMetadataKey = "mtime"

type s3FileInfo struct {
	name    string
	size    int64
	isDir   bool
	modTime time.Time
}

func (f *s3FileInfo) Name() string       { return f.name }
func (f *s3FileInfo) Size() int64        { return f.size }
func (f *s3FileInfo) IsDir() bool        { return f.isDir }
func (f *s3FileInfo) IsLink() bool       { return false }
func (f *s3FileInfo) ModTime() time.Time { return f.modTime }

type S3Provider struct {
	client   *s3.Client
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Provider creates a new S3Provider.
// bucket is the S3 bucket name.
func NewS3Provider(ctx context.Context, bucket string, prefix string) (*S3Provider, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)

	return &S3Provider{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

// ParseS3URL splits s3://bucket/prefix into its parts. ok is false for
// anything that is not an s3:// URL.
func ParseS3URL(s string) (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(s, "s3://")
	if !found {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, prefix, bucket != ""
}

// buildKey constructs the full S3 key based on the provider's prefix
func (p *S3Provider) buildKey(subPath string) string {
	subPath = strings.TrimPrefix(subPath, "/")
	if p.prefix == "" {
		return subPath
	}
	// Avoid double slashes
	key := path.Join(p.prefix, subPath)
	return strings.TrimPrefix(key, "/")
}

// Stat returns the FileInfo for the given path.
func (p *S3Provider) Stat(ctx context.Context, pth string) (FileInfo, error) {
	key := p.buildKey(pth)

	// exact match
	headOut, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})

	if err == nil {
		modTime := objectModTime(headOut.Metadata, headOut.LastModified)
		var size int64
		if headOut.ContentLength != nil {
			size = *headOut.ContentLength
		}

		return &s3FileInfo{
			name:    path.Base(key),
			size:    size,
			isDir:   strings.HasSuffix(key, "/"),
			modTime: modTime,
		}, nil
	}

	// maybe a directory? Let's check prefix
	dirPrefix := key + "/"
	if key == "" {
		dirPrefix = ""
	}

	listOut, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		Prefix:  aws.String(dirPrefix),
		MaxKeys: aws.Int32(1),
	})

	if err != nil {
		return nil, fmt.Errorf("stat failed for %q: %w", pth, err)
	}

	if len(listOut.Contents) > 0 || len(listOut.CommonPrefixes) > 0 {
		return &s3FileInfo{
			name:  path.Base(key),
			isDir: true,
		}, nil
	}

	return nil, &fs.PathError{Op: "stat", Path: pth, Err: fs.ErrNotExist}
}

// objectModTime prefers a preserved mtime over the object's upload time.
func objectModTime(metadata map[string]string, lastModified *time.Time) time.Time {
	if v, ok := metadata[mtimeMetadataKey]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	if lastModified != nil {
		return *lastModified
	}
	return time.Time{}
}

// List returns the contents of the given directory.
func (p *S3Provider) List(ctx context.Context, pth string) ([]FileInfo, error) {
	dirPrefix := p.buildKey(pth)
	if dirPrefix != "" && !strings.HasSuffix(dirPrefix, "/") {
		dirPrefix += "/"
	}

	var infos []FileInfo
	var continuationToken *string

	for {
		out, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(p.bucket),
			Prefix:            aws.String(dirPrefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list %q: %w", pth, err)
		}

		// Add common prefixes as directories
		for _, cp := range out.CommonPrefixes {
			name := strings.TrimPrefix(*cp.Prefix, dirPrefix)
			name = strings.TrimSuffix(name, "/")
			infos = append(infos, &s3FileInfo{
				name:  name,
				isDir: true,
			})
		}

		// Add objects as files (or explicit directories if they end in /)
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(*obj.Key, dirPrefix)
			if name == "" { // sometimes the dir itself is in the results
				continue
			}
			isDir := strings.HasSuffix(name, "/")
			if isDir {
				name = strings.TrimSuffix(name, "/")
			}

			var size int64
			if obj.Size != nil {
				size = *obj.Size
			}

			infos = append(infos, &s3FileInfo{
				name:    name,
				size:    size,
				isDir:   isDir,
				modTime: objectModTime(nil, obj.LastModified),
			})
		}

		if out.IsTruncated != nil && *out.IsTruncated {
			continuationToken = out.NextContinuationToken
		} else {
			break
		}
	}

	return infos, nil
}

// OpenRead opens a file for streaming reads.
func (p *S3Provider) OpenRead(ctx context.Context, pth string) (io.ReadCloser, error) {
	key := p.buildKey(pth)
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open read %q: %w", pth, err)
	}
	return out.Body, nil
}

// OpenWrite opens a file for streaming writes.
func (p *S3Provider) OpenWrite(ctx context.Context, pth string) (io.WriteCloser, error) {
	key := p.buildKey(pth)

	return newAsyncWriter(func(r io.Reader) error {
		_, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(key),
			Body:   r,
		})
		if err != nil {
			return fmt.Errorf("s3 upload failed: %w", err)
		}
		return nil
	}), nil
}

// OpenAppend is not supported: S3 objects are immutable.
func (p *S3Provider) OpenAppend(ctx context.Context, pth string) (io.WriteCloser, error) {
	return nil, fmt.Errorf("append to %q: %w", pth, ErrNotSupported)
}

// Remove deletes an object.
func (p *S3Provider) Remove(ctx context.Context, pth string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.buildKey(pth)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", pth, err)
	}
	return nil
}

// Rename copies the object to its new key and deletes the old one.
func (p *S3Provider) Rename(ctx context.Context, from, to string) error {
	if err := p.copyObject(ctx, from, to, nil); err != nil {
		return fmt.Errorf("failed to rename %q to %q: %w", from, to, err)
	}
	return p.Remove(ctx, from)
}

// MkdirAll writes a 0-byte placeholder ending in '/', which is how S3
// simulates directories.
func (p *S3Provider) MkdirAll(ctx context.Context, pth string) error {
	key := p.buildKey(pth)
	if key == "" {
		return nil
	}
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}

	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   strings.NewReader(""),
	})
	if err != nil {
		return fmt.Errorf("failed to write directory placeholder: %w", err)
	}
	return nil
}

// Chtimes records modTime in the object's metadata, since S3 does not allow
// setting LastModified.
func (p *S3Provider) Chtimes(ctx context.Context, pth string, modTime time.Time) error {
	metadata := map[string]string{mtimeMetadataKey: modTime.UTC().Format(time.RFC3339Nano)}
	if err := p.copyObject(ctx, pth, pth, metadata); err != nil {
		return fmt.Errorf("failed to set mtime on %q: %w", pth, err)
	}
	return nil
}

func (p *S3Provider) copyObject(ctx context.Context, from, to string, metadata map[string]string) error {
	in := &s3.CopyObjectInput{
		Bucket:     aws.String(p.bucket),
		CopySource: aws.String(url.PathEscape(p.bucket + "/" + p.buildKey(from))),
		Key:        aws.String(p.buildKey(to)),
	}
	if metadata != nil {
		in.Metadata = metadata
		in.MetadataDirective = types.MetadataDirectiveReplace
	}
	_, err := p.client.CopyObject(ctx, in)
	return err
}
