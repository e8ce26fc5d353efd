package provider

import (
	"testing"
	"time"
)

func TestS3Provider_ImplementsProvider(t *testing.T) {
	var _ Provider = (*S3Provider)(nil)
}

func TestS3Provider_BuildKey(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		expect string
	}{
		{"", "test.txt", "test.txt"},
		{"", "/test.txt", "test.txt"},
		{"myprefix", "test.txt", "myprefix/test.txt"},
		{"myprefix/", "test.txt", "myprefix/test.txt"},
		{"myprefix", "/test.txt", "myprefix/test.txt"},
		{"myprefix/", "/test.txt", "myprefix/test.txt"},
		{"my/deep/prefix", "some/path.txt", "my/deep/prefix/some/path.txt"},
		{"my/deep/prefix/", "/some/path.txt", "my/deep/prefix/some/path.txt"},
		{"", "", ""},
		{"myprefix", "", "myprefix"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix+"+"+tt.path, func(t *testing.T) {
			p := &S3Provider{prefix: tt.prefix}
			actual := p.buildKey(tt.path)
			if actual != tt.expect {
				t.Errorf("buildKey(%q, %q) = %q; want %q", tt.prefix, tt.path, actual, tt.expect)
			}
		})
	}
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		in     string
		bucket string
		prefix string
		ok     bool
	}{
		{"s3://bucket/some/prefix", "bucket", "some/prefix", true},
		{"s3://bucket", "bucket", "", true},
		{"s3://", "", "", false},
		{"/local/path", "", "", false},
	}
	for _, tt := range tests {
		bucket, prefix, ok := ParseS3URL(tt.in)
		if bucket != tt.bucket || prefix != tt.prefix || ok != tt.ok {
			t.Errorf("ParseS3URL(%q) = %q, %q, %v; want %q, %q, %v", tt.in, bucket, prefix, ok, tt.bucket, tt.prefix, tt.ok)
		}
	}
}

func TestObjectModTime(t *testing.T) {
	uploaded := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	preserved := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

	if got := objectModTime(nil, &uploaded); !got.Equal(uploaded) {
		t.Errorf("expected upload time, got %v", got)
	}
	md := map[string]string{mtimeMetadataKey: preserved.Format(time.RFC3339Nano)}
	if got := objectModTime(md, &uploaded); !got.Equal(preserved) {
		t.Errorf("expected preserved mtime, got %v", got)
	}
	if got := objectModTime(map[string]string{mtimeMetadataKey: "garbage"}, nil); !got.IsZero() {
		t.Errorf("expected zero time, got %v", got)
	}
}
