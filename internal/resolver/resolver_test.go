package resolver_test

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/NamanBalaji/nativedl/internal/resolver"
)

func TestResolve(t *testing.T) {
	root := filepath.Join("data", "downloads")

	tests := []struct {
		name     string
		url      string
		fileName string
		want     string
	}{
		{
			name:     "explicit file name",
			url:      "https://x.test/dir/file.zip",
			fileName: "a.bin",
			want:     root + "/a.bin",
		},
		{
			name: "name from last path segment",
			url:  "https://x.test/dir/file.zip",
			want: root + "/file.zip",
		},
		{
			name: "query and fragment are dropped",
			url:  "https://x.test/dir/file.zip?token=abc#top",
			want: root + "/file.zip",
		},
		{
			name:     "file name cannot climb out of root",
			url:      "https://x.test/dir/file.zip",
			fileName: "../../x",
			want:     root + "/x",
		},
		{
			name:     "file name directories are dropped",
			url:      "https://x.test/dir/file.zip",
			fileName: "/etc/sub/a.bin",
			want:     root + "/a.bin",
		},
		{
			name:     "unusable file name falls back to url",
			url:      "https://x.test/dir/file.zip",
			fileName: "..",
			want:     root + "/file.zip",
		},
		{
			name: "no separator uses whole url",
			url:  "file.zip",
			want: root + "/file.zip",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolver.Resolve(tt.url, tt.fileName, root))
		})
	}
}

func TestFileNameFallback(t *testing.T) {
	urls := []string{
		"https://x.test/dir/",
		"https://x.test/dir/..",
		"",
	}

	for _, u := range urls {
		want := uuid.NewSHA1(uuid.NameSpaceURL, []byte(u)).String()
		got := resolver.FileName(u)
		assert.Equal(t, want, got, "url %q", u)
		assert.Equal(t, got, resolver.FileName(u), "fallback must be deterministic")
	}

	assert.NotEqual(t, resolver.FileName("https://a.test/"), resolver.FileName("https://b.test/"))
}
