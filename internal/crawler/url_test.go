package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"HTTP://Example.COM:80", "http://example.com/"},
		{"https://example.com:443/a/b/", "https://example.com/a/b"},
		{"https://example.com/docs?b=2&a=1#section", "https://example.com/docs?a=1&b=2"},
		{"https://example.com:8443/", "https://example.com:8443/"},
		{"  https://example.com/x  ", "https://example.com/x"},
	}
	for _, tc := range cases {
		got, err := NormalizeURL(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestNormalizeURLRejectsRelative(t *testing.T) {
	t.Parallel()

	_, err := NormalizeURL("/just/a/path")
	require.Error(t, err)
}

func TestChunkIDAndHostname(t *testing.T) {
	t.Parallel()

	require.Equal(t, "doc-3", ChunkID("doc", 3))
	require.Equal(t, "example.com", Hostname("https://EXAMPLE.com:8080/x"))
	require.Empty(t, Hostname("://bad"))
}
