package source

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"oras.land/oras-go/v2/registry/remote/credentials"
)

var payload = []byte("\x3a\xa2pretend this is a CAR stream")

func readAll(t *testing.T, location string, opts ...Option) ([]byte, error) {
	t.Helper()
	rc, err := Open(context.Background(), location, opts...)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.car")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	got, err := readAll(t, writeTemp(t, payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()

	_, err := readAll(t, filepath.Join(t.TempDir(), "nope.car"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenCompressedFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		compress func(t *testing.T, data []byte) []byte
	}{
		{
			name: "zstd",
			compress: func(t *testing.T, data []byte) []byte {
				enc, err := zstd.NewWriter(nil)
				require.NoError(t, err)
				defer enc.Close()
				return enc.EncodeAll(data, nil)
			},
		},
		{
			name: "gzip",
			compress: func(t *testing.T, data []byte) []byte {
				var buf bytes.Buffer
				w := gzip.NewWriter(&buf)
				_, err := w.Write(data)
				require.NoError(t, err)
				require.NoError(t, w.Close())
				return buf.Bytes()
			},
		},
		{
			name: "lz4",
			compress: func(t *testing.T, data []byte) []byte {
				var buf bytes.Buffer
				w := lz4.NewWriter(&buf)
				_, err := w.Write(data)
				require.NoError(t, err)
				require.NoError(t, w.Close())
				return buf.Bytes()
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			compressed := tt.compress(t, payload)
			assert.Equal(t, Compression(tt.name), Detect(compressed))

			got, err := readAll(t, writeTemp(t, compressed))
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestDetectPlainArchive(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CompressionNone, Detect(payload))
	assert.Equal(t, CompressionNone, Detect(nil))
	assert.Equal(t, CompressionNone, Detect([]byte{0x28, 0xa2}))
}

func TestOpenStdin(t *testing.T) {
	t.Parallel()

	got, err := readAll(t, Stdin, WithStdin(bytes.NewReader(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestOpenHTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/archive.car" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	got, err := readAll(t, srv.URL+"/archive.car", WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = readAll(t, srv.URL+"/missing.car", WithHTTPClient(srv.Client()))
	require.ErrorIs(t, err, ErrUnexpectedStatus)
}

// fakeRegistry serves one image manifest under test/car:latest with the
// given layers. blobs maps layer digests to the bytes served for them.
func fakeRegistry(t *testing.T, layers []ocispec.Descriptor, blobs map[digest.Digest][]byte) string {
	t.Helper()
	manifest, err := json.Marshal(ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    ocispec.DescriptorEmptyJSON,
		Layers:    layers,
	})
	require.NoError(t, err)
	manifestDigest := digest.FromBytes(manifest)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const repo = "/v2/test/car/"
		switch {
		case r.URL.Path == repo+"manifests/latest" || r.URL.Path == repo+"manifests/"+manifestDigest.String():
			w.Header().Set("Content-Type", ocispec.MediaTypeImageManifest)
			w.Header().Set("Docker-Content-Digest", manifestDigest.String())
			w.Header().Set("Content-Length", strconv.Itoa(len(manifest)))
			if r.Method == http.MethodHead {
				return
			}
			_, _ = w.Write(manifest)
		case strings.HasPrefix(r.URL.Path, repo+"blobs/"):
			data, ok := blobs[digest.Digest(strings.TrimPrefix(r.URL.Path, repo+"blobs/"))]
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			_, _ = w.Write(data)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return OCIScheme + strings.TrimPrefix(srv.URL, "http://") + "/test/car:latest"
}

func layerFor(mediaType string, data []byte) ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(data),
		Size:      int64(len(data)),
	}
}

func registryOpts() []Option {
	return []Option{WithPlainHTTP(true), WithCredentialStore(credentials.NewMemoryStore())}
}

func TestOpenOCI(t *testing.T) {
	t.Parallel()

	other := []byte("readme")
	layers := []ocispec.Descriptor{
		layerFor("text/plain", other),
		layerFor(MediaTypeCAR, payload),
	}
	ref := fakeRegistry(t, layers, map[digest.Digest][]byte{
		layers[0].Digest: other,
		layers[1].Digest: payload,
	})

	got, err := readAll(t, ref, registryOpts()...)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestOpenOCITamperedLayer(t *testing.T) {
	t.Parallel()

	layer := layerFor(MediaTypeCAR, payload)
	tampered := bytes.Clone(payload)
	tampered[len(tampered)-1] ^= 0xff
	ref := fakeRegistry(t, []ocispec.Descriptor{layer}, map[digest.Digest][]byte{
		layer.Digest: tampered,
	})

	_, err := readAll(t, ref, registryOpts()...)
	require.ErrorIs(t, err, ErrDigestMismatch)
}

func TestOpenOCINoArchiveLayer(t *testing.T) {
	t.Parallel()

	a, b := []byte("a"), []byte("b")
	ref := fakeRegistry(t, []ocispec.Descriptor{
		layerFor("text/plain", a),
		layerFor("text/plain", b),
	}, nil)

	_, err := readAll(t, ref, registryOpts()...)
	require.ErrorIs(t, err, ErrNoArchiveLayer)
}

func TestArchiveLayerFallsBackToSingleLayer(t *testing.T) {
	t.Parallel()

	only := layerFor("application/octet-stream", payload)
	got, err := archiveLayer([]ocispec.Descriptor{only})
	require.NoError(t, err)
	assert.Equal(t, only, got)

	_, err = archiveLayer(nil)
	require.ErrorIs(t, err, ErrNoArchiveLayer)
}
