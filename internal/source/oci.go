package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
	"oras.land/oras-go/v2/registry/remote/retry"
)

// MediaTypeCAR is the layer media type of a CAR archive.
const MediaTypeCAR = "application/vnd.ipld.car"

// repository builds a Repository for ref with the opener's auth settings.
func (o *opener) repository(ref string) (*remote.Repository, error) {
	repo, err := remote.NewRepository(ref)
	if err != nil {
		return nil, fmt.Errorf("parse reference %q: %w", ref, err)
	}
	store := o.credStore
	if o.static != nil {
		store = StaticCredentials(repo.Reference.Registry, o.static.Username, o.static.Password)
	}
	if store == nil {
		store, err = DockerCredentials()
		if err != nil {
			o.log().Debug("docker credentials unavailable", "error", err)
			store = credentials.NewMemoryStore()
		}
	}
	repo.PlainHTTP = o.plainHTTP
	repo.Client = &auth.Client{
		Client:     retry.DefaultClient,
		Cache:      auth.NewCache(),
		Credential: credentials.Credential(store),
	}
	return repo, nil
}

// openOCI resolves ref to an image manifest and streams its CAR layer.
func (o *opener) openOCI(ctx context.Context, ref string) (io.ReadCloser, error) {
	repo, err := o.repository(ref)
	if err != nil {
		return nil, err
	}
	tag := repo.Reference.Reference
	if tag == "" {
		return nil, fmt.Errorf("reference %q: missing tag or digest", ref)
	}

	desc, err := repo.Resolve(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ref, err)
	}
	if desc.MediaType != ocispec.MediaTypeImageManifest {
		return nil, fmt.Errorf("resolve %s: unsupported media type %s", ref, desc.MediaType)
	}
	raw, err := content.FetchAll(ctx, repo, desc)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest %s: %w", desc.Digest, err)
	}
	var manifest ocispec.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", desc.Digest, err)
	}

	layer, err := archiveLayer(manifest.Layers)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	if err := layer.Digest.Validate(); err != nil {
		return nil, fmt.Errorf("layer digest: %w", err)
	}
	rc, err := repo.Fetch(ctx, layer)
	if err != nil {
		return nil, fmt.Errorf("fetch layer %s: %w", layer.Digest, err)
	}
	o.log().Debug("streaming registry layer", "ref", ref, "digest", layer.Digest, "size", layer.Size)
	return newVerifiedReader(rc, layer), nil
}

// archiveLayer picks the CAR layer, or the only layer of a single-layer
// manifest.
func archiveLayer(layers []ocispec.Descriptor) (ocispec.Descriptor, error) {
	for _, l := range layers {
		if l.MediaType == MediaTypeCAR {
			return l, nil
		}
	}
	if len(layers) == 1 {
		return layers[0], nil
	}
	return ocispec.Descriptor{}, fmt.Errorf("%w: %d layers", ErrNoArchiveLayer, len(layers))
}

// verifiedReader checks the layer digest and size when the stream ends.
type verifiedReader struct {
	rc       io.ReadCloser
	r        io.Reader
	verifier digest.Verifier
	want     ocispec.Descriptor
	n        int64
}

func newVerifiedReader(rc io.ReadCloser, desc ocispec.Descriptor) *verifiedReader {
	v := desc.Digest.Verifier()
	return &verifiedReader{
		rc:       rc,
		r:        io.TeeReader(io.LimitReader(rc, desc.Size+1), v),
		verifier: v,
		want:     desc,
	}
}

func (v *verifiedReader) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	v.n += int64(n)
	if v.n > v.want.Size {
		return n, fmt.Errorf("%w: layer exceeds %d bytes", ErrDigestMismatch, v.want.Size)
	}
	if errors.Is(err, io.EOF) {
		if v.n != v.want.Size {
			return n, fmt.Errorf("%w: layer is %d bytes, want %d", ErrDigestMismatch, v.n, v.want.Size)
		}
		if !v.verifier.Verified() {
			return n, fmt.Errorf("%w: layer %s", ErrDigestMismatch, v.want.Digest)
		}
	}
	return n, err
}

func (v *verifiedReader) Close() error {
	return v.rc.Close()
}
