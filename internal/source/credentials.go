package source

import (
	"context"
	"errors"
	"strings"

	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
)

// DockerCredentials returns a store backed by the Docker config
// (~/.docker/config.json) and its credential helpers. Docker Hub lookups
// also try the hub's alternate hostnames.
func DockerCredentials() (credentials.Store, error) {
	store, err := credentials.NewStoreFromDocker(credentials.StoreOptions{})
	if err != nil {
		return nil, err
	}
	return &hubFallbackStore{store: store}, nil
}

// StaticCredentials returns a read-only store holding one username and
// password (or, with an empty username, a bearer token) for registry.
func StaticCredentials(registry, username, secret string) credentials.Store {
	cred := auth.Credential{Username: username, Password: secret}
	if username == "" {
		cred = auth.Credential{AccessToken: secret}
	}
	return &staticStore{registry: hostPort(registry), cred: cred}
}

type staticStore struct {
	registry string
	cred     auth.Credential
}

func (s *staticStore) Get(_ context.Context, serverAddress string) (auth.Credential, error) {
	server := hostPort(serverAddress)
	if server == s.registry || (isDockerHub(server) && isDockerHub(s.registry)) {
		return s.cred, nil
	}
	return auth.EmptyCredential, nil
}

func (s *staticStore) Put(context.Context, string, auth.Credential) error {
	return errors.New("source: static credential store is read-only")
}

func (s *staticStore) Delete(context.Context, string) error {
	return errors.New("source: static credential store is read-only")
}

// hubFallbackStore retries Docker Hub lookups under the hub's other names.
type hubFallbackStore struct {
	store credentials.Store
}

func (s *hubFallbackStore) Get(ctx context.Context, serverAddress string) (auth.Credential, error) {
	cred, err := s.store.Get(ctx, serverAddress)
	if err == nil && !isEmpty(cred) {
		return cred, nil
	}
	if isDockerHub(hostPort(serverAddress)) {
		for _, alt := range []string{"https://index.docker.io/v1/", "index.docker.io", "registry-1.docker.io", "docker.io"} {
			if alt == serverAddress {
				continue
			}
			if c, aerr := s.store.Get(ctx, alt); aerr == nil && !isEmpty(c) {
				return c, nil
			}
		}
	}
	return cred, err
}

func (s *hubFallbackStore) Put(ctx context.Context, serverAddress string, cred auth.Credential) error {
	return s.store.Put(ctx, serverAddress, cred)
}

func (s *hubFallbackStore) Delete(ctx context.Context, serverAddress string) error {
	return s.store.Delete(ctx, serverAddress)
}

func isDockerHub(hostport string) bool {
	host := hostport
	if !strings.HasPrefix(host, "[") {
		if i := strings.LastIndex(host, ":"); i != -1 {
			host = host[:i]
		}
	}
	switch host {
	case "docker.io", "registry-1.docker.io", "index.docker.io":
		return true
	default:
		return false
	}
}

// hostPort strips the scheme and path from a server address.
func hostPort(addr string) string {
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	addr, _, _ = strings.Cut(addr, "/")
	return addr
}

func isEmpty(cred auth.Credential) bool {
	return cred.Username == "" && cred.Password == "" && cred.AccessToken == "" && cred.RefreshToken == ""
}
