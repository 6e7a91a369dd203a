// Package secrets resolves secret:// configuration references through Google Secret Manager,
// falling back to a local dotenv file for development.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/NagabhushanAdiga/shop-e/internal/platform/config"
)

const defaultFallbackPath = ".secrets.local"

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver implements config.SecretResolver with a per-process cache.
type Resolver struct {
	client     secretManagerClient
	ownsClient bool
	projectID  string
	logger     *zap.Logger

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.Mutex
	cache map[string]string
}

var _ config.SecretResolver = (*Resolver)(nil)

// Option customises Resolver construction.
type Option func(*Resolver)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithFallbackFile overrides the dotenv file consulted when Secret Manager cannot be reached.
// An empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(r *Resolver) { r.fallbackPath = strings.TrimSpace(path) }
}

func withClient(client secretManagerClient) Option {
	return func(r *Resolver) { r.client = client }
}

// NewResolver builds a resolver for secrets stored in projectID. A Secret Manager client that
// cannot be created leaves the resolver in fallback-only mode.
func NewResolver(ctx context.Context, projectID string, opts ...Option) *Resolver {
	r := &Resolver{
		projectID:    strings.TrimSpace(projectID),
		logger:       zap.NewNop(),
		fallbackPath: defaultFallbackPath,
		cache:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil && r.projectID != "" {
		client, err := secretmanager.NewClient(ctx)
		if err != nil {
			r.logger.Warn("secrets: secret manager unavailable, using local fallback", zap.Error(err))
		} else {
			r.client = client
			r.ownsClient = true
		}
	}
	return r
}

// Close releases the Secret Manager client when the resolver created it.
func (r *Resolver) Close() error {
	if r.ownsClient && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ResolveSecret accepts secret://NAME with optional ?version= and ?project= query parameters.
// Slashes in NAME map to underscores, so secret://stripe/api reads the "stripe_api" secret.
func (r *Resolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	name, version, project, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	if project == "" {
		project = r.projectID
	}
	key := project + "/" + name + "@" + version

	r.mu.Lock()
	value, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return value, nil
	}

	if r.client != nil && project != "" {
		resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)
		resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
		switch {
		case err == nil && resp.GetPayload() != nil:
			value = string(resp.GetPayload().GetData())
			r.store(key, value)
			return value, nil
		case err == nil:
			return "", fmt.Errorf("secrets: empty payload for %s", resource)
		case !fallbackAllowed(err):
			return "", fmt.Errorf("secrets: access %s: %w", resource, err)
		}
		r.logger.Debug("secrets: falling back to local file", zap.String("secret", name), zap.Error(err))
	}

	value, ok = r.lookupFallback(name)
	if !ok {
		return "", fmt.Errorf("secrets: %s not found in secret manager or %s", name, r.fallbackPath)
	}
	r.store(key, value)
	return value, nil
}

func (r *Resolver) store(key, value string) {
	r.mu.Lock()
	r.cache[key] = value
	r.mu.Unlock()
}

// lookupFallback reads the dotenv file once; keys are the upper-cased secret names.
func (r *Resolver) lookupFallback(name string) (string, bool) {
	r.fallbackOnce.Do(func() {
		if r.fallbackPath == "" {
			return
		}
		values, err := godotenv.Read(r.fallbackPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn("secrets: unreadable fallback file", zap.String("path", r.fallbackPath), zap.Error(err))
			}
			return
		}
		r.fallback = values
	})
	value, ok := r.fallback[strings.ToUpper(name)]
	return value, ok
}

func parseReference(ref string) (name, version, project string, err error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", "", "", fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" && u.Scheme != "sm" {
		return "", "", "", fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name = strings.ReplaceAll(strings.Trim(u.Host+u.Path, "/"), "/", "_")
	if name == "" {
		return "", "", "", fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	version = strings.TrimSpace(u.Query().Get("version"))
	if version == "" {
		version = "latest"
	}
	return name, version, strings.TrimSpace(u.Query().Get("project")), nil
}

func fallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
