package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	refPrefix           = "secret://"
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/gamevault/api/internal/platform/secrets"
)

// ErrSecretNotFound is returned when neither Secret Manager nor the fallback file has the secret.
var ErrSecretNotFound = errors.New("secrets: secret not found")

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references against Google Secret Manager. Values are cached for the
// process lifetime. In local environments a dotenv style fallback file is consulted when Secret
// Manager is unreachable or the secret does not exist.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	projectID  string
	logger     *zap.Logger

	allowFallback bool
	fallbackPath  string
	fallbackOnce  sync.Once
	fallback      map[string]string

	mu    sync.RWMutex
	cache map[string]string

	lookups metric.Int64Counter
}

type fetcherConfig struct {
	client        secretManagerClient
	clientOpts    []option.ClientOption
	projectID     string
	logger        *zap.Logger
	allowFallback bool
	fallbackPath  string
}

// Option customises NewFetcher.
type Option func(*fetcherConfig)

// WithProject sets the project used for short references.
func WithProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.projectID = strings.TrimSpace(projectID) }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) { cfg.logger = logger }
}

// WithLocalFallback enables the fallback file. An empty path keeps the default.
func WithLocalFallback(path string) Option {
	return func(cfg *fetcherConfig) {
		cfg.allowFallback = true
		if path = strings.TrimSpace(path); path != "" {
			cfg.fallbackPath = path
		}
	}
}

// WithSecretManagerClient injects a client, mainly for tests.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

// WithClientOptions forwards options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher, dialing Secret Manager unless a client is injected.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{fallbackPath: defaultFallbackPath}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	f := &Fetcher{
		client:        cfg.client,
		projectID:     cfg.projectID,
		logger:        cfg.logger,
		allowFallback: cfg.allowFallback,
		fallbackPath:  cfg.fallbackPath,
		cache:         make(map[string]string),
	}
	if f.client == nil {
		client, err := secretmanager.NewClient(ctx, cfg.clientOpts...)
		if err != nil {
			if !cfg.allowFallback {
				return nil, fmt.Errorf("secrets: create secret manager client: %w", err)
			}
			f.logger.Warn("secret manager unavailable, using local fallback only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}

	counter, err := otel.Meter(meterName).Int64Counter("secrets.lookups",
		metric.WithDescription("Secret lookups by source"))
	if err == nil {
		f.lookups = counter
	}
	return f, nil
}

// Close releases the Secret Manager client if the fetcher created it.
func (f *Fetcher) Close() error {
	if f == nil || !f.ownsClient || f.client == nil {
		return nil
	}
	return f.client.Close()
}

// ResolveSecret implements config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	resource, err := f.resourceName(ref)
	if err != nil {
		return "", err
	}

	f.mu.RLock()
	value, ok := f.cache[resource]
	f.mu.RUnlock()
	if ok {
		f.count(ctx, "cache")
		return value, nil
	}

	value, err = f.fetchRemote(ctx, resource)
	source := "secret_manager"
	if err != nil {
		fallback, found := f.lookupFallback(resource)
		if !found {
			return "", err
		}
		f.logger.Warn("secret resolved from local fallback", zap.String("ref", mask(ref)), zap.Error(err))
		value, source = fallback, "fallback"
	}

	f.mu.Lock()
	f.cache[resource] = value
	f.mu.Unlock()
	f.count(ctx, source)
	return value, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, resource string) (string, error) {
	if f.client == nil {
		return "", fmt.Errorf("%w: %s (secret manager not configured)", ErrSecretNotFound, resource)
	}
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, resource)
		}
		return "", fmt.Errorf("secrets: access %s: %w", resource, err)
	}
	return strings.TrimSpace(string(resp.GetPayload().GetData())), nil
}

// resourceName accepts secret://name, secret://name@version and
// secret://projects/p/secrets/name/versions/v. Slashes in short names become underscores.
func (f *Fetcher) resourceName(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "sm://") {
		ref = refPrefix + strings.TrimPrefix(ref, "sm://")
	}
	body, ok := strings.CutPrefix(ref, refPrefix)
	if !ok || body == "" {
		return "", fmt.Errorf("secrets: invalid reference %q", mask(ref))
	}
	if strings.HasPrefix(body, "projects/") {
		if strings.Count(body, "/") != 5 {
			return "", fmt.Errorf("secrets: invalid resource reference %q", mask(ref))
		}
		return body, nil
	}
	if f.projectID == "" {
		return "", fmt.Errorf("secrets: project id required for %q", mask(ref))
	}
	name, version, found := strings.Cut(body, "@")
	if !found || version == "" {
		version = "latest"
	}
	name = strings.ReplaceAll(name, "/", "_")
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", f.projectID, name, version), nil
}

// lookupFallback reads KEY=value lines where KEY is the upper-cased secret name,
// e.g. STRIPE_API for secret://stripe/api.
func (f *Fetcher) lookupFallback(resource string) (string, bool) {
	if !f.allowFallback {
		return "", false
	}
	f.fallbackOnce.Do(func() {
		values, err := godotenv.Read(f.fallbackPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("read secrets fallback file", zap.String("path", f.fallbackPath), zap.Error(err))
		}
		f.fallback = values
	})
	parts := strings.Split(resource, "/")
	if len(parts) < 4 {
		return "", false
	}
	key := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(parts[3]))
	value, ok := f.fallback[key]
	return value, ok
}

func (f *Fetcher) count(ctx context.Context, source string) {
	if f.lookups != nil {
		f.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
	}
}

func mask(ref string) string {
	if len(ref) <= 12 {
		return ref
	}
	return ref[:12] + "..."
}
