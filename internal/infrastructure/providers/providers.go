package providers

import (
	"context"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gorm.io/gorm"

	"github.com/partim/atomtools/client"
	"github.com/partim/atomtools/internal/config"
	"github.com/partim/atomtools/internal/infrastructure/database"
	"github.com/partim/atomtools/internal/infrastructure/gateway"
)

// NewDatabase opens a Postgres connection using the configured DSN.
func NewDatabase(conf config.Database) (*gorm.DB, error) {
	return database.NewPostgres(conf.Dsn)
}

// MigrateDatabase applies migrations for the application models.
func MigrateDatabase(db *gorm.DB) error {
	return database.MigratePostgres(db)
}

// NewRedis creates the redis client backing the post event stream.
func NewRedis(conf config.Redis) *redis.Client {
	return database.NewRedis(conf.Addr, conf.Password, conf.DB)
}

// NewMemcache creates a memcache client, or nil when no server is configured.
func NewMemcache(conf config.Memcached) *memcache.Client {
	if conf.Addr == "" {
		return nil
	}
	return database.NewMemcached(conf.Addr)
}

// NewClient constructs the HTTP client used to talk to other nodes.
func NewClient(conf config.Config) *client.Client {
	return client.New(conf.Sync.RequestTimeout(), conf.Content.LenientSniffing)
}

// NewFeedGateway constructs the peer gateway backed by the HTTP client.
func NewFeedGateway(cl *client.Client) *gateway.FeedGateway {
	return gateway.NewFeedGateway(cl)
}

// SetupTracing installs the OTLP trace pipeline and returns its shutdown
// hook. Spans are batched; the hook flushes what remains.
func SetupTracing(ctx context.Context, conf config.Trace) (func(context.Context) error, error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(conf.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create trace exporter")
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(sdkresource.NewSchemaless(
			attribute.String("service.name", conf.ServiceName),
		)),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}
