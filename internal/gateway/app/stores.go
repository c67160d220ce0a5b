package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	artifactcache "skeletoncache/internal/cache/artifact"
	"skeletoncache/internal/gateway/config"
	artifactrepo "skeletoncache/internal/gateway/repository/artifact"
)

// openOrigin connects the configured object store backend. The returned
// closer is nil for backends without connections.
func openOrigin(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (artifactrepo.Store, func() error, error) {
	sc := cfg.Store
	switch sc.Backend {
	case config.BackendMinio:
		s3Store, err := artifactrepo.NewS3Store(artifactrepo.S3Config{
			Endpoint:  sc.S3.Endpoint,
			Region:    sc.S3.Region,
			AccessKey: sc.S3.AccessKey,
			SecretKey: sc.S3.SecretKey,
			Bucket:    sc.S3.Bucket,
			UseSSL:    sc.S3.UseSSL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize minio store: %w", err)
		}
		log.WithFields(logrus.Fields{"bucket": sc.S3.Bucket, "endpoint": sc.S3.Endpoint}).Info("artifact store: minio")
		return s3Store, nil, nil
	case config.BackendS3:
		awsStore, err := artifactrepo.NewAWSStore(ctx, sc.S3.Region, sc.S3.Bucket)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize s3 store: %w", err)
		}
		log.WithFields(logrus.Fields{"bucket": sc.S3.Bucket, "region": sc.S3.Region}).Info("artifact store: aws s3")
		return awsStore, nil, nil
	case config.BackendPostgres:
		pg, err := artifactrepo.OpenPostgresStore(sc.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		log.Info("artifact store: postgres")
		return pg, pg.Close, nil
	case config.BackendDisk:
		log.WithField("root", sc.DiskRoot).Info("artifact store: disk")
		return artifactrepo.NewDiskStore(sc.DiskRoot), nil, nil
	case config.BackendMemory:
		log.Warn("artifact store: in-memory, artifacts are lost on restart")
		return artifactrepo.NewMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown object store backend %q", sc.Backend)
	}
}

// wrapStore applies the key prefix and the instrumented blob cache.
func wrapStore(origin artifactrepo.Store, sc config.StoreConfig) *artifactcache.CachedStore {
	cacheCfg := artifactcache.DefaultCacheConfig()
	cacheCfg.BlobMaxEntries = sc.CacheEntries
	if sc.CacheTTL > 0 {
		cacheCfg.BlobTTL = sc.CacheTTL
	}
	return artifactcache.NewCachedStore(artifactrepo.WithPrefix(origin, sc.Prefix), cacheCfg)
}
