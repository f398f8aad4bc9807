package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hupe1980/huevec"
	"github.com/hupe1980/huevec/blobstore"
	minioblob "github.com/hupe1980/huevec/blobstore/minio"
	s3blob "github.com/hupe1980/huevec/blobstore/s3"
	"github.com/hupe1980/huevec/config"
	"github.com/hupe1980/huevec/vectorstore"
)

// newLogger builds the pipeline logger from the logging config.
func newLogger() *huevec.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if strings.EqualFold(cfg.Logging.Format, "json") {
		return huevec.NewJSONLogger(level)
	}
	return huevec.NewTextLogger(level)
}

// tableFilePath resolves the color table location from config, falling
// back to the state directory.
func tableFilePath() string {
	if cfg.TablePath != "" {
		return cfg.TablePath
	}
	return config.TableArtifactPath(rootDir)
}

// openStore opens the configured vector store backend.
func openStore(ctx context.Context) (vectorstore.Store, error) {
	switch cfg.Store.Backend {
	case "", "bolt":
		path := cfg.Store.Path
		if path == "" {
			if err := config.EnsureStateDir(rootDir); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
			path = config.StoreDBPath(rootDir)
		}
		return vectorstore.NewBoltStore(path)

	case "memory":
		return vectorstore.NewMemoryStore(), nil

	case "postgres":
		dsn := os.Getenv(cfg.Store.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("postgres store selected but %s is not set", cfg.Store.DSNEnv)
		}
		return vectorstore.NewPostgresStore(ctx, dsn)

	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

// openPipeline opens the processing pipeline on the configured store.
// The caller closes the pipeline first, then the store.
func openPipeline(ctx context.Context) (*huevec.Pipeline, vectorstore.Store, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	opts := []huevec.Option{
		huevec.WithStore(st),
		huevec.WithRevision(cfg.Revision),
		huevec.WithTablePath(tableFilePath()),
		huevec.WithMoments(cfg.Pipeline.Moments),
		huevec.WithAllLevels(cfg.Pipeline.AllLevels),
		huevec.WithStemming(cfg.Pipeline.Stemming),
		huevec.WithLogger(newLogger()),
	}
	if cfg.Pipeline.Bins > 0 {
		opts = append(opts, huevec.WithBins(cfg.Pipeline.Bins))
	}
	if cfg.Pipeline.Levels > 0 {
		opts = append(opts, huevec.WithLevels(cfg.Pipeline.Levels))
	}
	if cfg.Pipeline.Workers > 0 {
		opts = append(opts, huevec.WithWorkers(cfg.Pipeline.Workers))
	}
	if cfg.Pipeline.TransformPath != "" {
		opts = append(opts, huevec.WithTransformPath(cfg.Pipeline.TransformPath))
	}

	p, err := huevec.New(opts...)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return p, st, nil
}

// openBlobStore builds the configured blob backend for push and pull.
// The registry is non-nil only for S3 with a registry table configured.
func openBlobStore(ctx context.Context) (blobstore.BlobStore, blobstore.RevisionRegistry, error) {
	switch cfg.Blob.Backend {
	case "", "local":
		path := cfg.Blob.Path
		if path == "" {
			path = filepath.Join(rootDir, ".huevec", "blobs")
		}
		bs, err := blobstore.NewLocalStore(path)
		if err != nil {
			return nil, nil, err
		}
		return bs, nil, nil

	case "s3":
		if cfg.Blob.Bucket == "" {
			return nil, nil, fmt.Errorf("s3 blob backend requires a bucket")
		}
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.Blob.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Blob.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		bs := s3blob.NewStore(awss3.NewFromConfig(awsCfg), cfg.Blob.Bucket, func(o *s3blob.Options) {
			o.Prefix = cfg.Blob.Prefix
		})
		var registry blobstore.RevisionRegistry
		if cfg.Blob.RegistryTable != "" {
			dataset := cfg.Blob.Prefix
			if dataset == "" {
				dataset = cfg.Blob.Bucket
			}
			registry = s3blob.NewRegistry(dynamodb.NewFromConfig(awsCfg), cfg.Blob.RegistryTable, dataset)
		}
		return bs, registry, nil

	case "minio":
		if cfg.Blob.Endpoint == "" || cfg.Blob.Bucket == "" {
			return nil, nil, fmt.Errorf("minio blob backend requires an endpoint and a bucket")
		}
		accessKey := os.Getenv(cfg.Blob.AccessKeyEnv)
		secretKey := os.Getenv(cfg.Blob.SecretKeyEnv)
		if accessKey == "" || secretKey == "" {
			return nil, nil, fmt.Errorf("minio credentials missing: set %s and %s", cfg.Blob.AccessKeyEnv, cfg.Blob.SecretKeyEnv)
		}
		bs, err := minioblob.Connect(cfg.Blob.Endpoint, accessKey, secretKey, cfg.Blob.Bucket, cfg.Blob.Secure, func(o *minioblob.Options) {
			o.Prefix = cfg.Blob.Prefix
		})
		if err != nil {
			return nil, nil, err
		}
		return bs, nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported blob backend: %s", cfg.Blob.Backend)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}

// formatBytes formats a byte count in a human-readable way.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
