package archive

import (
	"context"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config selects and parameterizes an archive backend from the environment.
type Config struct {
	Driver     string `env:"TAXLEDGER_ARCHIVE_DRIVER" envDefault:"fs"`
	FSRoot     string `env:"TAXLEDGER_ARCHIVE_FS_ROOT" envDefault:"./archivedata"`
	S3Bucket   string `env:"TAXLEDGER_ARCHIVE_S3_BUCKET"`
	S3Region   string `env:"TAXLEDGER_ARCHIVE_S3_REGION"`
	S3Endpoint string `env:"TAXLEDGER_ARCHIVE_S3_ENDPOINT"`
	PathStyle  bool   `env:"TAXLEDGER_ARCHIVE_S3_PATH_STYLE"`
}

// Open selects a Store implementation from environment configuration.
func Open(ctx context.Context) (Store, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}
	return OpenWith(ctx, cfg)
}

// OpenWith selects a Store implementation from an explicit configuration.
func OpenWith(ctx context.Context, cfg Config) (Store, error) {
	switch Driver(cfg.Driver) {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("TAXLEDGER_ARCHIVE_S3_BUCKET required for s3 driver")
		}
		return NewS3(ctx, S3Config{Region: cfg.S3Region, Bucket: cfg.S3Bucket, Endpoint: cfg.S3Endpoint, PathStyle: cfg.PathStyle})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown archive driver %s", cfg.Driver)
	}
}
