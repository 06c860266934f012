package blobstore

import (
	"time"

	"github.com/c2h5oh/datasize"
)

// Config defines s3 connection parameters.
type Config struct {
	Region string `yaml:"region"`
	Bucket string `yaml:"bucket"`

	// ACL applies to the bucket and every uploaded object. Objects must be
	// publicly readable for redirects to work.
	ACL string `yaml:"acl"`

	// LifespanDays configures the bucket lifecycle policy which expires
	// objects. Incomplete multipart uploads are always aborted after a day.
	LifespanDays int64 `yaml:"lifespan_days"`

	// UploadPartSize is the part size the s3 upload manager uses for
	// multipart uploads.
	UploadPartSize datasize.ByteSize `yaml:"upload_part_size"`

	// UploadConcurrency is the number of parts uploaded in parallel, which
	// also bounds the upload queue depth.
	UploadConcurrency int `yaml:"upload_concurrency"`

	// UploadTimeout is the hard watchdog on a single upload's wall-clock
	// time. An upload exceeding it is aborted.
	UploadTimeout time.Duration `yaml:"upload_timeout"`

	// PublicEndpoint overrides the computed public address, for
	// s3-compatible stores served from elsewhere.
	PublicEndpoint string `yaml:"public_endpoint"`

	// Endpoint overrides the s3 endpoint, for testing against fakes.
	Endpoint         string `yaml:"endpoint"`
	DisableSSL       bool   `yaml:"disable_ssl"`
	S3ForcePathStyle bool   `yaml:"s3_force_path_style"`
}

func (c Config) applyDefaults() Config {
	if c.ACL == "" {
		c.ACL = "public-read"
	}
	if c.LifespanDays == 0 {
		c.LifespanDays = 30
	}
	if c.UploadPartSize == 0 {
		c.UploadPartSize = 32 * datasize.MB
	}
	if c.UploadConcurrency == 0 {
		c.UploadConcurrency = 10
	}
	if c.UploadTimeout == 0 {
		c.UploadTimeout = 5 * time.Hour
	}
	return c
}

// AuthConfig defines s3 credentials.
type AuthConfig struct {
	S3 struct {
		AccessKeyID     string `yaml:"access_key_id"`
		AccessSecretKey string `yaml:"access_secret_key"`
		SessionToken    string `yaml:"session_token"`
	} `yaml:"s3"`
}
