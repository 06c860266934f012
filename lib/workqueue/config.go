package workqueue

import "time"

// Config defines queue configuration for one region.
type Config struct {
	// Name is the primary queue name. The dead-letter queue is named
	// Name + DeadLetterSuffix.
	Name             string `yaml:"name"`
	DeadLetterSuffix string `yaml:"dead_letter_suffix"`

	// MaxReceiveCount is the redelivery cap before a message dead-letters.
	MaxReceiveCount int `yaml:"max_receive_count"`

	// BatchSize is how many messages a single receive may return. SQS caps
	// this at 10.
	BatchSize int64 `yaml:"batch_size"`

	// WaitTime is the long-poll duration of an empty receive.
	WaitTime time.Duration `yaml:"wait_time"`

	// VisibilityTimeout is how long a received message stays invisible
	// before the queue redelivers it.
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`

	// Endpoint overrides the sqs endpoint, for testing against fakes.
	Endpoint   string `yaml:"endpoint"`
	DisableSSL bool   `yaml:"disable_ssl"`
}

func (c Config) applyDefaults() Config {
	if c.DeadLetterSuffix == "" {
		c.DeadLetterSuffix = "_dead"
	}
	if c.MaxReceiveCount == 0 {
		c.MaxReceiveCount = 5
	}
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	if c.WaitTime == 0 {
		c.WaitTime = 20 * time.Second
	}
	if c.VisibilityTimeout == 0 {
		c.VisibilityTimeout = 10 * time.Minute
	}
	return c
}

// AuthConfig defines sqs credentials.
type AuthConfig struct {
	SQS struct {
		AccessKeyID     string `yaml:"access_key_id"`
		AccessSecretKey string `yaml:"access_secret_key"`
		SessionToken    string `yaml:"session_token"`
	} `yaml:"sqs"`
}
