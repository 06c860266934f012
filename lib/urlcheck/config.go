package urlcheck

import "time"

// Config defines Validator configuration.
type Config struct {
	// AllowedPatterns is the set of regexes which vetted URLs must match.
	// Each pattern must be anchored with '^' and end with '/'.
	AllowedPatterns []string `yaml:"allowed_patterns"`

	// RedirectLimit bounds how many hops a redirect chain may contain. Note
	// that the initial request counts as a hop, so a limit of zero rejects
	// every URL.
	RedirectLimit int `yaml:"redirect_limit"`

	// EnsureTLS rejects any URL in the chain whose scheme is not https.
	EnsureTLS bool `yaml:"ensure_tls"`

	// HeadTimeout bounds each individual HEAD request.
	HeadTimeout time.Duration `yaml:"head_timeout"`
}

func (c Config) applyDefaults() Config {
	if c.HeadTimeout == 0 {
		c.HeadTimeout = 60 * time.Second
	}
	return c
}
