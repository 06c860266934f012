package urlcheck

import "fmt"

// InsecureURLError occurs when TLS enforcement is on and a URL in the chain
// is not https.
type InsecureURLError struct {
	URL string
}

func (e InsecureURLError) Error() string {
	return fmt.Sprintf("insecure url %s: https required", e.URL)
}

// DisallowedURLError occurs when a URL in the chain matches no allowed pattern.
type DisallowedURLError struct {
	URL string
}

func (e DisallowedURLError) Error() string {
	return fmt.Sprintf("url %s not in allowed patterns", e.URL)
}

// BadHTTPStatusError occurs when the origin responds with a status which is
// neither success nor redirect.
type BadHTTPStatusError struct {
	URL    string
	Status int
}

func (e BadHTTPStatusError) Error() string {
	return fmt.Sprintf("url %s returned bad status %d", e.URL, e.Status)
}

// TooManyRedirectsError occurs when the redirect chain exceeds the configured
// limit.
type TooManyRedirectsError struct {
	URL   string
	Limit int
}

func (e TooManyRedirectsError) Error() string {
	return fmt.Sprintf("url %s exceeded redirect limit %d", e.URL, e.Limit)
}

// MissingLocationError occurs when a redirect response carries no Location
// header.
type MissingLocationError struct {
	URL string
}

func (e MissingLocationError) Error() string {
	return fmt.Sprintf("url %s redirected without location header", e.URL)
}

// IsPolicyError returns true if err is a policy rejection (allowlist or TLS),
// as opposed to an origin-side failure.
func IsPolicyError(err error) bool {
	switch err.(type) {
	case InsecureURLError, DisallowedURLError:
		return true
	}
	return false
}

// IsValidationError returns true for any error type produced by Validate.
// Useful for distinguishing permanent rejections from transient network
// failures.
func IsValidationError(err error) bool {
	switch err.(type) {
	case InsecureURLError, DisallowedURLError, BadHTTPStatusError,
		TooManyRedirectsError, MissingLocationError:
		return true
	}
	return false
}
