// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package blobstore implements the regional object store which holds mirrored
// copies. Objects are keyed by the raw upstream url and served to clients
// through a deterministic public url. Lifetime is governed entirely by the
// bucket lifecycle policy; per-object cache headers are never forwarded.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/uber/cloud-mirror/utils/log"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// ErrBlobNotFound occurs when a blob is not found by Head.
var ErrBlobNotFound = errors.New("blob not found")

// _metadataPrefix namespaces every metadata key written by cloud-mirror.
const _metadataPrefix = "cloud-mirror-"

// _passthroughHeaders are the only upstream headers forwarded to the store,
// Content-Type aside. Cache-Control and Expires are deliberately absent: the
// bucket lifecycle policy is the single authority on object lifetime.
var _passthroughHeaders = []string{
	"Content-Disposition",
	"Content-Encoding",
	"Content-MD5",
}

var _expiryDateRe = regexp.MustCompile(`expiry-date="([^"]+)"`)

// ObjectInfo describes a stored blob.
type ObjectInfo struct {
	Size       int64
	ETag       string
	Expiration string
}

// Client wraps one regional bucket.
type Client struct {
	config Config
	s3     S3
}

// Option allows setting optional Client parameters.
type Option func(*Client)

// WithS3 configures a Client with a custom S3 implementation.
func WithS3(s3 S3) Option {
	return func(c *Client) { c.s3 = s3 }
}

// NewClient creates a new Client for one regional bucket.
func NewClient(config Config, auth AuthConfig, opts ...Option) (*Client, error) {
	config = config.applyDefaults()
	if config.Region == "" {
		return nil, errors.New("invalid config: region required")
	}
	if config.Bucket == "" {
		return nil, errors.New("invalid config: bucket required")
	}

	creds := credentials.NewStaticCredentials(
		auth.S3.AccessKeyID, auth.S3.AccessSecretKey, auth.S3.SessionToken)

	awsConfig := aws.NewConfig().WithRegion(config.Region).WithCredentials(creds)
	if config.Endpoint != "" {
		awsConfig = awsConfig.WithEndpoint(config.Endpoint)
	}
	if config.DisableSSL {
		awsConfig = awsConfig.WithDisableSSL(config.DisableSSL)
	}
	if config.S3ForcePathStyle {
		awsConfig = awsConfig.WithS3ForcePathStyle(config.S3ForcePathStyle)
	}

	api := s3.New(session.New(), awsConfig)

	uploader := s3manager.NewUploaderWithClient(api, func(u *s3manager.Uploader) {
		u.PartSize = int64(config.UploadPartSize)
		u.Concurrency = config.UploadConcurrency
	})

	client := &Client{config, join{api, uploader}}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// EnsureBucket creates the bucket if needed and installs the lifecycle policy
// which expires objects and cleans up aborted multipart uploads. Safe to call
// on every startup.
func (c *Client) EnsureBucket() error {
	input := &s3.CreateBucketInput{
		Bucket: aws.String(c.config.Bucket),
		ACL:    aws.String(c.config.ACL),
	}
	// us-east-1 is the implied default and must not be named explicitly.
	if c.config.Region != "us-east-1" {
		input.CreateBucketConfiguration = &s3.CreateBucketConfiguration{
			LocationConstraint: aws.String(c.config.Region),
		}
	}
	if _, err := c.s3.CreateBucket(input); err != nil {
		if !isBucketExists(err) {
			return fmt.Errorf("create bucket: %s", err)
		}
		log.Debugf("Bucket %s already exists", c.config.Bucket)
	}

	_, err := c.s3.PutBucketLifecycleConfiguration(&s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(c.config.Bucket),
		LifecycleConfiguration: &s3.BucketLifecycleConfiguration{
			Rules: []*s3.LifecycleRule{{
				ID:     aws.String("cloud-mirror-expiry"),
				Status: aws.String("Enabled"),
				Filter: &s3.LifecycleRuleFilter{Prefix: aws.String("")},
				Expiration: &s3.LifecycleExpiration{
					Days: aws.Int64(c.config.LifespanDays),
				},
				AbortIncompleteMultipartUpload: &s3.AbortIncompleteMultipartUpload{
					DaysAfterInitiation: aws.Int64(1),
				},
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("put bucket lifecycle: %s", err)
	}
	return nil
}

// Upload streams src into the bucket under name as a chunked multipart
// upload. The upload is aborted if ctx is cancelled or the configured
// watchdog fires; abandoned parts are reaped by the lifecycle policy.
func (c *Client) Upload(
	ctx context.Context,
	name string,
	src io.Reader,
	header http.Header,
	metadata map[string]string) error {

	contentType := header.Get("Content-Type")
	if contentType == "" {
		return errors.New("upload header missing Content-Type")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.UploadTimeout)
	defer cancel()

	input := &s3manager.UploadInput{
		Bucket:      aws.String(c.config.Bucket),
		Key:         aws.String(name),
		Body:        src,
		ACL:         aws.String(c.config.ACL),
		ContentType: aws.String(contentType),
	}
	if v := header.Get("Content-Disposition"); v != "" {
		input.ContentDisposition = aws.String(v)
	}
	if v := header.Get("Content-Encoding"); v != "" {
		input.ContentEncoding = aws.String(v)
	}
	if v := header.Get("Content-MD5"); v != "" {
		input.ContentMD5 = aws.String(v)
	}
	if len(metadata) > 0 {
		m := make(map[string]*string, len(metadata))
		for k, v := range metadata {
			m[_metadataPrefix+k] = aws.String(v)
		}
		input.Metadata = m
	}

	_, err := c.s3.UploadWithContext(ctx, input, func(u *s3manager.Uploader) {
		u.LeavePartsOnError = false // Delete the parts if the upload fails.
	})
	return err
}

// Delete removes name from the bucket. Deleting a missing object is not an
// error.
func (c *Client) Delete(name string) error {
	_, err := c.s3.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(c.config.Bucket),
		Key:    aws.String(name),
	})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// Head returns blob info for name.
func (c *Client) Head(name string) (*ObjectInfo, error) {
	output, err := c.s3.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(c.config.Bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	info := &ObjectInfo{}
	if output.ContentLength != nil {
		info.Size = *output.ContentLength
	}
	if output.ETag != nil {
		info.ETag = *output.ETag
	}
	if output.Expiration != nil {
		info.Expiration = *output.Expiration
	}
	return info, nil
}

// PublicURL returns the address at which name is served to end clients.
// Deterministic; no network call.
func (c *Client) PublicURL(name string) string {
	if c.config.PublicEndpoint != "" {
		u := url.URL{Path: "/" + name}
		return c.config.PublicEndpoint + u.String()
	}
	host := fmt.Sprintf("%s.s3-%s.amazonaws.com", c.config.Bucket, c.config.Region)
	if c.config.Region == "us-east-1" {
		host = fmt.Sprintf("%s.s3.amazonaws.com", c.config.Bucket)
	}
	u := url.URL{Scheme: "https", Host: host, Path: "/" + name}
	return u.String()
}

// ExpirationDate parses the store's per-object expiration signal, e.g.
//
//	expiry-date="Fri, 21 Dec 2032 00:00:00 GMT", rule-id="cloud-mirror-expiry"
func ExpirationDate(expiration string) (time.Time, error) {
	m := _expiryDateRe.FindStringSubmatch(expiration)
	if m == nil {
		return time.Time{}, fmt.Errorf("no expiry-date clause in %q", expiration)
	}
	t, err := time.Parse(time.RFC1123, m[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse expiry-date: %s", err)
	}
	return t, nil
}

func isBucketExists(err error) bool {
	awsErr, ok := err.(awserr.Error)
	return ok && (awsErr.Code() == s3.ErrCodeBucketAlreadyOwnedByYou ||
		awsErr.Code() == s3.ErrCodeBucketAlreadyExists)
}

func isNotFound(err error) bool {
	awsErr, ok := err.(awserr.Error)
	return ok && (awsErr.Code() == s3.ErrCodeNoSuchKey || awsErr.Code() == "NotFound")
}
