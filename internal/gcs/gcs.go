// Package gcs checks that a bucket is reachable with a given credential.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// ProbeOptions configures a bucket probe.
type ProbeOptions struct {
	// CredentialsFile is a service account key or authorized_user file.
	// Empty means Application Default Credentials.
	CredentialsFile string
	// UserProject is billed for requester-pays buckets.
	UserProject string
	// Endpoint overrides the storage API endpoint.
	Endpoint string
	Timeout  time.Duration
}

// ProbeResult describes a successful probe.
type ProbeResult struct {
	Bucket string
	// Empty is true when the bucket holds no objects.
	Empty   bool
	Latency time.Duration
}

// ParseBucket accepts "name" or "gs://name[/path]" and returns the name.
func ParseBucket(s string) (string, error) {
	name := strings.TrimPrefix(strings.TrimSpace(s), "gs://")
	if i := strings.Index(name, "/"); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", fmt.Errorf("invalid bucket %q", s)
	}
	return name, nil
}

// Probe lists at most one object in bucket.
func Probe(ctx context.Context, bucket string, opts ProbeOptions) (*ProbeResult, error) {
	name, err := ParseBucket(bucket)
	if err != nil {
		return nil, err
	}
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}

	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	defer client.Close()

	bkt := client.Bucket(name)
	if opts.UserProject != "" {
		bkt = bkt.UserProject(opts.UserProject)
	}

	start := time.Now()
	it := bkt.Objects(ctx, &storage.Query{Prefix: ""})
	_, err = it.Next()
	result := &ProbeResult{Bucket: name, Latency: time.Since(start)}
	if errors.Is(err, iterator.Done) {
		result.Empty = true
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list gs://%s: %w", name, err)
	}
	return result, nil
}
