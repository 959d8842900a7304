// Package dataproc detects Google Cloud Dataproc VMs, which ship with the GCS
// connector already installed.
package dataproc

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/compute/metadata"
	"go.uber.org/zap"
)

const bucketAttribute = "dataproc-bucket"

// Detector reports whether the current machine is a Dataproc VM.
type Detector interface {
	IsDataproc(ctx context.Context) bool
}

// MetadataDetector asks the GCE metadata server.
type MetadataDetector struct {
	// Timeout bounds the metadata lookup.
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewMetadataDetector returns a detector with a short timeout.
func NewMetadataDetector(logger *zap.Logger) *MetadataDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataDetector{Timeout: 3 * time.Second, Logger: logger.Named("dataproc")}
}

// IsDataproc is true on GCE when the instance carries a dataproc-bucket
// attribute whose value starts with "dataproc". Any lookup failure counts as
// "not Dataproc".
func (d *MetadataDetector) IsDataproc(ctx context.Context) bool {
	if !metadata.OnGCE() {
		d.Logger.Debug("not running on GCE")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	value, err := metadata.InstanceAttributeValueWithContext(ctx, bucketAttribute)
	if err != nil {
		d.Logger.Debug("no dataproc metadata", zap.Error(err))
		return false
	}
	return strings.HasPrefix(value, "dataproc")
}

// Static is a Detector with a fixed answer.
type Static bool

func (s Static) IsDataproc(context.Context) bool { return bool(s) }
