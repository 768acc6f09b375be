// Package storage provides blob storage for JSON documents and audit logs.
//
// Implementations:
// - LocalStorage: filesystem storage for development and single-node deployments
// - R2Storage: Cloudflare R2 (S3-compatible) storage for production
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Storage defines the blob operations the document store and audit log need.
// All methods are context-aware for timeout and cancellation support.
type Storage interface {
	// Put stores data at key. With Overwrite disabled the write is
	// create-only: it fails with ErrKeyExists if the key is already taken,
	// and concurrent creators of the same key see exactly one success.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get returns the object at key; the caller must close the reader.
	// Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// PutOptions configures how an object is stored.
type PutOptions struct {
	// ContentType defaults to application/json.
	ContentType string

	// MaxSize rejects payloads larger than this many bytes with ErrTooLarge.
	// 0 means no limit.
	MaxSize int64

	// Overwrite allows replacing an existing object at the same key.
	Overwrite bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string
}

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory where objects are stored.
	BasePath string
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// Endpoint overrides the account endpoint (S3-compatible test servers).
	Endpoint string

	// Region defaults to "auto"; R2 ignores it but the SDK requires one.
	Region string
}

const (
	ProviderLocal = "local"
	ProviderR2    = "r2"

	jsonContentType = "application/json"
)

// QuotaKey is the document key of a user's quota record.
func QuotaKey(userID int64) string {
	return fmt.Sprintf("quotas/%d.json", userID)
}

// PaymentKey is the document key of a payment record.
func PaymentKey(paymentID string) string {
	return fmt.Sprintf("payments/%s.json", paymentID)
}

// ProcessedKey marks a payment whose grant has been claimed.
func ProcessedKey(paymentID string) string {
	return fmt.Sprintf("processed/%s", paymentID)
}

// AuditKey places an event under a per-day prefix so logs can be listed by date.
// Format: audit/{yyyy-mm-dd}/{eventType}/{uuid}.json
func AuditKey(eventType string, at time.Time, id uuid.UUID) string {
	return fmt.Sprintf("audit/%s/%s/%s.json", at.UTC().Format("2006-01-02"), eventType, id)
}
