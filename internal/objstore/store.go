// Package objstore stores uploaded input files in a local directory, Aliyun
// OSS, or an S3-compatible bucket, and mints scoped upload credentials.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"queryhub/internal/runs"
)

// ErrNotFound is returned by GetObject for a missing key.
var ErrNotFound = runs.ErrNotFound

type Config struct {
	Provider           string
	Endpoint           string
	Region             string
	Bucket             string
	BasePrefix         string
	AccessKeyID        string
	AccessKeySecret    string
	UseSSL             bool
	LocalDir           string
	STSRoleARN         string
	STSDurationSeconds int
}

func (c Config) provider() string { return strings.ToLower(strings.TrimSpace(c.Provider)) }

// Store is the object store behind run input files. Keys are relative to
// the configured base prefix.
type Store interface {
	PutObject(ctx context.Context, key string, contentType string, body []byte) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	DeleteObject(ctx context.Context, key string) error
	ListObjects(ctx context.Context, prefix string, limit int) ([]string, error)
}

// Presigner is implemented by stores that can hand out a direct download URL.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

var _ runs.FileStore = Store(nil)

func JoinKey(basePrefix, key string) string {
	basePrefix = strings.Trim(strings.TrimSpace(basePrefix), "/")
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if basePrefix == "" {
		return key
	}
	if key == "" {
		return basePrefix
	}
	return basePrefix + "/" + key
}

// trimBase maps a bucket key back into the caller's key space.
func trimBase(basePrefix, fullKey string) string {
	basePrefix = strings.Trim(strings.TrimSpace(basePrefix), "/")
	if basePrefix == "" {
		return fullKey
	}
	return strings.TrimPrefix(fullKey, basePrefix+"/")
}

func checkKey(key string) error {
	k := strings.TrimSpace(key)
	if k == "" {
		return errors.New("empty object key")
	}
	for _, part := range strings.Split(k, "/") {
		if part == ".." {
			return fmt.Errorf("invalid object key %q", key)
		}
	}
	return nil
}

func New(cfg Config) (Store, error) {
	switch cfg.provider() {
	case "local":
		if strings.TrimSpace(cfg.LocalDir) == "" {
			return nil, errors.New("QUERYHUB_OBJSTORE_LOCAL_DIR is required when QUERYHUB_OBJSTORE_PROVIDER=local")
		}
		return localStore{root: cfg.LocalDir, basePrefix: cfg.BasePrefix}, nil
	case "aliyun":
		return newAliyunStore(cfg)
	case "s3":
		return newS3Store(cfg)
	default:
		return nil, errors.New("unsupported object store provider (set QUERYHUB_OBJSTORE_PROVIDER=local|aliyun|s3)")
	}
}
