package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

type aliyunStore struct {
	bucket     *oss.Bucket
	basePrefix string
}

func newAliyunStore(cfg Config) (aliyunStore, error) {
	if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" || cfg.Bucket == "" {
		return aliyunStore{}, errors.New("missing object store config for aliyun provider")
	}
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return aliyunStore{}, err
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return aliyunStore{}, err
	}
	return aliyunStore{bucket: bucket, basePrefix: cfg.BasePrefix}, nil
}

func isOSSNotFound(err error) bool {
	var srvErr oss.ServiceError
	if errors.As(err, &srvErr) {
		return srvErr.StatusCode == http.StatusNotFound || srvErr.Code == "NoSuchKey"
	}
	return false
}

// The OSS SDK does not take a context; calls are bounded by its own timeouts.

func (s aliyunStore) PutObject(_ context.Context, key string, contentType string, body []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	var opts []oss.Option
	if strings.TrimSpace(contentType) != "" {
		opts = append(opts, oss.ContentType(contentType))
	}
	return s.bucket.PutObject(JoinKey(s.basePrefix, key), bytes.NewReader(body), opts...)
}

func (s aliyunStore) GetObject(_ context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	rc, err := s.bucket.GetObject(JoinKey(s.basePrefix, key))
	if err != nil {
		if isOSSNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s aliyunStore) Exists(_ context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	return s.bucket.IsObjectExist(JoinKey(s.basePrefix, key))
}

func (s aliyunStore) DeleteObject(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	err := s.bucket.DeleteObject(JoinKey(s.basePrefix, key))
	if err != nil && !isOSSNotFound(err) {
		return err
	}
	return nil
}

func (s aliyunStore) ListObjects(_ context.Context, prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	res, err := s.bucket.ListObjects(oss.Prefix(JoinKey(s.basePrefix, strings.TrimLeft(prefix, "/"))), oss.MaxKeys(limit))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res.Objects))
	for _, o := range res.Objects {
		out = append(out, trimBase(s.basePrefix, o.Key))
	}
	return out, nil
}

func (s aliyunStore) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	return s.bucket.SignURL(JoinKey(s.basePrefix, key), oss.HTTPGet, int64(ttl/time.Second))
}
