package objstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

const lifecycleRulePrefix = "queryhub_"

// ExpiryRule expires objects under Prefix (relative to the base prefix)
// after Days days.
type ExpiryRule struct {
	Name   string
	Prefix string
	Days   int
}

func (r ExpiryRule) id() string { return lifecycleRulePrefix + r.Name }

func validateRules(rules []ExpiryRule) error {
	if len(rules) == 0 {
		return errors.New("no lifecycle rules")
	}
	for _, r := range rules {
		if strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.Prefix) == "" {
			return errors.New("lifecycle rule needs a name and prefix")
		}
		if r.Days < 1 || r.Days > 3650 {
			return fmt.Errorf("lifecycle rule %s: days must be 1..3650", r.Name)
		}
	}
	return nil
}

// ApplyExpiryRules merges rules into the bucket's lifecycle configuration,
// replacing earlier rules with the same name and keeping foreign ones.
func ApplyExpiryRules(ctx context.Context, cfg Config, rules []ExpiryRule) error {
	if err := validateRules(rules); err != nil {
		return err
	}
	switch cfg.provider() {
	case "aliyun":
		s, err := newAliyunStore(cfg)
		if err != nil {
			return err
		}
		return applyOSSRules(s.bucket, cfg.BasePrefix, rules)
	case "s3":
		s, err := newS3Store(cfg)
		if err != nil {
			return err
		}
		return applyS3Rules(ctx, s.client, s.bucket, cfg.BasePrefix, rules)
	default:
		return fmt.Errorf("lifecycle rules are not supported for provider %q", cfg.Provider)
	}
}

func ownedRule(id string, rules []ExpiryRule) bool {
	for _, r := range rules {
		if r.id() == id {
			return true
		}
	}
	return false
}

func applyOSSRules(bucket *oss.Bucket, basePrefix string, rules []ExpiryRule) error {
	existing, err := bucket.Client.GetBucketLifecycle(bucket.BucketName)
	if err != nil {
		var srvErr oss.ServiceError
		if !errors.As(err, &srvErr) || srvErr.StatusCode != http.StatusNotFound {
			return fmt.Errorf("get lifecycle: %w", err)
		}
		existing = oss.GetBucketLifecycleResult{}
	}

	merged := make([]oss.LifecycleRule, 0, len(existing.Rules)+len(rules))
	for _, r := range existing.Rules {
		if !ownedRule(r.ID, rules) {
			merged = append(merged, r)
		}
	}
	for _, r := range rules {
		merged = append(merged, oss.LifecycleRule{
			ID:         r.id(),
			Prefix:     JoinKey(basePrefix, r.Prefix),
			Status:     "Enabled",
			Expiration: &oss.LifecycleExpiration{Days: r.Days},
		})
	}
	if err := bucket.Client.SetBucketLifecycle(bucket.BucketName, merged); err != nil {
		return fmt.Errorf("set lifecycle: %w", err)
	}
	return nil
}

func applyS3Rules(ctx context.Context, client *minio.Client, bucket, basePrefix string, rules []ExpiryRule) error {
	cfg, err := client.GetBucketLifecycle(ctx, bucket)
	if err != nil {
		if minio.ToErrorResponse(err).Code != "NoSuchLifecycleConfiguration" {
			return fmt.Errorf("get lifecycle: %w", err)
		}
		cfg = nil
	}
	if cfg == nil {
		cfg = lifecycle.NewConfiguration()
	}

	merged := make([]lifecycle.Rule, 0, len(cfg.Rules)+len(rules))
	for _, r := range cfg.Rules {
		if !ownedRule(r.ID, rules) {
			merged = append(merged, r)
		}
	}
	for _, r := range rules {
		merged = append(merged, lifecycle.Rule{
			ID:         r.id(),
			Status:     "Enabled",
			RuleFilter: lifecycle.Filter{Prefix: JoinKey(basePrefix, r.Prefix)},
			Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(r.Days)},
		})
	}
	cfg.Rules = merged
	if err := client.SetBucketLifecycle(ctx, bucket, cfg); err != nil {
		return fmt.Errorf("set lifecycle: %w", err)
	}
	return nil
}
