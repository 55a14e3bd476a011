package objstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aliyun/alibaba-cloud-sdk-go/sdk/requests"
	"github.com/aliyun/alibaba-cloud-sdk-go/services/sts"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	DefaultSTSDuration = 900
	minSTSDuration     = 60
	maxSTSDuration     = 3600
)

// Credentials are temporary keys scoped to a set of key prefixes.
type Credentials struct {
	AccessKeyID     string `json:"access_key_id"`
	AccessKeySecret string `json:"access_key_secret"`
	SecurityToken   string `json:"security_token"`
	Expiration      string `json:"expiration"`

	Provider   string   `json:"provider"`
	Bucket     string   `json:"bucket"`
	Endpoint   string   `json:"endpoint"`
	Region     string   `json:"region"`
	BasePrefix string   `json:"base_prefix"`
	Prefixes   []string `json:"prefixes,omitempty"`
}

type Assumer interface {
	AssumeRole(ctx context.Context, sessionName, policy string, durationSeconds int) (Credentials, error)
}

func NewAssumer(cfg Config) (Assumer, error) {
	switch cfg.provider() {
	case "local":
		return localSTS{}, nil
	case "aliyun":
		if cfg.Region == "" {
			return nil, errors.New("QUERYHUB_OBJSTORE_REGION is required when QUERYHUB_OBJSTORE_PROVIDER=aliyun")
		}
		if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" || cfg.STSRoleARN == "" {
			return nil, errors.New("missing STS config (QUERYHUB_OBJSTORE_ACCESS_KEY_ID/SECRET + QUERYHUB_OBJSTORE_STS_ROLE_ARN)")
		}
		client, err := sts.NewClientWithAccessKey(cfg.Region, cfg.AccessKeyID, cfg.AccessKeySecret)
		if err != nil {
			return nil, err
		}
		return aliyunSTS{client: client, roleARN: cfg.STSRoleARN}, nil
	case "s3":
		if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
			return nil, errors.New("missing STS config for s3 provider")
		}
		scheme := "http://"
		if cfg.UseSSL {
			scheme = "https://"
		}
		return s3STS{cfg: cfg, endpoint: scheme + strings.TrimSpace(cfg.Endpoint)}, nil
	default:
		return nil, errors.New("unsupported object store provider (set QUERYHUB_OBJSTORE_PROVIDER=local|aliyun|s3)")
	}
}

// IssueUploadCredentials mints credentials that can read and write only
// under prefix.
func IssueUploadCredentials(ctx context.Context, a Assumer, cfg Config, sessionName, prefix string) (Credentials, error) {
	fullPrefix := JoinKey(cfg.BasePrefix, prefix)
	if !strings.HasSuffix(fullPrefix, "/") {
		fullPrefix += "/"
	}
	var (
		policy string
		err    error
	)
	switch cfg.provider() {
	case "s3":
		policy, err = BuildS3Policy(cfg.Bucket, []string{fullPrefix})
	case "local":
	default:
		policy, err = BuildOSSPolicy(cfg.Bucket, []string{fullPrefix}, []string{fullPrefix}, []string{fullPrefix})
	}
	if err != nil {
		return Credentials{}, err
	}

	creds, err := a.AssumeRole(ctx, sessionName, policy, clampDuration(cfg.STSDurationSeconds))
	if err != nil {
		return Credentials{}, fmt.Errorf("assume role: %w", err)
	}
	creds.Bucket = cfg.Bucket
	creds.Endpoint = cfg.Endpoint
	creds.Region = cfg.Region
	creds.BasePrefix = strings.Trim(strings.TrimSpace(cfg.BasePrefix), "/")
	creds.Prefixes = []string{prefix}
	return creds, nil
}

func clampDuration(sec int) int {
	if sec <= 0 {
		return DefaultSTSDuration
	}
	if sec < minSTSDuration {
		return minSTSDuration
	}
	if sec > maxSTSDuration {
		return maxSTSDuration
	}
	return sec
}

func expiresAt(durationSeconds int) string {
	return time.Now().Add(time.Duration(durationSeconds) * time.Second).UTC().Format(time.RFC3339)
}

type localSTS struct{}

func (localSTS) AssumeRole(_ context.Context, _, _ string, durationSeconds int) (Credentials, error) {
	return Credentials{
		Provider:        "local",
		AccessKeyID:     "local",
		AccessKeySecret: "local",
		SecurityToken:   uuid.NewString(),
		Expiration:      expiresAt(durationSeconds),
	}, nil
}

type aliyunSTS struct {
	client  *sts.Client
	roleARN string
}

func (s aliyunSTS) AssumeRole(_ context.Context, sessionName, policy string, durationSeconds int) (Credentials, error) {
	req := sts.CreateAssumeRoleRequest()
	req.Scheme = "https"
	req.RoleArn = s.roleARN
	req.RoleSessionName = sessionName
	req.Policy = policy
	req.DurationSeconds = requests.NewInteger(durationSeconds)

	// The SDK does not take a context.
	resp, err := s.client.AssumeRole(req)
	if err != nil {
		return Credentials{}, err
	}
	if resp == nil || resp.Credentials.AccessKeyId == "" {
		return Credentials{}, errors.New("sts assume role returned empty credentials")
	}
	return Credentials{
		Provider:        "aliyun_sts",
		AccessKeyID:     resp.Credentials.AccessKeyId,
		AccessKeySecret: resp.Credentials.AccessKeySecret,
		SecurityToken:   resp.Credentials.SecurityToken,
		Expiration:      resp.Credentials.Expiration,
	}, nil
}

type s3STS struct {
	cfg      Config
	endpoint string
}

func (s s3STS) AssumeRole(_ context.Context, sessionName, policy string, durationSeconds int) (Credentials, error) {
	c, err := credentials.NewSTSAssumeRole(s.endpoint, credentials.STSAssumeRoleOptions{
		AccessKey:       s.cfg.AccessKeyID,
		SecretKey:       s.cfg.AccessKeySecret,
		Policy:          policy,
		Location:        s.cfg.Region,
		DurationSeconds: durationSeconds,
		RoleARN:         s.cfg.STSRoleARN,
		RoleSessionName: sessionName,
	})
	if err != nil {
		return Credentials{}, err
	}
	v, err := c.Get()
	if err != nil {
		return Credentials{}, err
	}
	if v.AccessKeyID == "" {
		return Credentials{}, errors.New("sts assume role returned empty credentials")
	}
	return Credentials{
		Provider:        "s3_sts",
		AccessKeyID:     v.AccessKeyID,
		AccessKeySecret: v.SecretAccessKey,
		SecurityToken:   v.SessionToken,
		Expiration:      expiresAt(durationSeconds),
	}, nil
}

type policyStatement struct {
	Effect    string                         `json:"Effect"`
	Action    []string                       `json:"Action"`
	Resource  []string                       `json:"Resource"`
	Condition map[string]map[string][]string `json:"Condition,omitempty"`
}

func dedupePrefixes(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, p := range in {
		p = strings.TrimLeft(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func wildcard(p string) string {
	if strings.HasSuffix(p, "*") {
		return p
	}
	return p + "*"
}

// BuildOSSPolicy renders an Aliyun RAM policy. A write prefix without a
// trailing "/" or "*" names a single object.
func BuildOSSPolicy(bucket string, listPrefixes, readPrefixes, writePrefixes []string) (string, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return "", errors.New("missing bucket")
	}
	listPrefixes = dedupePrefixes(listPrefixes)
	readPrefixes = dedupePrefixes(readPrefixes)
	writePrefixes = dedupePrefixes(writePrefixes)

	var stmts []policyStatement
	if len(listPrefixes) > 0 {
		patterns := make([]string, 0, len(listPrefixes)*2)
		for _, p := range listPrefixes {
			patterns = append(patterns, p)
			if !strings.HasSuffix(p, "*") {
				patterns = append(patterns, p+"*")
			}
		}
		stmts = append(stmts, policyStatement{
			Effect:    "Allow",
			Action:    []string{"oss:ListObjects"},
			Resource:  []string{fmt.Sprintf("acs:oss:*:*:%s", bucket)},
			Condition: map[string]map[string][]string{"StringLike": {"oss:Prefix": patterns}},
		})
	}
	if len(readPrefixes) > 0 {
		resources := make([]string, 0, len(readPrefixes))
		for _, p := range readPrefixes {
			resources = append(resources, fmt.Sprintf("acs:oss:*:*:%s/%s", bucket, wildcard(p)))
		}
		stmts = append(stmts, policyStatement{Effect: "Allow", Action: []string{"oss:GetObject"}, Resource: resources})
	}
	if len(writePrefixes) > 0 {
		resources := make([]string, 0, len(writePrefixes))
		for _, p := range writePrefixes {
			if strings.HasSuffix(p, "/") {
				p = wildcard(p)
			}
			resources = append(resources, fmt.Sprintf("acs:oss:*:*:%s/%s", bucket, p))
		}
		stmts = append(stmts, policyStatement{Effect: "Allow", Action: []string{"oss:PutObject"}, Resource: resources})
	}

	b, err := json.Marshal(map[string]any{"Version": "1", "Statement": stmts})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// BuildS3Policy renders an IAM session policy granting object read and
// write under each prefix.
func BuildS3Policy(bucket string, prefixes []string) (string, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return "", errors.New("missing bucket")
	}
	prefixes = dedupePrefixes(prefixes)
	if len(prefixes) == 0 {
		return "", errors.New("missing prefix")
	}
	resources := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		resources = append(resources, fmt.Sprintf("arn:aws:s3:::%s/%s", bucket, wildcard(p)))
	}
	b, err := json.Marshal(map[string]any{
		"Version": "2012-10-17",
		"Statement": []policyStatement{{
			Effect:   "Allow",
			Action:   []string{"s3:PutObject", "s3:GetObject"},
			Resource: resources,
		}},
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
