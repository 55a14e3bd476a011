package objstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "a/b.txt", JoinKey("", "/a/b.txt"))
	assert.Equal(t, "base/a", JoinKey("/base/", "a"))
	assert.Equal(t, "base", JoinKey("base", ""))
}

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config{Provider: "local", LocalDir: t.TempDir(), BasePrefix: "qh"})
	require.NoError(t, err)

	ok, err := s.Exists(ctx, "runs/r1/inputs/f1/a.csv")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.GetObject(ctx, "runs/r1/inputs/f1/a.csv")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutObject(ctx, "runs/r1/inputs/f1/a.csv", "text/csv", []byte("x,y")))
	require.NoError(t, s.PutObject(ctx, "uploads/u1/b.pdf", "", []byte("%PDF")))

	ok, err = s.Exists(ctx, "runs/r1/inputs/f1/a.csv")
	require.NoError(t, err)
	assert.True(t, ok)
	body, err := s.GetObject(ctx, "runs/r1/inputs/f1/a.csv")
	require.NoError(t, err)
	assert.Equal(t, []byte("x,y"), body)

	keys, err := s.ListObjects(ctx, "runs/", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"runs/r1/inputs/f1/a.csv"}, keys)
	keys, err = s.ListObjects(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	require.NoError(t, s.DeleteObject(ctx, "runs/r1/inputs/f1/a.csv"))
	require.NoError(t, s.DeleteObject(ctx, "runs/r1/inputs/f1/a.csv"))
	ok, err = s.Exists(ctx, "runs/r1/inputs/f1/a.csv")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s, err := New(Config{Provider: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.Error(t, s.PutObject(context.Background(), "../escape.txt", "", []byte("x")))
	_, err = s.GetObject(context.Background(), "uploads/../../etc/passwd")
	assert.Error(t, err)
}

func TestListOnEmptyLocalStore(t *testing.T) {
	s, err := New(Config{Provider: "local", LocalDir: t.TempDir() + "/missing"})
	require.NoError(t, err)
	keys, err := s.ListObjects(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "ftp"})
	assert.Error(t, err)
	_, err = New(Config{Provider: "local"})
	assert.Error(t, err)
	_, err = New(Config{Provider: "s3", Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

func TestBuildOSSPolicy(t *testing.T) {
	p, err := BuildOSSPolicy("bkt", []string{"qh/uploads/u1/"}, []string{"qh/uploads/u1/"}, []string{"/qh/uploads/u1/", "qh/uploads/u1/"})
	require.NoError(t, err)

	var doc struct {
		Version   string
		Statement []policyStatement
	}
	require.NoError(t, json.Unmarshal([]byte(p), &doc))
	assert.Equal(t, "1", doc.Version)
	require.Len(t, doc.Statement, 3)
	assert.Equal(t, []string{"acs:oss:*:*:bkt"}, doc.Statement[0].Resource)
	assert.Equal(t, []string{"qh/uploads/u1/", "qh/uploads/u1/*"}, doc.Statement[0].Condition["StringLike"]["oss:Prefix"])
	assert.Equal(t, []string{"acs:oss:*:*:bkt/qh/uploads/u1/*"}, doc.Statement[1].Resource)
	assert.Equal(t, []string{"acs:oss:*:*:bkt/qh/uploads/u1/*"}, doc.Statement[2].Resource)

	_, err = BuildOSSPolicy(" ", nil, nil, nil)
	assert.Error(t, err)
}

func TestBuildS3Policy(t *testing.T) {
	p, err := BuildS3Policy("bkt", []string{"uploads/u1/"})
	require.NoError(t, err)
	assert.Contains(t, p, `"arn:aws:s3:::bkt/uploads/u1/*"`)
	assert.Contains(t, p, `"2012-10-17"`)

	_, err = BuildS3Policy("bkt", nil)
	assert.Error(t, err)
}

func TestIssueUploadCredentialsLocal(t *testing.T) {
	cfg := Config{Provider: "local", Bucket: "dev", BasePrefix: "/qh/", STSDurationSeconds: 5}
	a, err := NewAssumer(cfg)
	require.NoError(t, err)

	creds, err := IssueUploadCredentials(context.Background(), a, cfg, "queryhub-test", "uploads/u1/")
	require.NoError(t, err)
	assert.Equal(t, "local", creds.Provider)
	assert.NotEmpty(t, creds.SecurityToken)
	assert.NotEmpty(t, creds.Expiration)
	assert.Equal(t, "dev", creds.Bucket)
	assert.Equal(t, "qh", creds.BasePrefix)
	assert.Equal(t, []string{"uploads/u1/"}, creds.Prefixes)
}

func TestClampDuration(t *testing.T) {
	assert.Equal(t, DefaultSTSDuration, clampDuration(0))
	assert.Equal(t, 60, clampDuration(5))
	assert.Equal(t, 3600, clampDuration(99999))
	assert.Equal(t, 1200, clampDuration(1200))
}

func TestApplyExpiryRulesValidation(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Provider: "local", LocalDir: t.TempDir()}

	assert.Error(t, ApplyExpiryRules(ctx, cfg, nil))
	assert.Error(t, ApplyExpiryRules(ctx, cfg, []ExpiryRule{{Name: "uploads", Prefix: "uploads/", Days: 0}}))
	assert.Error(t, ApplyExpiryRules(ctx, cfg, []ExpiryRule{{Name: "", Prefix: "uploads/", Days: 7}}))

	err := ApplyExpiryRules(ctx, cfg, []ExpiryRule{{Name: "uploads", Prefix: "uploads/", Days: 7}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestOwnedRule(t *testing.T) {
	rules := []ExpiryRule{{Name: "uploads", Prefix: "uploads/", Days: 30}}
	assert.True(t, ownedRule("queryhub_uploads", rules))
	assert.False(t, ownedRule("uploads", rules))
	assert.False(t, ownedRule("queryhub_runs", rules))
}
