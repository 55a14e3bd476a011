package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"queryhub/internal/objstore"
)

func main() {
	_ = godotenv.Load()

	var (
		provider        = flag.String("provider", envTrim("QUERYHUB_OBJSTORE_PROVIDER"), "Object store provider: aliyun | s3 | local")
		endpoint        = flag.String("endpoint", envTrim("QUERYHUB_OBJSTORE_ENDPOINT"), "Object store endpoint, e.g. https://oss-cn-hangzhou.aliyuncs.com")
		region          = flag.String("region", envTrim("QUERYHUB_OBJSTORE_REGION"), "Region (s3)")
		accessKeyID     = flag.String("access-key-id", envTrim("QUERYHUB_OBJSTORE_ACCESS_KEY_ID"), "Access key id")
		accessKeySecret = flag.String("access-key-secret", envTrim("QUERYHUB_OBJSTORE_ACCESS_KEY_SECRET"), "Access key secret")
		bucketName      = flag.String("bucket", envTrim("QUERYHUB_OBJSTORE_BUCKET"), "Bucket name")
		basePrefix      = flag.String("base-prefix", strings.Trim(envTrim("QUERYHUB_OBJSTORE_BASE_PREFIX"), "/"), "Base prefix for all objects (optional)")
		localDir        = flag.String("local-dir", envTrim("QUERYHUB_OBJSTORE_LOCAL_DIR"), "Root directory (local)")
		insecure        = flag.Bool("insecure", false, "Use plain HTTP (s3)")

		uploadDays = flag.Int("upload-days", 30, "Retention days for direct uploads (uploads/)")
		runDays    = flag.Int("run-days", 0, "Retention days for run input files (runs/); 0 keeps them")
		apply      = flag.Bool("apply", false, "Apply/merge lifecycle rules into bucket")

		list   = flag.Bool("list", false, "List object keys under -prefix")
		prefix = flag.String("prefix", "", "Key prefix for -list, relative to the base prefix")
		limit  = flag.Int("limit", 100, "Maximum keys for -list")
	)
	flag.Parse()

	if !*apply && !*list {
		log.Fatal("no action specified (use -apply or -list)")
	}

	cfg := objstore.Config{
		Provider:        *provider,
		Endpoint:        *endpoint,
		Region:          *region,
		Bucket:          *bucketName,
		BasePrefix:      *basePrefix,
		AccessKeyID:     *accessKeyID,
		AccessKeySecret: *accessKeySecret,
		UseSSL:          !*insecure,
		LocalDir:        *localDir,
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if *list {
		store, err := objstore.New(cfg)
		if err != nil {
			log.Fatalf("objstore: %v", err)
		}
		keys, err := store.ListObjects(ctx, *prefix, *limit)
		if err != nil {
			log.Fatalf("list: %v", err)
		}
		for _, k := range keys {
			fmt.Println(k)
		}
	}

	if *apply {
		rules, err := expiryRules(*uploadDays, *runDays)
		if err != nil {
			log.Fatal(err)
		}
		if err := objstore.ApplyExpiryRules(ctx, cfg, rules); err != nil {
			log.Fatalf("lifecycle: %v", err)
		}
		for _, r := range rules {
			log.Printf("lifecycle rule applied (bucket=%s prefix=%s days=%d)", *bucketName, objstore.JoinKey(*basePrefix, r.Prefix), r.Days)
		}
	}
}

func expiryRules(uploadDays, runDays int) ([]objstore.ExpiryRule, error) {
	if uploadDays < 1 || uploadDays > 3650 {
		return nil, fmt.Errorf("invalid -upload-days %d", uploadDays)
	}
	if runDays < 0 || runDays > 3650 {
		return nil, fmt.Errorf("invalid -run-days %d", runDays)
	}
	rules := []objstore.ExpiryRule{{Name: "uploads_expire", Prefix: "uploads/", Days: uploadDays}}
	if runDays > 0 {
		rules = append(rules, objstore.ExpiryRule{Name: "run_inputs_expire", Prefix: "runs/", Days: runDays})
	}
	return rules, nil
}

func envTrim(key string) string { return strings.TrimSpace(os.Getenv(key)) }
