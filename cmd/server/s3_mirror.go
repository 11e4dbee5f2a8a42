package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"voxelforge.ai/internal/persistence/mirror"
)

// buildMirror returns nil when VF_MIRROR is off; a nil *mirror.Mirror
// accepts and ignores every call.
func buildMirror(dataDir string, logger *log.Logger) (*mirror.Mirror, error) {
	if !envBool("VF_MIRROR", false) {
		return nil, nil
	}

	cfg := mirror.S3Config{
		Endpoint:        strings.TrimSpace(os.Getenv("VF_MIRROR_ENDPOINT")),
		Region:          strings.TrimSpace(os.Getenv("VF_MIRROR_REGION")),
		Bucket:          strings.TrimSpace(os.Getenv("VF_MIRROR_BUCKET")),
		AccessKeyID:     strings.TrimSpace(os.Getenv("VF_MIRROR_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("VF_MIRROR_SECRET_ACCESS_KEY")),
	}
	if cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("VF_MIRROR=true but VF_MIRROR_BUCKET/VF_MIRROR_ACCESS_KEY_ID/VF_MIRROR_SECRET_ACCESS_KEY are not fully set")
	}

	up, err := mirror.NewS3Uploader(cfg)
	if err != nil {
		return nil, err
	}

	opts := mirror.Options{
		Workers:       envInt("VF_MIRROR_UPLOAD_WORKERS", 2),
		QueueCapacity: envInt("VF_MIRROR_QUEUE_CAPACITY", 2048),
		MaxAttempts:   envInt("VF_MIRROR_MAX_ATTEMPTS", 4),
		Timeout:       time.Duration(envInt("VF_MIRROR_TIMEOUT_MS", 30000)) * time.Millisecond,
	}
	prefix := strings.TrimSpace(os.Getenv("VF_MIRROR_PREFIX"))
	return mirror.New(up, dataDir, prefix, opts, logger), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
