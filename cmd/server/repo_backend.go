package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	awssession "github.com/aws/aws-sdk-go/aws/session"

	"voxelforge.ai/internal/repository"
	"voxelforge.ai/internal/repository/dynamorepo"
	"voxelforge.ai/internal/repository/leveldb"
	"voxelforge.ai/internal/repository/memrepo"
	"voxelforge.ai/internal/repository/sqlrepo"
)

// openRepository picks the chunk store from VF_REPO_BACKEND. A nil
// repository means generated chunks live only in the cache.
func openRepository(dataDir string) (repository.Repository, string, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VF_REPO_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, backend, nil
	case "memory":
		return memrepo.New(), backend, nil
	case "sqlite":
		path := strings.TrimSpace(os.Getenv("VF_REPO_SQLITE_PATH"))
		if path == "" {
			path = filepath.Join(dataDir, "index", "chunks.sqlite")
		}
		r, err := sqlrepo.OpenSQLite(path)
		return r, backend, err
	case "postgres":
		dsn := strings.TrimSpace(os.Getenv("VF_REPO_POSTGRES_DSN"))
		if dsn == "" {
			return nil, backend, fmt.Errorf("VF_REPO_BACKEND=postgres but VF_REPO_POSTGRES_DSN is empty")
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(envInt("VF_REPO_CONNECT_TIMEOUT_MS", 5000))*time.Millisecond)
		defer cancel()
		r, err := sqlrepo.OpenPostgres(ctx, dsn)
		return r, backend, err
	case "leveldb":
		path := strings.TrimSpace(os.Getenv("VF_REPO_LEVELDB_PATH"))
		if path == "" {
			path = filepath.Join(dataDir, "chunks.ldb")
		}
		r, err := leveldb.Open(path)
		return r, backend, err
	case "dynamo":
		cfg := &aws.Config{Region: aws.String(envString("VF_REPO_DYNAMO_REGION", "us-east-1"))}
		if ep := strings.TrimSpace(os.Getenv("VF_REPO_DYNAMO_ENDPOINT")); ep != "" {
			cfg.Endpoint = aws.String(ep)
		}
		sess, err := awssession.NewSession(cfg)
		if err != nil {
			return nil, backend, fmt.Errorf("aws session: %w", err)
		}
		table := dynamorepo.TableName(envString("VF_REPO_DYNAMO_PREFIX", "voxelforge"), envString("VF_STAGE", "dev"))
		r, err := dynamorepo.New(sess, table)
		return r, backend, err
	default:
		return nil, backend, fmt.Errorf("unsupported VF_REPO_BACKEND: %s", backend)
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
