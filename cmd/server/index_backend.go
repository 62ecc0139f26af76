package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"voxelcast.ai/internal/persistence/indexdb"
	"voxelcast.ai/internal/persistence/pubsub"
)

type runtimeIndex struct {
	index *indexdb.SQLiteIndex
}

func openRuntimeIndex(dataDir string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return runtimeIndex{}, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VC_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		logger.Printf("session index disabled (VC_INDEX_BACKEND=%s)", backend)
		return runtimeIndex{}, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "sessions.sqlite"))
		if err != nil {
			return runtimeIndex{}, err
		}
		return runtimeIndex{index: idx}, nil
	default:
		return runtimeIndex{}, fmt.Errorf("unsupported VC_INDEX_BACKEND: %s", backend)
	}
}

// openPublisher returns nil when addr is empty.
func openPublisher(addr, prefix string, logger *log.Logger) (*pubsub.Publisher, error) {
	if addr == "" {
		return nil, nil
	}
	db := envInt("VC_REDIS_DB", 0)
	p := pubsub.New(addr, os.Getenv("VC_REDIS_PASSWORD"), db,
		pubsub.WithPrefix(prefix),
		pubsub.WithLogger(logger),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("ping %s: %w", addr, err)
	}
	logger.Printf("publishing status to redis %s channel %s", addr, p.Channel())
	return p, nil
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
	if err != nil || n < 0 {
		return def
	}
	return n
}
