package config

import (
	"os"
	"testing"

	"github.com/dreamware/edgecache/internal/localcache"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"EDGE_ID", "EDGE_SINGLE_NODE", "EDGE_DEBUG", "EDGE_TRACK_EVENT",
		"EDGESCALE_EDGECNT", "EDGE_IDX", "CLIENT_CLIENTCNT", "CLIENT_PERCLIENT_WORKERCNT",
		"CLIENT_OPCNT", "CLIENT_WARMUP_SPEEDUP", "WORKLOAD_KEYCNT",
		"WORKLOAD_NAME", "DATASETLOADER_CNT", "DATASETLOADER_CLOUD_IDX",
		"EDGE_CACHE_NAME", "EDGE_HASH_ALGORITHM", "EDGE_CAPACITY_BYTES", "EDGE_DIRECTORY_SHARDCNT",
	} {
		os.Unsetenv(k)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.CacheName != localcache.NameLRU {
		t.Fatalf("expected default cache name lru, got %q", cfg.CacheName)
	}
	if cfg.EdgeCount != 1 || cfg.ClientCount != 1 {
		t.Fatalf("expected default single-node sizing, got edgecnt=%d clientcnt=%d", cfg.EdgeCount, cfg.ClientCount)
	}
}

func TestFromEnvRejectsClientcntBelowEdgecnt(t *testing.T) {
	clearEnv(t)
	os.Setenv("EDGESCALE_EDGECNT", "4")
	os.Setenv("CLIENT_CLIENTCNT", "2")
	defer clearEnv(t)

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected validation error when clientcnt < edgecnt")
	}
}

func TestFromEnvRejectsUnknownCacheName(t *testing.T) {
	clearEnv(t)
	os.Setenv("EDGE_CACHE_NAME", "bogus")
	defer clearEnv(t)

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected validation error for unknown cache name")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("EDGE_ID", "edge-7")
	os.Setenv("EDGE_CACHE_NAME", "covered")
	defer clearEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.EdgeID != "edge-7" || cfg.CacheName != localcache.NameCovered {
		t.Fatalf("expected overrides to take effect, got %+v", cfg)
	}
}
