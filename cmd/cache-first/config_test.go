package main

import (
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	config, err := getConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if config.Port != 8080 || config.OriginPort != 8081 {
		t.Fatalf("ports are %d/%d", config.Port, config.OriginPort)
	}
	if config.Provider != "memory" {
		t.Fatalf("provider is %q", config.Provider)
	}
	if config.dbLatency() != 500*time.Millisecond {
		t.Fatalf("db latency is %s", config.dbLatency())
	}
}

func TestConfigRejectsBadDurations(t *testing.T) {
	t.Setenv("CACHE_FIRST_DB_LATENCY", "soon")
	if _, err := getConfig(""); err == nil {
		t.Fatal("bad dbLatency accepted")
	}
}
