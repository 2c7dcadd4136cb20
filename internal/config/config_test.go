package config

import (
	"os"
	"testing"
	"time"
)

func unsetCapnetEnv() {
	for _, k := range []string{
		"CAPNET_KV_URL", "KV_URL",
		"CAPNET_CAPNET_ENV", "CAPNET_ENV",
		"CAPNET_TRUSTGRAPH_URL", "TRUSTGRAPH_URL",
		"CAPNET_TRUSTGRAPH_API_KEY", "TRUSTGRAPH_API_KEY",
		"CAPNET_LEDGER_URL", "LEDGER_URL",
		"CAPNET_LEDGER_ENABLED", "LEDGER_ENABLED",
		"CAPNET_IDENTITY_NAMESPACE", "IDENTITY_NAMESPACE",
	} {
		_ = os.Unsetenv(k)
	}
}

func TestConfigLoad_Defaults(t *testing.T) {
	unsetCapnetEnv()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.Environment != EnvDevelopment || cfg.IdentityNamespace != "praxis" || cfg.KVPrefix != "capnet:" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.UseKV() || cfg.StoreKind() != "memory" {
		t.Fatalf("memory store expected without KV_URL")
	}
	if cfg.ReputationEnabled() || cfg.LedgerActive() {
		t.Fatalf("external services must be off without URLs")
	}
	if cfg.SecureCookies() {
		t.Fatalf("development must not require secure cookies")
	}
	if cfg.ExternalTimeout() != 5*time.Second || cfg.TrustCacheTTL() != 90*time.Second {
		t.Fatalf("unexpected timeouts: %v %v", cfg.ExternalTimeout(), cfg.TrustCacheTTL())
	}
}

func TestConfigLoad_UnprefixedFallback(t *testing.T) {
	unsetCapnetEnv()
	_ = os.Setenv("KV_URL", "redis://localhost:6379/0")
	_ = os.Setenv("TRUSTGRAPH_URL", "https://trust.example")
	_ = os.Setenv("TRUSTGRAPH_API_KEY", "k1")
	defer unsetCapnetEnv()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if !cfg.UseKV() || cfg.StoreKind() != "kv" {
		t.Fatalf("KV_URL should select kv store")
	}
	if cfg.LedgerURL != "https://trust.example" || cfg.LedgerAPIKey != "k1" {
		t.Fatalf("ledger should inherit trustgraph settings, got %s %s", cfg.LedgerURL, cfg.LedgerAPIKey)
	}
	if !cfg.ReputationEnabled() || !cfg.LedgerActive() {
		t.Fatalf("external services should be enabled")
	}
}

func TestConfigLoad_PrefixedWins(t *testing.T) {
	unsetCapnetEnv()
	_ = os.Setenv("IDENTITY_NAMESPACE", "plain")
	_ = os.Setenv("CAPNET_IDENTITY_NAMESPACE", "prefixed")
	defer unsetCapnetEnv()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.IdentityNamespace != "prefixed" {
		t.Fatalf("prefixed var should win, got %s", cfg.IdentityNamespace)
	}
}

func TestConfigLoad_LedgerDisabledFlag(t *testing.T) {
	unsetCapnetEnv()
	_ = os.Setenv("TRUSTGRAPH_URL", "https://trust.example")
	_ = os.Setenv("LEDGER_ENABLED", "false")
	defer unsetCapnetEnv()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.LedgerActive() {
		t.Fatalf("ledger must be inactive when disabled")
	}
	if !cfg.ReputationEnabled() {
		t.Fatalf("reputation should remain enabled")
	}
}

func TestResolveDefaults_Environment(t *testing.T) {
	cases := map[Environment]Environment{
		"dev":        EnvDevelopment,
		"prod":       EnvProduction,
		"production": EnvProduction,
		"testing":    EnvTesting,
	}
	for in, want := range cases {
		c := &Config{Environment: in, IdentityNamespace: "praxis"}
		if err := c.ResolveDefaults(); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if c.Environment != want {
			t.Fatalf("%s: got %s want %s", in, c.Environment, want)
		}
	}

	bad := &Config{Environment: "staging", IdentityNamespace: "praxis"}
	if err := bad.ResolveDefaults(); err == nil {
		t.Fatalf("expected error for unsupported environment")
	}
	if !(&Config{Environment: EnvProduction}).SecureCookies() {
		t.Fatalf("production must use secure cookies")
	}
}

func TestResolveDefaults_EmptyNamespace(t *testing.T) {
	c := &Config{Environment: EnvDevelopment, IdentityNamespace: "  "}
	if err := c.ResolveDefaults(); err == nil {
		t.Fatalf("expected error for empty namespace")
	}
}
