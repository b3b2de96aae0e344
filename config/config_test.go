package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"HOST", "PORT", "ALLOWED_ORIGINS", "REDIS_URL", "STUN_URLS", "TURN_URL", "TURN_USERNAME", "TURN_CREDENTIAL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Addr(); got != "0.0.0.0:8080" {
		t.Fatalf("addr = %q", got)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("allowed origins = %#v", cfg.AllowedOrigins)
	}
	if cfg.RedisURL != "" {
		t.Fatalf("expected persistence disabled, got %q", cfg.RedisURL)
	}

	servers, err := cfg.ICE.Servers()
	if err != nil {
		t.Fatalf("servers: %v", err)
	}
	if len(servers) != 1 || len(servers[0].URLs) < 2 {
		t.Fatalf("expected at least two default STUN urls, got %#v", servers)
	}
}

func TestLoad_TURN(t *testing.T) {
	t.Setenv("STUN_URLS", "stun:stun.example.com:3478")
	t.Setenv("TURN_URL", "turn:turn.example.com:3478?transport=udp")
	t.Setenv("TURN_USERNAME", "user")
	t.Setenv("TURN_CREDENTIAL", "pass")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	servers, err := cfg.ICE.Servers()
	if err != nil {
		t.Fatalf("servers: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if servers[1].Username != "user" {
		t.Fatalf("unexpected username: %q", servers[1].Username)
	}
	if cred, ok := servers[1].Credential.(string); !ok || cred != "pass" {
		t.Fatalf("unexpected credential: %#v", servers[1].Credential)
	}
}

func TestLoad_RejectsTURNWithoutCreds(t *testing.T) {
	t.Setenv("TURN_URL", "turn:turn.example.com:3478")
	t.Setenv("TURN_USERNAME", "")
	t.Setenv("TURN_CREDENTIAL", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestICEConfig_RejectsUnknownScheme(t *testing.T) {
	cfg := ICEConfig{STUNURLs: []string{"http://stun.example.com"}}
	if _, err := cfg.Servers(); err == nil {
		t.Fatalf("expected error")
	}
}
