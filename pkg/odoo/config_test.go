package odoo

import (
	"testing"
	"time"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{URL: "https://erp.example.com/"}.withDefaults()
	if cfg.Protocol != ProtocolJSON2 {
		t.Fatalf("expected JSON/2 default, got %q", cfg.Protocol)
	}
	if cfg.Timeout != DefaultTimeout || cfg.DefaultLimit != DefaultLimit || cfg.MaxLimit != DefaultMaxLimit {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.URL != "https://erp.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.URL)
	}

	explicit := Config{
		URL:          "https://erp.example.com",
		Protocol:     ProtocolXMLRPC,
		Timeout:      5 * time.Second,
		DefaultLimit: 25,
		MaxLimit:     250,
	}.withDefaults()
	if explicit.Protocol != ProtocolXMLRPC || explicit.Timeout != 5*time.Second ||
		explicit.DefaultLimit != 25 || explicit.MaxLimit != 250 {
		t.Fatalf("explicit values were overwritten: %+v", explicit)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{URL: "https://erp.example.com", Protocol: ProtocolJSON2}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing url", Config{Protocol: ProtocolJSON2}},
		{"bad scheme", Config{URL: "ftp://erp.example.com", Protocol: ProtocolJSON2}},
		{"no host", Config{URL: "https://", Protocol: ProtocolJSON2}},
		{"unknown protocol", Config{URL: "https://erp.example.com", Protocol: "soap"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); !IsKind(err, KindConfig) {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}
}

func TestNewSelectsBackend(t *testing.T) {
	conn, err := New(Config{URL: "https://erp.example.com"}, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := conn.(*JSON2Conn); !ok {
		t.Fatalf("expected JSON/2 backend, got %T", conn)
	}

	conn, err = New(Config{URL: "https://erp.example.com", Protocol: ProtocolXMLRPC}, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := conn.(*XMLRPCConn); !ok {
		t.Fatalf("expected XML-RPC backend, got %T", conn)
	}
	if _, ok := conn.(StatsReporter); !ok {
		t.Fatal("expected XML-RPC backend to report perf stats")
	}

	if _, err := New(Config{}, testLogger()); !IsKind(err, KindConfig) {
		t.Fatalf("expected config error for empty config, got %v", err)
	}
}
