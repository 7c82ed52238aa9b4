package config

import "testing"

func TestNewWithDefaults(t *testing.T) {
	cfg := NewWithDefaults()
	if cfg.Timeouts.PingMs != 500 {
		t.Errorf("PingMs = %d, want 500", cfg.Timeouts.PingMs)
	}
	if cfg.Timeouts.HTTPMs != 3000 {
		t.Errorf("HTTPMs = %d, want 3000", cfg.Timeouts.HTTPMs)
	}
	if cfg.Timeouts.ProbePerPortMs != 1000 {
		t.Errorf("ProbePerPortMs = %d, want 1000", cfg.Timeouts.ProbePerPortMs)
	}
	if cfg.History.Retention != 30 {
		t.Errorf("Retention = %d, want 30", cfg.History.Retention)
	}
}

func TestTimeoutsDurationConversions(t *testing.T) {
	tm := Timeouts{PingMs: 500, HTTPMs: 3000, ProbePerPortMs: 1000}
	if tm.Ping().Milliseconds() != 500 {
		t.Errorf("Ping() = %v, want 500ms", tm.Ping())
	}
	if tm.HTTP().Milliseconds() != 3000 {
		t.Errorf("HTTP() = %v, want 3000ms", tm.HTTP())
	}
	if tm.ProbePerPort().Milliseconds() != 1000 {
		t.Errorf("ProbePerPort() = %v, want 1000ms", tm.ProbePerPort())
	}
}
