package observability

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/spec-kit/support-dispatch/internal/config"
)

func TestLoggerConfig(t *testing.T) {
	tests := []struct {
		name     string
		env      string
		wantDev  bool
		wantEnvF bool
	}{
		{name: "production", env: "production", wantEnvF: true},
		{name: "staging", env: "staging", wantEnvF: true},
		{name: "development", env: "development", wantDev: true, wantEnvF: true},
		{name: "local upper case", env: " Local ", wantDev: true, wantEnvF: true},
		{name: "unset", env: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := config.AppConfig{Name: "support-dispatch", Version: "1.4.0", Env: tt.env}
			got := loggerConfig(app, config.LoggerConfig{Level: "debug"})
			if got.Development != tt.wantDev {
				t.Errorf("Development = %v, want %v", got.Development, tt.wantDev)
			}
			want := map[string]interface{}{"service": "support-dispatch", "version": "1.4.0"}
			if tt.wantEnvF {
				want["env"] = tt.env
			}
			if diff := cmp.Diff(want, got.InitialFields); diff != "" {
				t.Errorf("initial fields (-want +got):\n%s", diff)
			}
			if lvl := got.Level.Level().String(); lvl != "debug" {
				t.Errorf("level = %s, want debug", lvl)
			}
		})
	}
}

func TestLoggerConfigUnknownLevelFallsBackToInfo(t *testing.T) {
	got := loggerConfig(config.AppConfig{Name: "support-dispatch"}, config.LoggerConfig{Level: "loud"})
	if lvl := got.Level.Level().String(); lvl != "info" {
		t.Errorf("level = %s, want info", lvl)
	}
}

func TestNewLoggerWriteTo(t *testing.T) {
	logger, err := NewLogger(config.AppConfig{Name: "autopatchctl", Env: "production"}, config.LoggerConfig{Level: "info"}, WriteTo("stderr"))
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger == nil {
		t.Fatal("nil logger")
	}
}
