package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

const minimalJSON = `{
  "discord": {"token": "tok"},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "rotation": {
    "interval_seconds": 30,
    "steps": [{"text": "working", "emoji": {"name": "💻"}, "category": "work"}]
  }
}`

func TestParseJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "config.json", minimalJSON))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Discord.Token != "tok" {
		t.Errorf("token = %q", cfg.Discord.Token)
	}
	if got := len(cfg.Rotation.Steps); got != 1 {
		t.Fatalf("steps = %d", got)
	}
	if cfg.Rotation.Steps[0].Emoji == nil || cfg.Rotation.Steps[0].Emoji.Name != "💻" {
		t.Errorf("emoji = %+v", cfg.Rotation.Steps[0].Emoji)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	yaml := `
discord:
  token: tok
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
rotation:
  interval_seconds: 15
  randomize: true
  steps:
    - text: lunch
      category: away
`
	m := NewManager(writeTemp(t, "config.yaml", yaml))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Rotation.IntervalSeconds != 15 || !cfg.Rotation.Randomize {
		t.Errorf("rotation = %+v", cfg.Rotation)
	}
	if cfg.Rotation.Steps[0].Text != "lunch" {
		t.Errorf("steps = %+v", cfg.Rotation.Steps)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	bad := strings.Replace(minimalJSON, `"discord"`, `"discordd"`, 1)
	m := NewManager(writeTemp(t, "config.json", bad))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "config.json", minimalJSON+"{}"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected trailing-data error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Discord: DiscordConfig{Token: "tok"},
			Rotation: RotationConfig{
				IntervalSeconds: 30,
				Steps: []StepConfig{
					{Text: "hi", Category: "work"},
				},
			},
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"missing token", func(c *Config) { c.Discord.Token = " " }, "discord.token"},
		{"bad presence", func(c *Config) { c.Rotation.Steps[0].Presence = "busy" }, "presence"},
		{"emoji without name", func(c *Config) {
			c.Rotation.Steps[0].Emoji = &EmojiConfig{ID: "123"}
		}, "emoji"},
		{"bad request timeout", func(c *Config) { c.Discord.RequestTimeout = "soon" }, "request_timeout"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadCommitsAndGetReturnsIt(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "config.json", minimalJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	cfg := &Config{}
	m.publish(cfg)
	if got := <-ch; got != cfg {
		t.Fatal("subscriber did not receive published config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after Unsubscribe")
	}
}

func TestPublishDropsOldestOnFullSubscriber(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{}
	second := &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatal("expected newest config after overflow")
	}
}

func TestLoadRecoversInvalidRotationBlock(t *testing.T) {
	t.Parallel()
	bad := strings.Replace(minimalJSON, `"category": "work"`, `"category": "work", "presence": "busy"`, 1)
	m := NewManager(writeTemp(t, "config.json", bad))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load must boot despite a bad rotation block: %v", err)
	}
	if len(cfg.Rotation.Steps) != 0 {
		t.Fatalf("bad rotation block must be recovered as an empty step list, got %d steps", len(cfg.Rotation.Steps))
	}
	if m.Get() != cfg {
		t.Fatal("recovered config not committed")
	}
	// The strict reload path still rejects the same content outright.
	parsed, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := parsed.Validate(); err == nil {
		t.Fatal("Validate must still reject the bad rotation block")
	}
}

func TestLoadStillFatalWithoutToken(t *testing.T) {
	t.Parallel()
	bad := strings.Replace(minimalJSON, `"token": "tok"`, `"token": ""`, 1)
	m := NewManager(writeTemp(t, "config.json", bad))
	if _, err := m.Load(); err == nil {
		t.Fatal("missing discord token must refuse to boot")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"8s", 8 * time.Second, false},
		{"2m", 2 * time.Minute, false},
		{"-1s", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("x.y", tc.raw)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseDurationField(%q) error = %v, wantErr %v", tc.raw, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseDurationField(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}
