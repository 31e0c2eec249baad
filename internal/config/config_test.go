package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"unionbot/internal/sched"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sampleYAML = `
telegram:
  token: "123:abc"
  parse_mode: "HTML"
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/bot.db
  busy_timeout: 5s
notify:
  rate_per_sec: 20
  burst: 4
status:
  enabled: true
  addr: "127.0.0.1:8091"
scheduler:
  exec_timeout: 15s
  kinds:
    reminder:
      tick: 30s
      windows:
        deliver:
          open: "-3m"
          close: "0s"
    announcement:
      tick: 10s
`

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if !cfg.Logging.Console || cfg.Logging.Level != "debug" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get does not return the committed config")
	}

	sc, err := cfg.StorageConfigValue()
	if err != nil {
		t.Fatalf("storage config: %v", err)
	}
	if sc.Driver != "sqlite" || sc.BusyTimeout != 5*time.Second {
		t.Fatalf("storage = %+v", sc)
	}

	nc := cfg.NotifyConfigValue()
	if nc.PerSecond != 20 || nc.Burst != 4 {
		t.Fatalf("notify = %+v", nc)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", "telegram:\n  token: x\n  typo_field: 1\n")
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestSchedConfigOverrides(t *testing.T) {
	path := writeConfig(t, "config.yaml", sampleYAML)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	sc, err := cfg.SchedConfig()
	if err != nil {
		t.Fatalf("sched config: %v", err)
	}
	if sc.ExecTimeout != 15*time.Second {
		t.Fatalf("exec timeout = %s", sc.ExecTimeout)
	}
	if sc.Ticks[sched.KindReminder] != 30*time.Second {
		t.Fatalf("reminder tick = %s", sc.Ticks[sched.KindReminder])
	}
	if sc.Ticks[sched.KindAnnouncement] != 10*time.Second {
		t.Fatalf("announcement tick = %s", sc.Ticks[sched.KindAnnouncement])
	}
	w := sc.Windows[sched.KindReminder][sched.PhaseDeliver]
	if w.Open != -3*time.Minute || w.Close != 0 || w.Unbounded {
		t.Fatalf("deliver window = %+v", w)
	}
}

func TestSchedConfigRejectsUnknownNames(t *testing.T) {
	cfg := &Config{Scheduler: SchedulerConfig{Kinds: map[string]KindConfig{
		"bogus": {Tick: "10s"},
	}}}
	if _, err := cfg.SchedConfig(); err == nil {
		t.Fatal("unknown kind accepted")
	}

	cfg = &Config{Scheduler: SchedulerConfig{Kinds: map[string]KindConfig{
		"reminder": {Windows: map[string]WindowConfig{"bogus": {Open: "-1m"}}},
	}}}
	if _, err := cfg.SchedConfig(); err == nil {
		t.Fatal("unknown phase accepted")
	}

	cfg = &Config{Scheduler: SchedulerConfig{Kinds: map[string]KindConfig{
		"reminder": {Tick: "soon"},
	}}}
	if _, err := cfg.SchedConfig(); err == nil {
		t.Fatal("bad duration accepted")
	}
}

func TestDurationFields(t *testing.T) {
	if d, err := ParseDurationField("x", " 90s "); err != nil || d != 90*time.Second {
		t.Fatalf("d=%s err=%v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: d=%s err=%v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative accepted by unsigned parser")
	}
	if d, err := ParseSignedDurationField("x", "-5s"); err != nil || d != -5*time.Second {
		t.Fatalf("signed: d=%s err=%v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: d=%s err=%v", d, err)
	}
}

func TestCoerceYAMLKeysToStrings(t *testing.T) {
	jb, format, err := coerceToJSONBytes("c.yaml", []byte("a:\n  1: one\n  2: two\n"))
	if err != nil {
		t.Fatalf("coerce: %v", err)
	}
	if format != "yaml" {
		t.Fatalf("format = %q", format)
	}
	want := `{"a":{"1":"one","2":"two"}}`
	if string(jb) != want {
		t.Fatalf("json = %s, want %s", jb, want)
	}
}
