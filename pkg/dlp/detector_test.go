package dlp

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDetectorRedactsDefaultPatterns(t *testing.T) {
	detector, err := NewDetector(DefaultRules())
	if err != nil {
		t.Fatalf("failed to create detector: %v", err)
	}

	text := "ID 1-2345-67890-12-3, call 081-234-5678 or mail somchai@example.co.th, seen 02/03/2024"
	findings := detector.Detect(text)
	types := map[string]bool{}
	for _, f := range findings {
		types[f.Type] = true
	}
	for _, want := range []string{"national_id", "phone", "email", "date"} {
		if !types[want] {
			t.Fatalf("expected %s finding, got %+v", want, findings)
		}
	}
	for i := 1; i < len(findings); i++ {
		if findings[i].Start < findings[i-1].Start {
			t.Fatalf("findings not ordered: %+v", findings)
		}
	}

	redacted := detector.Redact(text)
	for _, leak := range []string{"1-2345-67890-12-3", "081-234-5678", "somchai@example.co.th", "02/03/2024"} {
		if strings.Contains(redacted, leak) {
			t.Fatalf("%q survived redaction: %s", leak, redacted)
		}
	}
	if !strings.Contains(redacted, "[PHONE]") {
		t.Fatalf("expected phone mask in %s", redacted)
	}
}

func TestRedactValueNested(t *testing.T) {
	detector, _ := NewDetector(DefaultRules())
	value := map[string]any{
		"note":  "reach me at a@b.io",
		"items": []any{"ok", "0812345678"},
		"temp":  38.5,
	}
	out := detector.RedactValue(value).(map[string]any)
	if out["note"] != "reach me at [EMAIL]" || out["items"].([]any)[1] != "[PHONE]" || out["temp"] != 38.5 {
		t.Fatalf("unexpected redaction %+v", out)
	}
	if value["note"] != "reach me at a@b.io" {
		t.Fatalf("input must not be modified")
	}
}

func TestNilDetectorPassesThrough(t *testing.T) {
	var d *Detector
	if d.Redact("a@b.io") != "a@b.io" || d.Detect("a@b.io") != nil {
		t.Fatalf("nil detector must be a no-op")
	}
}

func TestLoadRules(t *testing.T) {
	cfg, err := LoadRules("")
	if err != nil || len(cfg.Rules) == 0 {
		t.Fatalf("expected default rules, got %v %v", cfg, err)
	}

	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := "rules:\n  - name: HN\n    type: hospital_number\n    pattern: 'HN\\d{6}'\n    mask: '[HN]'\n    enabled: true\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = LoadRules(path)
	if err != nil || len(cfg.Rules) != 1 {
		t.Fatalf("unexpected rules %v %v", cfg, err)
	}
	d, err := NewDetector(cfg)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if got := d.Redact("record HN123456"); got != "record [HN]" {
		t.Fatalf("unexpected %q", got)
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	_ = os.WriteFile(empty, []byte("rules: []\n"), 0o600)
	if _, err := LoadRules(empty); err == nil {
		t.Fatalf("expected error for empty rule set")
	}
	if _, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
