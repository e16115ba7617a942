package responder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMenu_BuiltIn(t *testing.T) {
	m, err := LoadMenu("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Brand != "ISAZAP" || m.Operator != "5541985270469" {
		t.Errorf("unexpected header %q %q", m.Brand, m.Operator)
	}
	for _, code := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		if got, _ := m.Lookup(code); got != code {
			t.Errorf("code %s not matched", code)
		}
	}
	if len(m.Greetings) != 3 {
		t.Errorf("expected 3 greetings, got %d", len(m.Greetings))
	}
}

func TestMenu_MediaFiles(t *testing.T) {
	m, err := LoadMenu("")
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Join(m.MediaFiles(), ",")
	if got != "indice.pdf,isazap.png,isazap_descricao.ogg" {
		t.Errorf("unexpected media files %q", got)
	}
}

func TestLookup_ExactMatchOnly(t *testing.T) {
	m, err := LoadMenu("")
	if err != nil {
		t.Fatal(err)
	}
	for _, body := range []string{" 1", "1 ", "01", "8", "0", "opção 1"} {
		if code, s := m.Lookup(body); code != "" || len(s.Steps) != len(m.Default.Steps) {
			t.Errorf("%q should fall back to the default script", body)
		}
	}
}

func TestParseMenu_Override(t *testing.T) {
	src := `
brand: ACME
operator: "5511999990000"
greetings: ["Oi {{.Name}}"]
scripts:
  "9":
    steps:
      - after: 250ms
        actions:
          - kind: text
            text: "{{.Brand}} para {{.Number}}"
default:
  steps:
    - actions:
        - kind: reply
          text: "{{.Greeting}}!"
`
	path := filepath.Join(t.TempDir(), "menu.yaml")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadMenu(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, s := m.Lookup("9")
	if len(s.Steps) != 1 || s.Steps[0].After != 250*time.Millisecond {
		t.Fatalf("unexpected script %+v", s)
	}
	out, err := s.Steps[0].Actions[0].render(TemplateData{Brand: "ACME", Number: "5541"})
	if err != nil || out != "ACME para 5541" {
		t.Errorf("render = %q, %v", out, err)
	}
	if g := m.greeting(0, TemplateData{Name: "Ana"}); g != "Oi Ana" {
		t.Errorf("greeting = %q", g)
	}
}

func TestParseMenu_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown kind": `
default:
  steps:
    - actions:
        - kind: shout
          text: hi`,
		"missing default": `
scripts:
  "1":
    steps:
      - actions:
          - kind: reply
            text: hi`,
		"relay without operator": `
default:
  steps:
    - actions:
        - kind: relay
          text: hi`,
		"media without file": `
default:
  steps:
    - actions:
        - kind: media`,
		"bad template": `
default:
  steps:
    - actions:
        - kind: reply
          text: "{{.Name"`,
		"negative delay": `
default:
  steps:
    - after: -1s
      actions:
        - kind: reply
          text: hi`,
		"not yaml": "default: [",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseMenu([]byte(src), "test"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseMenu_AggregatesErrors(t *testing.T) {
	src := `
default:
  steps:
    - actions:
        - kind: shout
        - kind: media
`
	_, err := ParseMenu([]byte(src), "test")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "unknown kind") || !strings.Contains(err.Error(), "file is required") {
		t.Errorf("expected both problems reported, got %v", err)
	}
}

func TestDefaultMenuYAML_IsCopy(t *testing.T) {
	a := DefaultMenuYAML()
	a[0] = 'X'
	if DefaultMenuYAML()[0] == 'X' {
		t.Error("DefaultMenuYAML must return a copy")
	}
}
