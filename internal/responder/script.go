package responder

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"text/template"
	"time"
)

// Action kinds.
const (
	ActionReply = "reply" // quoted text reply into the originating chat
	ActionText  = "text"  // plain text into the originating chat
	ActionMedia = "media" // file from the assets dir into the originating chat
	ActionRelay = "relay" // text to the operator and configured notifiers
)

// Menu is the code→script table plus the shared copy it draws on.
// It is built once at start and never mutated.
type Menu struct {
	Brand     string            `yaml:"brand"`
	Operator  string            `yaml:"operator"` // digits of the operator's number
	Greetings []string          `yaml:"greetings"`
	Scripts   map[string]Script `yaml:"scripts"`
	Default   Script            `yaml:"default"`

	greetings []*template.Template
}

// Script is an ordered list of steps run for one inbound message.
type Script struct {
	Steps []Step `yaml:"steps"`
}

// Step runs its actions in order once After (plus up to Jitter) has elapsed.
type Step struct {
	After   time.Duration `yaml:"after"`
	Jitter  time.Duration `yaml:"jitter"`
	Actions []Action      `yaml:"actions"`
}

type Action struct {
	Kind         string `yaml:"kind"`
	Text         string `yaml:"text,omitempty"`
	File         string `yaml:"file,omitempty"`
	Caption      string `yaml:"caption,omitempty"`
	Voice        bool   `yaml:"voice,omitempty"`        // send audio as a voice note
	IgnoreErrors bool   `yaml:"ignoreErrors,omitempty"` // failures are logged and the step continues

	text *template.Template
}

// TemplateData is what text templates render against.
type TemplateData struct {
	Name     string // contact display name
	Number   string // contact digits
	Greeting string
	Brand    string
}

// Lookup returns the script for an exact code match, or the default script.
func (m *Menu) Lookup(body string) (string, Script) {
	if s, ok := m.Scripts[body]; ok {
		return body, s
	}
	return "", m.Default
}

// compile parses every template and checks the menu is usable.
func (m *Menu) compile() error {
	var errs []string

	if strings.TrimSpace(m.Operator) == "" && usesRelay(m) {
		errs = append(errs, "operator is required when a relay action is used")
	}

	m.greetings = m.greetings[:0]
	for i, g := range m.Greetings {
		t, err := template.New(fmt.Sprintf("greeting-%d", i)).Parse(g)
		if err != nil {
			errs = append(errs, fmt.Sprintf("greetings[%d]: %v", i, err))
			continue
		}
		m.greetings = append(m.greetings, t)
	}

	for code, s := range m.Scripts {
		if code == "" {
			errs = append(errs, "scripts: empty code")
		}
		errs = append(errs, compileScript("scripts."+code, &s)...)
		m.Scripts[code] = s
	}
	errs = append(errs, compileScript("default", &m.Default)...)
	if len(m.Default.Steps) == 0 {
		errs = append(errs, "default: at least one step is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid menu:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (m *Menu) eachAction(fn func(a Action)) {
	walk := func(s Script) {
		for _, st := range s.Steps {
			for _, a := range st.Actions {
				fn(a)
			}
		}
	}
	for _, s := range m.Scripts {
		walk(s)
	}
	walk(m.Default)
}

func usesRelay(m *Menu) bool {
	found := false
	m.eachAction(func(a Action) {
		if a.Kind == ActionRelay {
			found = true
		}
	})
	return found
}

// MediaFiles lists the distinct files the menu sends, sorted.
func (m *Menu) MediaFiles() []string {
	var files []string
	m.eachAction(func(a Action) {
		if a.Kind == ActionMedia && !slices.Contains(files, a.File) {
			files = append(files, a.File)
		}
	})
	slices.Sort(files)
	return files
}

func compileScript(name string, s *Script) []string {
	var errs []string
	for i := range s.Steps {
		st := &s.Steps[i]
		if st.After < 0 || st.Jitter < 0 {
			errs = append(errs, fmt.Sprintf("%s.steps[%d]: negative delay", name, i))
		}
		if len(st.Actions) == 0 {
			errs = append(errs, fmt.Sprintf("%s.steps[%d]: no actions", name, i))
		}
		for j := range st.Actions {
			a := &st.Actions[j]
			where := fmt.Sprintf("%s.steps[%d].actions[%d]", name, i, j)
			switch a.Kind {
			case ActionReply, ActionText, ActionRelay:
				if a.Text == "" {
					errs = append(errs, where+": text is required")
					continue
				}
			case ActionMedia:
				if a.File == "" {
					errs = append(errs, where+": file is required")
				}
				continue
			default:
				errs = append(errs, fmt.Sprintf("%s: unknown kind %q", where, a.Kind))
				continue
			}
			t, err := template.New(where).Parse(a.Text)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", where, err))
				continue
			}
			a.text = t
		}
	}
	return errs
}

// render executes the action's text template.
func (a *Action) render(data TemplateData) (string, error) {
	if a.text == nil {
		return a.Text, nil
	}
	var buf bytes.Buffer
	if err := a.text.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s text: %w", a.Kind, err)
	}
	return buf.String(), nil
}

// greeting renders greeting i, or "" when the menu has none.
func (m *Menu) greeting(i int, data TemplateData) string {
	if len(m.greetings) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := m.greetings[i%len(m.greetings)].Execute(&buf, data); err != nil {
		return m.Greetings[i%len(m.greetings)]
	}
	return buf.String()
}
