// Package messages renders outbound notices from localized string catalogs.
// Templates use html/template so values are escaped for Telegram's HTML parse mode.
package messages

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"sort"

	"github.com/tgassist/tgassist/internal/session"
)

const DefaultLanguage = "eng"

//go:embed messages_eng.json
var defaultEng []byte

// Catalog holds parsed templates per language. It is read-only after Load.
type Catalog struct {
	langs map[string]map[string]*template.Template
}

// Load returns the built-in English catalog, extended by the optional file.
// The file maps language tags to key/template objects and may override English.
func Load(path string) (*Catalog, error) {
	c := &Catalog{langs: make(map[string]map[string]*template.Template)}

	var eng map[string]string
	if err := json.Unmarshal(defaultEng, &eng); err != nil {
		return nil, fmt.Errorf("failed to parse built-in messages: %w", err)
	}
	if err := c.add(DefaultLanguage, eng); err != nil {
		return nil, err
	}

	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages file: %w", err)
	}
	var extra map[string]map[string]string
	if err := json.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("failed to parse messages file %s: %w", path, err)
	}
	for lang, entries := range extra {
		if err := c.add(lang, entries); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) add(lang string, entries map[string]string) error {
	set, ok := c.langs[lang]
	if !ok {
		set = make(map[string]*template.Template, len(entries))
		c.langs[lang] = set
	}
	for key, text := range entries {
		t, err := template.New(lang + "/" + key).Option("missingkey=error").Parse(text)
		if err != nil {
			return fmt.Errorf("message %s/%s: %w", lang, key, err)
		}
		set[key] = t
	}
	return nil
}

// Languages lists the loaded language tags
func (c *Catalog) Languages() []string {
	out := make([]string, 0, len(c.langs))
	for l := range c.langs {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) lookup(lang, key string) (*template.Template, bool) {
	if set, ok := c.langs[lang]; ok {
		if t, ok := set[key]; ok {
			return t, true
		}
	}
	t, ok := c.langs[DefaultLanguage][key]
	return t, ok
}

// keys lists template keys for a notice, most specific first
func keys(n session.Notice) []string {
	if n.Kind == session.KindModeGreeting && n.Mode.ID != "" {
		return []string{string(n.Kind) + "." + n.Mode.ID, string(n.Kind)}
	}
	return []string{string(n.Kind)}
}

// Render produces the HTML text for one notice
func (c *Catalog) Render(lang string, n session.Notice) (string, error) {
	for _, key := range keys(n) {
		t, ok := c.lookup(lang, key)
		if !ok {
			continue
		}
		var buf bytes.Buffer
		if err := t.Execute(&buf, n); err != nil {
			return "", fmt.Errorf("render %s: %w", key, err)
		}
		return buf.String(), nil
	}
	return "", fmt.Errorf("no message for %q", n.Kind)
}

// Text returns a static string such as a button label, or the key itself
func (c *Catalog) Text(lang, key string) string {
	t, ok := c.lookup(lang, key)
	if !ok {
		return key
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, nil); err != nil {
		return key
	}
	return buf.String()
}
