package notifier

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"school-notify/internal/domain/entity"
)

//go:embed templates.yaml
var defaultTemplates []byte

// Template is one named message layout for a single channel.
type Template struct {
	Name     string                  `yaml:"name"`
	Category entity.NotificationType `yaml:"category"`
	Channel  entity.Channel          `yaml:"channel"`
	Subject  string                  `yaml:"subject"`
	Body     string                  `yaml:"body"`

	subject *template.Template
	body    *template.Template
}

// Catalog is the fixed set of delivery templates. Every template belongs to
// exactly one notification type, which is what preference checks use.
type Catalog struct {
	byName map[string]*Template
}

type catalogFile struct {
	Templates []*Template `yaml:"templates"`
}

// LoadCatalog parses and validates the embedded templates.yaml.
func LoadCatalog() (*Catalog, error) {
	return ParseCatalog(defaultTemplates)
}

// ParseCatalog parses a catalog document and validates it.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse template catalog: %w", err)
	}

	c := &Catalog{byName: make(map[string]*Template, len(file.Templates))}
	var errs []error
	for _, t := range file.Templates {
		if t == nil || strings.TrimSpace(t.Name) == "" {
			errs = append(errs, errors.New("template without a name"))
			continue
		}
		if _, dup := c.byName[t.Name]; dup {
			errs = append(errs, fmt.Errorf("template %q: duplicate name", t.Name))
			continue
		}
		if err := t.compile(); err != nil {
			errs = append(errs, err)
			continue
		}
		c.byName[t.Name] = t
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (t *Template) compile() error {
	var err error
	if t.subject, err = template.New(t.Name + ".subject").Option("missingkey=zero").Parse(t.Subject); err != nil {
		return fmt.Errorf("template %q: subject: %w", t.Name, err)
	}
	if t.body, err = template.New(t.Name + ".body").Option("missingkey=zero").Parse(t.Body); err != nil {
		return fmt.Errorf("template %q: body: %w", t.Name, err)
	}
	return nil
}

// Validate checks that every template has a known category and a queued
// channel, and that every notification type has a default template
// (named <type>_<channel>) for each queued channel.
func (c *Catalog) Validate() error {
	var errs []error
	for name, t := range c.byName {
		if !t.Category.Valid() {
			errs = append(errs, fmt.Errorf("template %q: unknown category %q", name, t.Category))
		}
		if !isQueued(t.Channel) {
			errs = append(errs, fmt.Errorf("template %q: channel %q is not deliverable", name, t.Channel))
		}
		if strings.TrimSpace(t.Body) == "" {
			errs = append(errs, fmt.Errorf("template %q: empty body", name))
		}
	}
	for _, typ := range entity.AllTypes {
		for _, ch := range entity.QueuedChannels {
			name := DefaultTemplateName(typ, ch)
			t, ok := c.byName[name]
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("missing template %q", name))
			case t.Category != typ || t.Channel != ch:
				errs = append(errs, fmt.Errorf("template %q: must have category %s and channel %s", name, typ, ch))
			}
		}
	}
	return errors.Join(errs...)
}

func isQueued(ch entity.Channel) bool {
	for _, q := range entity.QueuedChannels {
		if q == ch {
			return true
		}
	}
	return false
}

// DefaultTemplateName is the template used when a notification of type t is
// delivered on channel ch.
func DefaultTemplateName(t entity.NotificationType, ch entity.Channel) string {
	return string(t) + "_" + string(ch)
}

// TemplateFor returns the name of the template that delivers type t on ch.
func (c *Catalog) TemplateFor(t entity.NotificationType, ch entity.Channel) string {
	return DefaultTemplateName(t, ch)
}

// Lookup returns the template called name.
func (c *Catalog) Lookup(name string) (*Template, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// CategoryOf returns the notification type a template belongs to. Unknown
// names are reported, never mapped to a fallback category.
func (c *Catalog) CategoryOf(name string) (entity.NotificationType, bool) {
	t, ok := c.byName[name]
	if !ok {
		return "", false
	}
	return t.Category, true
}

// ChannelOf returns the channel a template was written for.
func (c *Catalog) ChannelOf(name string) (entity.Channel, bool) {
	t, ok := c.byName[name]
	if !ok {
		return "", false
	}
	return t.Channel, true
}

// Render executes the named template. Unknown templates and execution
// errors are permanent failures.
func (c *Catalog) Render(name string, data map[string]string) (subject, body string, err error) {
	t, ok := c.byName[name]
	if !ok {
		return "", "", Permanent("unknown template "+name, nil)
	}
	var sb, bb strings.Builder
	if err := t.subject.Execute(&sb, data); err != nil {
		return "", "", Permanent("render subject", err)
	}
	if err := t.body.Execute(&bb, data); err != nil {
		return "", "", Permanent("render body", err)
	}
	return sb.String(), bb.String(), nil
}
