package notifier

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-notify/internal/domain/entity"
)

func TestLoadCatalog_EmbeddedIsComplete(t *testing.T) {
	c, err := LoadCatalog()
	require.NoError(t, err)

	for _, typ := range entity.AllTypes {
		for _, ch := range entity.QueuedChannels {
			tpl, ok := c.Lookup(DefaultTemplateName(typ, ch))
			require.True(t, ok, "missing %s/%s", typ, ch)
			assert.Equal(t, typ, tpl.Category)
			assert.Equal(t, ch, tpl.Channel)
		}
	}
}

func TestCatalog_CategoryOf(t *testing.T) {
	c, err := LoadCatalog()
	require.NoError(t, err)

	cat, ok := c.CategoryOf("payment_receipt")
	assert.True(t, ok)
	assert.Equal(t, entity.TypePayment, cat)

	cat, ok = c.CategoryOf("no_such_template")
	assert.False(t, ok)
	assert.Empty(t, cat)
}

func TestCatalog_Render(t *testing.T) {
	c, err := LoadCatalog()
	require.NoError(t, err)

	subject, body, err := c.Render("grade_email", map[string]string{
		"title":      "Essay 2",
		"message":    "Your essay was graded.",
		"score":      "18",
		"max_score":  "20",
		"action_url": "/grades/42",
	})
	require.NoError(t, err)
	assert.Equal(t, "New grade: Essay 2", subject)
	assert.Contains(t, body, "Score: 18/20")
	assert.Contains(t, body, "Open: /grades/42")
	assert.NotContains(t, body, "<no value>")
}

func TestCatalog_Render_MissingVariablesAreEmpty(t *testing.T) {
	c, err := LoadCatalog()
	require.NoError(t, err)

	_, body, err := c.Render("grade_email", map[string]string{"message": "Graded."})
	require.NoError(t, err)
	assert.Equal(t, "Graded.", body)
}

func TestCatalog_Render_UnknownTemplateIsPermanent(t *testing.T) {
	c, err := LoadCatalog()
	require.NoError(t, err)

	_, _, err = c.Render("nope", nil)
	require.Error(t, err)
	assert.Equal(t, OutcomePermanent, Classify(err))
}

func TestParseCatalog_Invalid(t *testing.T) {
	complete := func(extra string) string {
		var b strings.Builder
		b.WriteString("templates:\n")
		for _, typ := range entity.AllTypes {
			for _, ch := range entity.QueuedChannels {
				b.WriteString("  - name: " + DefaultTemplateName(typ, ch) + "\n")
				b.WriteString("    category: " + string(typ) + "\n")
				b.WriteString("    channel: " + string(ch) + "\n")
				b.WriteString("    body: \"{{.message}}\"\n")
			}
		}
		b.WriteString(extra)
		return b.String()
	}

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "unknown category",
			doc:     complete("  - name: x\n    category: gossip\n    channel: email\n    body: hi\n"),
			wantErr: `unknown category "gossip"`,
		},
		{
			name:    "in-app channel",
			doc:     complete("  - name: x\n    category: grade\n    channel: in_app\n    body: hi\n"),
			wantErr: "not deliverable",
		},
		{
			name:    "duplicate name",
			doc:     complete("  - name: grade_email\n    category: grade\n    channel: email\n    body: hi\n"),
			wantErr: "duplicate name",
		},
		{
			name:    "unparseable body",
			doc:     complete("  - name: x\n    category: grade\n    channel: email\n    body: \"{{.message\"\n"),
			wantErr: `template "x": body`,
		},
		{
			name:    "missing default",
			doc:     "templates:\n  - name: grade_email\n    category: grade\n    channel: email\n    body: hi\n",
			wantErr: `missing template "grade_push"`,
		},
		{
			name:    "malformed yaml",
			doc:     "templates: [",
			wantErr: "parse template catalog",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := ParseCatalog([]byte(complete("")))
	assert.NoError(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeDelivered},
		{"permanent", Permanent("bad address", nil), OutcomePermanent},
		{"client error", &ClientError{StatusCode: 422}, OutcomePermanent},
		{"server error", &ServerError{StatusCode: 503}, OutcomeTransient},
		{"rate limit", &RateLimitError{}, OutcomeTransient},
		{"unknown", errors.New("connection reset"), OutcomeTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestCatalog_TemplateForAndChannelOf(t *testing.T) {
	c, err := LoadCatalog()
	require.NoError(t, err)

	assert.Equal(t, "grade_sms", c.TemplateFor(entity.TypeGrade, entity.ChannelSMS))

	ch, ok := c.ChannelOf("live_class_starting")
	assert.True(t, ok)
	assert.Equal(t, entity.ChannelPush, ch)

	_, ok = c.ChannelOf("missing")
	assert.False(t, ok)
}
