package notifier

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/Masterminds/sprig/v3"

	"github.com/delivops/argocd-notifier/internal/types"
)

// DefaultHeaderTemplate is the header line of every message.
const DefaultHeaderTemplate = "{{ .Emoji }} *{{ .Name }}* " +
	"{{ if .Deleted }}was deleted{{ else if .InProgress }}is deploying{{ else }}deployed{{ end }}" +
	"{{ with .Revision }} `{{ trunc 7 . }}`{{ end }}" +
	"{{ with .DestinationNamespace }} to `{{ . }}`{{ end }}"

// maxSectionText is Slack's limit for the text of one section block.
const maxSectionText = 3000

const truncatedNote = "… (truncated)\n"

// FormatterOptions configures message rendering.
type FormatterOptions struct {
	// ArgoCDURL is the base URL of the Argo CD UI. Empty disables links.
	ArgoCDURL string

	// HeaderTemplate overrides DefaultHeaderTemplate.
	HeaderTemplate string
}

// Formatter renders Messages into Slack text and blocks.
type Formatter struct {
	argoURL string
	header  *template.Template
}

// TextObject is a Slack text composition object.
type TextObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Block is the subset of Slack layout blocks the notifier emits.
type Block struct {
	Type     string       `json:"type"`
	Text     *TextObject  `json:"text,omitempty"`
	Elements []TextObject `json:"elements,omitempty"`
}

// headerData is the template context of the header line.
type headerData struct {
	Name                 string
	Namespace            string
	Emoji                string
	Health               string
	Sync                 string
	Revision             string
	DestinationNamespace string
	InProgress           bool
	Deleted              bool
}

// NewFormatter parses the header template.
func NewFormatter(opts FormatterOptions) (*Formatter, error) {
	src := opts.HeaderTemplate
	if src == "" {
		src = DefaultHeaderTemplate
	}
	tmpl, err := template.New("header").Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse header template: %w", err)
	}
	return &Formatter{
		argoURL: strings.TrimRight(opts.ArgoCDURL, "/"),
		header:  tmpl,
	}, nil
}

// Header renders the header line of msg.
func (f *Formatter) Header(msg Message) (string, error) {
	var buf bytes.Buffer
	err := f.header.Execute(&buf, headerData{
		Name:                 msg.Identity.Name,
		Namespace:            msg.Identity.Namespace,
		Emoji:                Emoji(msg),
		Health:               string(msg.Snapshot.Health),
		Sync:                 string(msg.Snapshot.Sync),
		Revision:             msg.Snapshot.Revision,
		DestinationNamespace: msg.Snapshot.DestinationNamespace,
		InProgress:           msg.InProgress,
		Deleted:              msg.Deleted,
	})
	if err != nil {
		return "", fmt.Errorf("render header: %w", err)
	}
	return buf.String(), nil
}

// Status renders the sync/health line of msg.
func (f *Formatter) Status(msg Message) string {
	status := fmt.Sprintf("Sync: *%s* | Health: *%s*", orUnknown(string(msg.Snapshot.Sync)), orUnknown(string(msg.Snapshot.Health)))
	if link := f.Link(msg.Identity); link != "" {
		status += fmt.Sprintf(" | <%s|Open in Argo CD>", link)
	}
	return status
}

// Link returns the Argo CD UI URL of the application, or "".
func (f *Formatter) Link(id types.ResourceIdentity) string {
	if f.argoURL == "" {
		return ""
	}
	if id.Namespace == "" {
		return f.argoURL + "/applications/" + url.PathEscape(id.Name)
	}
	return f.argoURL + "/applications/" + url.PathEscape(id.Namespace) + "/" + url.PathEscape(id.Name)
}

// Text renders the plain-text fallback of msg.
func (f *Formatter) Text(msg Message) (string, error) {
	header, err := f.Header(msg)
	if err != nil {
		return "", err
	}
	text := header + "\n" + f.Status(msg)
	if msg.Changes != "" {
		text += "\n" + codeBlock(msg.Changes)
	}
	return text, nil
}

// Blocks renders msg as Slack blocks.
func (f *Formatter) Blocks(msg Message) ([]Block, error) {
	header, err := f.Header(msg)
	if err != nil {
		return nil, err
	}
	blocks := []Block{
		{Type: "section", Text: &TextObject{Type: "mrkdwn", Text: header}},
		{Type: "context", Elements: []TextObject{{Type: "mrkdwn", Text: f.Status(msg)}}},
	}
	if msg.Changes != "" {
		blocks = append(blocks, Block{
			Type: "section",
			Text: &TextObject{Type: "mrkdwn", Text: codeBlock(msg.Changes)},
		})
	}
	return blocks, nil
}

// Emoji picks the status emoji of msg.
func Emoji(msg Message) string {
	switch {
	case msg.Deleted:
		return ":wastebasket:"
	case msg.Snapshot.Health == types.HealthDegraded:
		return ":x:"
	case msg.Snapshot.Health == types.HealthMissing, msg.Snapshot.Health == types.HealthSuspended:
		return ":warning:"
	case msg.Snapshot.Settled():
		return ":white_check_mark:"
	default:
		return ":hourglass_flowing_sand:"
	}
}

func codeBlock(s string) string {
	const fence = "```"
	return fence + "\n" + truncate(s, maxSectionText-2*len(fence)-2) + "\n" + fence
}

// truncate keeps the last n bytes of s, starting on a line boundary when
// possible. The newest merged changes are at the end.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	keep := n - len(truncatedNote)
	if keep < 0 {
		keep = 0
	}
	start := len(s) - keep
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	if start > 0 && s[start-1] != '\n' {
		if i := strings.IndexByte(s[start:], '\n'); i >= 0 && start+i+1 < len(s) {
			start += i + 1
		}
	}
	return truncatedNote + s[start:]
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
