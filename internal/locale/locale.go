// Package locale renders the direct message that carries a magic link in
// the recipient's language.
package locale

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"nostr_magiclink/internal/sanitize"
)

const Default = "en"

type Direction string

const (
	LTR Direction = "ltr"
	RTL Direction = "rtl"
)

const (
	leftToRightMark = "\u200e"
	rightToLeftMark = "\u200f"
)

// Mark returns the Unicode direction mark for d.
func (d Direction) Mark() string {
	if d == RTL {
		return rightToLeftMark
	}
	return leftToRightMark
}

type ContextTemplates struct {
	Location      string
	Device        string
	LastLogin     string
	RequestSource string
}

type Templates struct {
	Title       string
	Alternative string
	Expiry      string
	SecurityTip string
	Context     ContextTemplates
}

type Messages struct {
	Direction Direction
	MagicLink Templates
}

// Context describes the request that triggered a magic link. Empty fields
// are left out of the message.
type Context struct {
	Location      string `json:"location,omitempty"`
	Device        string `json:"device,omitempty"`
	LastLogin     string `json:"lastLogin,omitempty"`
	RequestSource string `json:"requestSource,omitempty"`
}

type Params struct {
	AppName       string
	MagicLink     string
	ExpiryMinutes int
	Context       *Context
}

// Message IDs in the bundle.
const (
	msgTitle         = "magiclink.title"
	msgAlternative   = "magiclink.alternative"
	msgExpiry        = "magiclink.expiry"
	msgSecurityTip   = "magiclink.securityTip"
	msgLocation      = "magiclink.context.location"
	msgDevice        = "magiclink.context.device"
	msgLastLogin     = "magiclink.context.lastLogin"
	msgRequestSource = "magiclink.context.requestSource"
)

var (
	placeholder = regexp.MustCompile(`\{\{(\w+)\}\}`)
	bundle      = newBundle()
)

func newBundle() *i18n.Bundle {
	b := i18n.NewBundle(language.MustParse(Default))
	for code, m := range catalog {
		t := m.MagicLink
		b.MustAddMessages(language.MustParse(code),
			&i18n.Message{ID: msgTitle, Other: t.Title},
			&i18n.Message{ID: msgAlternative, Other: t.Alternative},
			&i18n.Message{ID: msgExpiry, Other: t.Expiry},
			&i18n.Message{ID: msgSecurityTip, Other: t.SecurityTip},
			&i18n.Message{ID: msgLocation, Other: t.Context.Location},
			&i18n.Message{ID: msgDevice, Other: t.Context.Device},
			&i18n.Message{ID: msgLastLogin, Other: t.Context.LastLogin},
			&i18n.Message{ID: msgRequestSource, Other: t.Context.RequestSource},
		)
	}
	return b
}

// localize renders id for the localizer. Missing or broken messages
// render as "".
func localize(l *i18n.Localizer, id string, data map[string]string) string {
	msg, err := l.Localize(&i18n.LocalizeConfig{MessageID: id, TemplateData: data})
	if err != nil {
		return ""
	}
	return msg
}

// Supported lists the known locale codes in sorted order.
func Supported() []string {
	codes := make([]string, 0, len(catalog))
	for code := range catalog {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}

// Resolve maps a requested locale to a supported one. Region subtags are
// ignored ("pt-BR" resolves to "pt"); anything unknown resolves to Default.
func Resolve(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if _, ok := catalog[code]; ok {
		return code
	}
	if base, _, found := strings.Cut(code, "-"); found {
		if _, ok := catalog[base]; ok {
			return base
		}
	}
	return Default
}

func Lookup(code string) Messages {
	return catalog[Resolve(code)]
}

func DirectionOf(code string) Direction {
	return Lookup(code).Direction
}

// Interpolate replaces {{key}} with vars[key]. Placeholders without a
// non-empty value are kept as they are.
func Interpolate(template string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		key := m[2 : len(m)-2]
		if v, ok := vars[key]; ok && v != "" {
			return v
		}
		return m
	})
}

// Format renders the standard magic link message for code.
func Format(code string, p Params) string {
	code = Resolve(code)
	l := i18n.NewLocalizer(bundle, code)
	mark := catalog[code].Direction.Mark()

	app := map[string]string{"appName": sanitize.PlainText(p.AppName)}
	link := sanitize.URL(p.MagicLink)

	parts := []string{
		localize(l, msgTitle, app),
		"",
		mark + link,
		"",
		localize(l, msgAlternative, app),
		mark + link,
	}
	if p.ExpiryMinutes > 0 {
		parts = append(parts, "", localize(l, msgExpiry, map[string]string{"minutes": strconv.Itoa(p.ExpiryMinutes)}))
	}
	parts = append(parts, "", localize(l, msgSecurityTip, nil))

	if lines := contextLines(l, p.Context); len(lines) > 0 {
		parts = append(parts, "")
		parts = append(parts, lines...)
	}
	return strings.Join(parts, "\n")
}

func contextLines(l *i18n.Localizer, c *Context) []string {
	if c == nil {
		return nil
	}
	fields := []struct {
		id, key, value string
	}{
		{msgLocation, "location", c.Location},
		{msgDevice, "device", c.Device},
		{msgLastLogin, "lastLogin", c.LastLogin},
		{msgRequestSource, "requestSource", c.RequestSource},
	}

	var lines []string
	for _, f := range fields {
		v := sanitize.PlainText(f.value)
		if v == "" {
			continue
		}
		if line := localize(l, f.id, map[string]string{f.key: v}); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Custom renders a caller supplied template. {{link}} receives the magic
// link; every other placeholder is filled from vars after sanitizing. RTL
// messages are wrapped in right-to-left marks.
func Custom(template string, dir Direction, link string, vars map[string]string) string {
	all := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		all[k] = sanitize.PlainText(v)
	}
	all["link"] = sanitize.URL(link)

	msg := Interpolate(template, all)
	if dir == RTL {
		msg = rightToLeftMark + msg + rightToLeftMark
	}
	return msg
}
