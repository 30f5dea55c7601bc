package services

import (
	"context"
	"html"
	"regexp"
	"strings"

	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"chat-plugin/internal/models"
)

// MentionSet is what a cooked message mentions.
type MentionSet struct {
	Usernames []string
	Groups    []string
	Here      bool
	All       bool
}

// Empty reports whether nothing is mentioned.
func (m MentionSet) Empty() bool {
	return len(m.Usernames) == 0 && len(m.Groups) == 0 && !m.Here && !m.All
}

// ExtractMentions reads mentions from cooked HTML. Only anchors with class
// mention or mention-group count, and nothing inside code or pre.
func ExtractMentions(cooked string) MentionSet {
	var set MentionSet
	doc, err := nethtml.Parse(strings.NewReader(cooked))
	if err != nil {
		return set
	}
	seenUsers := map[string]bool{}
	seenGroups := map[string]bool{}

	var walk func(n *nethtml.Node)
	walk = func(n *nethtml.Node) {
		if n.Type == nethtml.ElementNode {
			switch n.DataAtom {
			case atom.Code, atom.Pre:
				return
			case atom.A:
				name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(textOf(n)), "@"))
				switch {
				case name == "":
				case hasClass(n, "mention-group"):
					if !seenGroups[name] {
						seenGroups[name] = true
						set.Groups = append(set.Groups, name)
					}
				case hasClass(n, "mention"):
					switch name {
					case "here":
						set.Here = true
					case "all":
						set.All = true
					default:
						if !seenUsers[name] {
							seenUsers[name] = true
							set.Usernames = append(set.Usernames, name)
						}
					}
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return set
}

func hasClass(n *nethtml.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func textOf(n *nethtml.Node) string {
	var b strings.Builder
	var walk func(*nethtml.Node)
	walk = func(n *nethtml.Node) {
		if n.Type == nethtml.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// Cooker renders raw message text to HTML.
type Cooker interface {
	Cook(ctx context.Context, raw string) (string, error)
}

// GroupFinder resolves mentionable group names.
type GroupFinder interface {
	FindMentionableGroups(ctx context.Context, names []string) ([]models.Group, error)
}

var (
	fencePattern   = regexp.MustCompile("(?s)```\\w*\\n?(.*?)```")
	codePattern    = regexp.MustCompile("`([^`\\n]+)`")
	mentionPattern = regexp.MustCompile(`(^|[^\w@/])@([\w][\w.\-]*[\w]|[\w])`)
)

// BasicCooker escapes text, renders code spans inert and links @mentions.
// It is not a markdown engine.
type BasicCooker struct {
	groups GroupFinder
}

// NewCooker returns a BasicCooker. A nil finder links every name as a user.
func NewCooker(groups GroupFinder) *BasicCooker {
	return &BasicCooker{groups: groups}
}

type segment struct {
	text string
	code bool
	pre  bool
}

func splitCode(raw string) []segment {
	var out []segment
	inline := func(s string) {
		last := 0
		for _, m := range codePattern.FindAllStringSubmatchIndex(s, -1) {
			out = append(out, segment{text: s[last:m[0]]}, segment{text: s[m[2]:m[3]], code: true})
			last = m[1]
		}
		out = append(out, segment{text: s[last:]})
	}
	last := 0
	for _, m := range fencePattern.FindAllStringSubmatchIndex(raw, -1) {
		inline(raw[last:m[0]])
		out = append(out, segment{text: raw[m[2]:m[3]], code: true, pre: true})
		last = m[1]
	}
	inline(raw[last:])
	return out
}

func (c *BasicCooker) Cook(ctx context.Context, raw string) (string, error) {
	segments := splitCode(strings.TrimSpace(raw))

	groups := map[string]bool{}
	if c.groups != nil {
		var names []string
		for _, s := range segments {
			if s.code {
				continue
			}
			for _, m := range mentionPattern.FindAllStringSubmatch(s.text, -1) {
				names = append(names, m[2])
			}
		}
		if len(names) > 0 {
			found, err := c.groups.FindMentionableGroups(ctx, names)
			if err != nil {
				return "", err
			}
			for _, g := range found {
				groups[strings.ToLower(g.Name)] = true
			}
		}
	}

	var b strings.Builder
	b.WriteString("<p>")
	for _, s := range segments {
		switch {
		case s.pre:
			b.WriteString("</p><pre><code>" + html.EscapeString(s.text) + "</code></pre><p>")
		case s.code:
			b.WriteString("<code>" + html.EscapeString(s.text) + "</code>")
		default:
			escaped := strings.ReplaceAll(html.EscapeString(s.text), "\n", "<br>")
			b.WriteString(mentionPattern.ReplaceAllStringFunc(escaped, func(match string) string {
				sub := mentionPattern.FindStringSubmatch(match)
				lead, name := sub[1], sub[2]
				if groups[strings.ToLower(name)] {
					return lead + `<a class="mention-group" href="/g/` + name + `">@` + name + `</a>`
				}
				return lead + `<a class="mention" href="/u/` + name + `">@` + name + `</a>`
			}))
		}
	}
	b.WriteString("</p>")
	return strings.ReplaceAll(b.String(), "<p></p>", ""), nil
}
