package asoc

import (
	"strings"
	"time"
)

// Person is an Atom person construct (atom:author and friends).
type Person struct {
	Name  string
	URI   string
	Email string
}

// Category is an Atom category construct.
type Category struct {
	Term   string
	Scheme string
	Label  string
}

// Link is an Atom link construct. Asoc reuses the same shape for its own
// asoc:link discovery elements. Absent attributes are empty strings; a
// missing rel means "alternate" per Atom.
type Link struct {
	Href     string
	Rel      string
	Type     string
	HrefLang string
	Title    string
	Length   string
}

// IsAlternate reports whether the link is an alternate link, counting the
// Atom default for a missing rel.
func (l Link) IsAlternate() bool {
	return l.Rel == "" || l.Rel == "alternate"
}

// Text is an Atom text construct: plain text, escaped HTML, or an XHTML div.
// For type xhtml the Div field carries the xhtml:div subtree and Body is
// unused; otherwise Body holds the character data verbatim.
type Text struct {
	Type string
	Body string
	Div  *Node
}

const (
	TextPlain = "text"
	TextHTML  = "html"
	TextXHTML = "xhtml"
)

func parsePerson(n *Node) Person {
	var p Person
	for _, el := range n.Elements() {
		switch el.Name {
		case nameAtomName:
			p.Name = strings.TrimSpace(el.Text())
		case nameAtomURI:
			p.URI = strings.TrimSpace(el.Text())
		case nameAtomEmail:
			p.Email = strings.TrimSpace(el.Text())
		}
	}
	return p
}

func encodePerson(name Name, p Person) *Node {
	n := &Node{Name: name}
	n.Children = append(n.Children, &Node{Name: nameAtomName, Children: charData(p.Name)})
	if p.URI != "" {
		n.Children = append(n.Children, &Node{Name: nameAtomURI, Children: charData(p.URI)})
	}
	if p.Email != "" {
		n.Children = append(n.Children, &Node{Name: nameAtomEmail, Children: charData(p.Email)})
	}
	return n
}

func parseCategory(n *Node) Category {
	var c Category
	c.Term, _ = n.Attr("", "term")
	c.Scheme, _ = n.Attr("", "scheme")
	c.Label, _ = n.Attr("", "label")
	return c
}

func encodeCategory(name Name, c Category) *Node {
	n := &Node{Name: name}
	n.Attrs = append(n.Attrs, Attr{Name{"", "term"}, c.Term})
	if c.Scheme != "" {
		n.Attrs = append(n.Attrs, Attr{Name{"", "scheme"}, c.Scheme})
	}
	if c.Label != "" {
		n.Attrs = append(n.Attrs, Attr{Name{"", "label"}, c.Label})
	}
	return n
}

func parseLink(n *Node) Link {
	var l Link
	l.Href, _ = n.Attr("", "href")
	l.Rel, _ = n.Attr("", "rel")
	l.Type, _ = n.Attr("", "type")
	l.HrefLang, _ = n.Attr("", "hreflang")
	l.Title, _ = n.Attr("", "title")
	l.Length, _ = n.Attr("", "length")
	return l
}

func encodeLink(name Name, l Link) *Node {
	n := &Node{Name: name}
	set := func(local, v string) {
		if v != "" {
			n.Attrs = append(n.Attrs, Attr{Name{"", local}, v})
		}
	}
	set("href", l.Href)
	set("rel", l.Rel)
	set("type", l.Type)
	set("hreflang", l.HrefLang)
	set("title", l.Title)
	set("length", l.Length)
	return n
}

func parseText(n *Node) Text {
	var t Text
	t.Type, _ = n.Attr("", "type")
	if t.Type == TextXHTML {
		for _, el := range n.Elements() {
			if el.Name.Space == NamespaceXHTML && el.Name.Local == "div" {
				t.Div = el
				break
			}
		}
		return t
	}
	t.Body = n.Text()
	return t
}

func encodeText(name Name, t Text) *Node {
	n := &Node{Name: name}
	if t.Type != "" {
		n.Attrs = append(n.Attrs, Attr{Name{"", "type"}, t.Type})
	}
	if t.Div != nil {
		n.Children = append(n.Children, t.Div)
	} else if t.Body != "" {
		n.Children = append(n.Children, CharData(t.Body))
	}
	return n
}

func charData(s string) []Child {
	if s == "" {
		return nil
	}
	return []Child{CharData(s)}
}

// Dates on the wire are RFC 3339. Parsed values are normalised to UTC so
// document equality does not depend on the sender's zone notation.
func parseDate(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeDate(name Name, t time.Time) *Node {
	return &Node{Name: name, Children: charData(formatDate(t))}
}
