package asoc

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Name is a namespace-qualified XML name. Space holds the namespace URI,
// empty for names in no namespace.
type Name struct {
	Space string
	Local string
}

func (n Name) String() string {
	if p, ok := renderPrefixes[n.Space]; ok {
		return p + ":" + n.Local
	}
	if n.Space == "" {
		return n.Local
	}
	return "{" + n.Space + "}" + n.Local
}

// Attr is a single attribute. Namespace declarations are not represented as
// attributes; prefixes are resolved on parse and re-assigned on render.
type Attr struct {
	Name  Name
	Value string
}

// Child is a member of a Node's content: either a nested *Node or a run of
// CharData. Order is preserved exactly as parsed.
type Child interface {
	xmlChild()
}

// CharData is a run of character data inside an element.
type CharData string

func (CharData) xmlChild() {}

// Node is a generic XML element tree. It is the carrier for whole documents
// on their way in and out of the typed layer, and for foreign markup kept
// opaquely inside Extensions.
type Node struct {
	Name     Name
	Attrs    []Attr
	Children []Child
}

func (*Node) xmlChild() {}

// Attr returns the value of the named attribute and whether it is present.
func (n *Node) Attr(space, local string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Space == space && a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// Elements returns the direct child elements, skipping character data.
func (n *Node) Elements() []*Node {
	var out []*Node
	for _, c := range n.Children {
		if el, ok := c.(*Node); ok {
			out = append(out, el)
		}
	}
	return out
}

// Text returns the concatenated direct character data of the element.
func (n *Node) Text() string {
	var b strings.Builder
	for _, c := range n.Children {
		if cd, ok := c.(CharData); ok {
			b.WriteString(string(cd))
		}
	}
	return b.String()
}

func (n *Node) elements(name Name) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if el, ok := c.(*Node); ok && el.Name == name {
			out = append(out, el)
		}
	}
	return out
}

// ParseNode reads one XML document from r into a Node tree. Namespace
// prefixes are resolved to URIs; comments and processing instructions are
// dropped. Malformed input yields a ParseError.
func ParseNode(r io.Reader) (*Node, error) {
	dec := xml.NewDecoder(r)

	var root *Node
	var stack []*Node
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, ParseError{Kind: ParseMalformed, Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &Node{Name: Name{t.Name.Space, t.Name.Local}}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
					continue
				}
				space := a.Name.Space
				if space == "xml" {
					space = namespaceXML
				}
				el.Attrs = append(el.Attrs, Attr{Name{space, a.Name.Local}, a.Value})
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, ParseError{Kind: ParseMalformed, Err: fmt.Errorf("multiple document elements")}
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				cur := stack[len(stack)-1]
				cur.Children = append(cur.Children, CharData(string(t)))
			}
		}
	}
	if root == nil {
		return nil, ParseError{Kind: ParseMalformed, Err: fmt.Errorf("no document element")}
	}
	return root, nil
}

// ParseNodeBytes is ParseNode over a byte slice.
func ParseNodeBytes(b []byte) (*Node, error) {
	return ParseNode(bytes.NewReader(b))
}

// Render writes the element as XML. Namespaced names get the conventional
// prefixes where known (asoc, atom, app, xhtml) and generated ones otherwise;
// all namespaces are declared on the document element. No default namespace
// is ever declared, so unqualified names stay in no namespace.
func (n *Node) Render(w io.Writer) error {
	prefixes := map[string]string{}
	collectNamespaces(n, prefixes)

	uris := make([]string, 0, len(prefixes))
	for uri := range prefixes {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	var decls strings.Builder
	for _, uri := range uris {
		decls.WriteString(fmt.Sprintf(` xmlns:%s="%s"`, prefixes[uri], uri))
	}
	return renderNode(w, n, prefixes, decls.String())
}

// Bytes renders the element to a byte slice.
func (n *Node) Bytes() []byte {
	var buf bytes.Buffer
	n.Render(&buf)
	return buf.Bytes()
}

func collectNamespaces(n *Node, prefixes map[string]string) {
	assign := func(space string) {
		if space == "" || space == namespaceXML {
			return
		}
		if _, ok := prefixes[space]; ok {
			return
		}
		if p, ok := renderPrefixes[space]; ok {
			prefixes[space] = p
			return
		}
		prefixes[space] = fmt.Sprintf("ns%d", len(prefixes)+1)
	}
	assign(n.Name.Space)
	for _, a := range n.Attrs {
		assign(a.Name.Space)
	}
	for _, c := range n.Children {
		if el, ok := c.(*Node); ok {
			collectNamespaces(el, prefixes)
		}
	}
}

func renderNode(w io.Writer, n *Node, prefixes map[string]string, rootDecls string) error {
	name := prefixedName(n.Name, prefixes)
	if _, err := fmt.Fprintf(w, "<%s%s", name, rootDecls); err != nil {
		return err
	}
	for _, a := range n.Attrs {
		if _, err := fmt.Fprintf(w, ` %s="`, prefixedName(a.Name, prefixes)); err != nil {
			return err
		}
		if err := xml.EscapeText(w, []byte(a.Value)); err != nil {
			return err
		}
		if _, err := io.WriteString(w, `"`); err != nil {
			return err
		}
	}
	if len(n.Children) == 0 {
		_, err := io.WriteString(w, "/>")
		return err
	}
	if _, err := io.WriteString(w, ">"); err != nil {
		return err
	}
	for _, c := range n.Children {
		switch t := c.(type) {
		case CharData:
			if err := xml.EscapeText(w, []byte(t)); err != nil {
				return err
			}
		case *Node:
			if err := renderNode(w, t, prefixes, ""); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(w, "</%s>", name)
	return err
}

func prefixedName(name Name, prefixes map[string]string) string {
	switch name.Space {
	case "":
		return name.Local
	case namespaceXML:
		return "xml:" + name.Local
	}
	return prefixes[name.Space] + ":" + name.Local
}
