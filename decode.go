package asoc

import (
	"io"
	"strings"
)

// Decode maps a parsed element tree to its typed document. The document
// element decides the type; an unrecognized root is a ParseError. Decoding
// is deliberately lenient about cardinality — the first occurrence of a
// single-valued element wins and extras are dropped — because counting
// violations is the validator's job, and callers validate before they trust
// a document. Everything the grammar does not claim lands in Extensions.
func Decode(n *Node) (Document, error) {
	switch n.Name {
	case nameAsocPost:
		return decodePost(n), nil
	case nameAsocPeer:
		return decodePeer(n), nil
	case nameAsocPeers:
		return decodePeers(n), nil
	case nameAsocCertificate:
		return decodeCertificate(n), nil
	case nameAsocCertificates:
		return decodeCertificates(n), nil
	case nameAtomFeed:
		return decodeFeed(n), nil
	case nameAppService:
		return decodeService(n), nil
	}
	return nil, ParseError{Kind: ParseUnknownDocument, Path: n.Name.String()}
}

// DecodeBytes parses and decodes one document.
func DecodeBytes(b []byte) (Document, error) {
	n, err := ParseNodeBytes(b)
	if err != nil {
		return nil, err
	}
	return Decode(n)
}

// DecodeReader parses and decodes one document from a stream.
func DecodeReader(r io.Reader) (Document, error) {
	n, err := ParseNode(r)
	if err != nil {
		return nil, err
	}
	return Decode(n)
}

func decodePost(n *Node) *Post {
	p := &Post{}
	p.Extensions.Attrs = append(p.Extensions.Attrs, n.Attrs...)

	var idSeen, publishedSeen, updatedSeen bool
	for _, el := range n.Elements() {
		switch el.Name {
		case nameAtomAuthor:
			p.Authors = append(p.Authors, parsePerson(el))
		case nameAtomCategory:
			p.Categories = append(p.Categories, parseCategory(el))
		case nameAsocContent:
			if p.Content == nil {
				t := parseText(el)
				p.Content = &t
			}
		case nameAtomID:
			if !idSeen {
				p.ID = trimText(el)
				idSeen = true
			}
		case nameAtomLink:
			p.Links = append(p.Links, parseLink(el))
		case nameAtomPublished:
			if !publishedSeen {
				p.Published, _ = parseDate(el.Text())
				publishedSeen = true
			}
		case nameAtomRights:
			if p.Rights == nil {
				t := parseText(el)
				p.Rights = &t
			}
		case nameAtomUpdated:
			if !updatedSeen {
				p.Updated, _ = parseDate(el.Text())
				updatedSeen = true
			}
		default:
			p.Extensions.Elems = append(p.Extensions.Elems, el)
		}
	}
	return p
}

func decodePeer(n *Node) *Peer {
	p := &Peer{}
	p.Extensions.Attrs = append(p.Extensions.Attrs, n.Attrs...)

	var idSeen, uriSeen, nameSeen bool
	for _, el := range n.Elements() {
		switch el.Name {
		case nameAtomID:
			if !idSeen {
				p.ID = trimText(el)
				idSeen = true
			}
		case nameAsocURI:
			if !uriSeen {
				p.URI = trimText(el)
				uriSeen = true
			}
		case nameAsocName:
			if !nameSeen {
				p.Name = trimText(el)
				nameSeen = true
			}
		case nameAtomCategory:
			p.Categories = append(p.Categories, parseCategory(el))
		case nameAtomLink:
			p.Links = append(p.Links, parseLink(el))
		default:
			p.Extensions.Elems = append(p.Extensions.Elems, el)
		}
	}
	return p
}

func decodePeers(n *Node) *Peers {
	ps := &Peers{}
	ps.Extensions.Attrs = append(ps.Extensions.Attrs, n.Attrs...)
	for _, el := range n.Elements() {
		if el.Name == nameAsocPeer {
			ps.Peers = append(ps.Peers, *decodePeer(el))
		} else {
			ps.Extensions.Elems = append(ps.Extensions.Elems, el)
		}
	}
	return ps
}

func decodeCertificate(n *Node) *Certificate {
	c := &Certificate{}
	for _, a := range n.Attrs {
		if a.Name.Space != "" {
			c.Extensions.Attrs = append(c.Extensions.Attrs, a)
			continue
		}
		switch a.Name.Local {
		case "href":
			c.Subject = a.Value
		case "name":
			c.Name = a.Value
		case "algorithm":
			c.Algorithm = a.Value
		case "issuer":
			c.Issuer = a.Value
		case "not-before":
			c.NotBefore, _ = parseDate(a.Value)
		case "not-after":
			c.NotAfter, _ = parseDate(a.Value)
		case "signature":
			c.Signature = a.Value
		case "status":
			if a.Value == "revoked" {
				c.Revoked = true
			} else {
				c.Extensions.Attrs = append(c.Extensions.Attrs, a)
			}
		default:
			c.Extensions.Attrs = append(c.Extensions.Attrs, a)
		}
	}
	c.KeyData = stripSpace(n.Text())
	for _, el := range n.Elements() {
		c.Extensions.Elems = append(c.Extensions.Elems, el)
	}
	return c
}

func decodeCertificates(n *Node) *Certificates {
	cs := &Certificates{}
	cs.Extensions.Attrs = append(cs.Extensions.Attrs, n.Attrs...)
	for _, el := range n.Elements() {
		if el.Name == nameAsocCertificate {
			cs.Certificates = append(cs.Certificates, *decodeCertificate(el))
		} else {
			cs.Extensions.Elems = append(cs.Extensions.Elems, el)
		}
	}
	return cs
}

func decodeFeed(n *Node) *Feed {
	f := &Feed{}
	f.Extensions.Attrs = append(f.Extensions.Attrs, n.Attrs...)

	var idSeen, titleSeen, updatedSeen bool
	for _, el := range n.Elements() {
		switch el.Name {
		case nameAtomID:
			if !idSeen {
				f.ID = trimText(el)
				idSeen = true
			}
		case nameAtomTitle:
			if !titleSeen {
				t := parseText(el)
				f.Title = &t
				titleSeen = true
			}
		case nameAtomUpdated:
			if !updatedSeen {
				f.Updated, _ = parseDate(el.Text())
				updatedSeen = true
			}
		case nameAtomAuthor:
			f.Authors = append(f.Authors, parsePerson(el))
		case nameAtomLink:
			f.Links = append(f.Links, parseLink(el))
		case nameAsocPost:
			f.Posts = append(f.Posts, *decodePost(el))
		default:
			f.Extensions.Elems = append(f.Extensions.Elems, el)
		}
	}
	return f
}

func decodeService(n *Node) *Service {
	s := &Service{}
	s.Extensions.Attrs = append(s.Extensions.Attrs, n.Attrs...)
	for _, el := range n.Elements() {
		if el.Name == nameAsocLink {
			s.Links = append(s.Links, parseLink(el))
		} else {
			s.Extensions.Elems = append(s.Extensions.Elems, el)
		}
	}
	return s
}

func trimText(n *Node) string {
	return strings.TrimSpace(n.Text())
}
