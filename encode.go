package asoc

import (
	"bytes"
)

const xmlHeader = `<?xml version="1.0" encoding="utf-8"?>` + "\n"

// Encode maps a typed document back to an element tree. Extension content
// is reproduced unchanged: foreign attributes go back on the document
// element, foreign elements after the grammar's own children. For any
// document that passed validation, Decode(Encode(d)) equals d.
func Encode(doc Document) *Node {
	switch d := doc.(type) {
	case *Post:
		return encodePost(d)
	case *Peer:
		return encodePeer(d)
	case *Peers:
		return encodePeers(d)
	case *Certificate:
		return encodeCertificate(d)
	case *Certificates:
		return encodeCertificates(d)
	case *Feed:
		return encodeFeed(d)
	case *Service:
		return encodeService(d)
	}
	return nil
}

// EncodeBytes renders a document as a complete XML document.
func EncodeBytes(doc Document) []byte {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	Encode(doc).Render(&buf)
	buf.WriteByte('\n')
	return buf.Bytes()
}

func encodePost(p *Post) *Node {
	n := &Node{Name: nameAsocPost}
	n.Attrs = append(n.Attrs, p.Extensions.Attrs...)
	for _, a := range p.Authors {
		n.Children = append(n.Children, encodePerson(nameAtomAuthor, a))
	}
	for _, c := range p.Categories {
		n.Children = append(n.Children, encodeCategory(nameAtomCategory, c))
	}
	if p.Content != nil {
		n.Children = append(n.Children, encodeText(nameAsocContent, *p.Content))
	}
	n.Children = append(n.Children, &Node{Name: nameAtomID, Children: charData(p.ID)})
	for _, l := range p.Links {
		n.Children = append(n.Children, encodeLink(nameAtomLink, l))
	}
	if !p.Published.IsZero() {
		n.Children = append(n.Children, encodeDate(nameAtomPublished, p.Published))
	}
	if p.Rights != nil {
		n.Children = append(n.Children, encodeText(nameAtomRights, *p.Rights))
	}
	if !p.Updated.IsZero() {
		n.Children = append(n.Children, encodeDate(nameAtomUpdated, p.Updated))
	}
	n.Children = append(n.Children, extensionChildren(p.Extensions)...)
	return n
}

func encodePeer(p *Peer) *Node {
	n := &Node{Name: nameAsocPeer}
	n.Attrs = append(n.Attrs, p.Extensions.Attrs...)
	n.Children = append(n.Children,
		&Node{Name: nameAtomID, Children: charData(p.ID)},
		&Node{Name: nameAsocURI, Children: charData(p.URI)},
		&Node{Name: nameAsocName, Children: charData(p.Name)},
	)
	for _, c := range p.Categories {
		n.Children = append(n.Children, encodeCategory(nameAtomCategory, c))
	}
	for _, l := range p.Links {
		n.Children = append(n.Children, encodeLink(nameAtomLink, l))
	}
	n.Children = append(n.Children, extensionChildren(p.Extensions)...)
	return n
}

func encodePeers(ps *Peers) *Node {
	n := &Node{Name: nameAsocPeers}
	n.Attrs = append(n.Attrs, ps.Extensions.Attrs...)
	for i := range ps.Peers {
		n.Children = append(n.Children, encodePeer(&ps.Peers[i]))
	}
	n.Children = append(n.Children, extensionChildren(ps.Extensions)...)
	return n
}

func encodeCertificate(c *Certificate) *Node {
	n := &Node{Name: nameAsocCertificate}
	set := func(local, v string) {
		if v != "" {
			n.Attrs = append(n.Attrs, Attr{Name{"", local}, v})
		}
	}
	set("href", c.Subject)
	set("name", c.Name)
	set("algorithm", c.Algorithm)
	set("issuer", c.Issuer)
	if !c.NotBefore.IsZero() {
		set("not-before", formatDate(c.NotBefore))
	}
	if !c.NotAfter.IsZero() {
		set("not-after", formatDate(c.NotAfter))
	}
	set("signature", c.Signature)
	if c.Revoked {
		set("status", "revoked")
	}
	n.Attrs = append(n.Attrs, c.Extensions.Attrs...)
	n.Children = append(n.Children, charData(c.KeyData)...)
	n.Children = append(n.Children, extensionChildren(c.Extensions)...)
	return n
}

func encodeCertificates(cs *Certificates) *Node {
	n := &Node{Name: nameAsocCertificates}
	n.Attrs = append(n.Attrs, cs.Extensions.Attrs...)
	for i := range cs.Certificates {
		n.Children = append(n.Children, encodeCertificate(&cs.Certificates[i]))
	}
	n.Children = append(n.Children, extensionChildren(cs.Extensions)...)
	return n
}

func encodeFeed(f *Feed) *Node {
	n := &Node{Name: nameAtomFeed}
	n.Attrs = append(n.Attrs, f.Extensions.Attrs...)
	if f.ID != "" {
		n.Children = append(n.Children, &Node{Name: nameAtomID, Children: charData(f.ID)})
	}
	if f.Title != nil {
		n.Children = append(n.Children, encodeText(nameAtomTitle, *f.Title))
	}
	if !f.Updated.IsZero() {
		n.Children = append(n.Children, encodeDate(nameAtomUpdated, f.Updated))
	}
	for _, a := range f.Authors {
		n.Children = append(n.Children, encodePerson(nameAtomAuthor, a))
	}
	for _, l := range f.Links {
		n.Children = append(n.Children, encodeLink(nameAtomLink, l))
	}
	for i := range f.Posts {
		n.Children = append(n.Children, encodePost(&f.Posts[i]))
	}
	n.Children = append(n.Children, extensionChildren(f.Extensions)...)
	return n
}

func encodeService(s *Service) *Node {
	n := &Node{Name: nameAppService}
	n.Attrs = append(n.Attrs, s.Extensions.Attrs...)
	for _, l := range s.Links {
		n.Children = append(n.Children, encodeLink(nameAsocLink, l))
	}
	n.Children = append(n.Children, extensionChildren(s.Extensions)...)
	return n
}

func extensionChildren(ext Extensions) []Child {
	out := make([]Child, 0, len(ext.Elems))
	for _, el := range ext.Elems {
		out = append(out, el)
	}
	return out
}
