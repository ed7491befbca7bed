package asoc

import (
	"encoding/base64"
	"fmt"
)

// Context carries the enclosing-document facts a single document cannot see.
// InheritedAuthorPresent models Atom's author inheritance: a post inside a
// feed or source that names an author needs none of its own.
type Context struct {
	InheritedAuthorPresent bool
}

// Validate checks the cardinality and uniqueness rules for the document type
// named by the root element, collecting every violation rather than stopping
// at the first. It never mutates the tree. A nil return means the document
// conforms; otherwise the error is a ValidationErrors listing each broken
// rule with the offending element path, or a ParseError when the root
// element is not an Asoc document type at all.
func Validate(n *Node, ctx Context) error {
	var errs ValidationErrors
	switch n.Name {
	case nameAsocPost:
		validatePost(n, n.Name.String(), ctx, &errs)
	case nameAsocPeer:
		validatePeer(n, n.Name.String(), &errs)
	case nameAsocPeers:
		for i, el := range n.elements(nameAsocPeer) {
			validatePeer(el, fmt.Sprintf("%s/%s[%d]", n.Name, el.Name, i+1), &errs)
		}
	case nameAsocCertificate:
		validateCertificate(n, n.Name.String(), &errs)
	case nameAsocCertificates:
		for i, el := range n.elements(nameAsocCertificate) {
			validateCertificate(el, fmt.Sprintf("%s/%s[%d]", n.Name, el.Name, i+1), &errs)
		}
	case nameAtomFeed:
		entryCtx := ctx
		if len(n.elements(nameAtomAuthor)) > 0 {
			entryCtx.InheritedAuthorPresent = true
		}
		for i, el := range n.elements(nameAsocPost) {
			validatePost(el, fmt.Sprintf("%s/%s[%d]", n.Name, el.Name, i+1), entryCtx, &errs)
		}
	case nameAppService:
		for i, el := range n.elements(nameAsocLink) {
			if _, ok := el.Attr("", "href"); !ok {
				errs.add("service.link.href", fmt.Sprintf("%s/%s[%d]", n.Name, el.Name, i+1), "link without href")
			}
		}
	default:
		return ParseError{Kind: ParseUnknownDocument, Path: n.Name.String()}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (e *ValidationErrors) add(rule, path, detail string) {
	*e = append(*e, ValidationError{Rule: rule, Path: path, Detail: detail})
}

func validatePost(n *Node, path string, ctx Context, errs *ValidationErrors) {
	checkCount(n, nameAtomID, path, "post.id.count", 1, 1, errs)
	checkCount(n, nameAsocContent, path, "post.content.count", 1, 1, errs)
	checkCount(n, nameAtomUpdated, path, "post.updated.count", 1, 1, errs)
	checkCount(n, nameAtomPublished, path, "post.published.count", 0, 1, errs)
	checkCount(n, nameAtomRights, path, "post.rights.count", 0, 1, errs)

	authors := n.elements(nameAtomAuthor)
	if len(authors) == 0 && !ctx.InheritedAuthorPresent {
		errs.add("post.author.presence", path,
			"no author and none inherited from the enclosing document")
	}
	for i, a := range authors {
		names := a.elements(nameAtomName)
		if len(names) != 1 || trimText(names[0]) == "" {
			errs.add("post.author.name", childPath(path, nameAtomAuthor, i),
				"author requires exactly one non-empty atom:name")
		}
	}

	links := n.elements(nameAtomLink)
	type altKey struct{ typ, hreflang string }
	seen := map[altKey]int{}
	for i, l := range links {
		lpath := childPath(path, nameAtomLink, i)
		href, ok := l.Attr("", "href")
		if !ok || href == "" {
			errs.add("post.link.href", lpath, "link without href")
		}
		rel, _ := l.Attr("", "rel")
		if rel != "" && rel != "alternate" {
			continue
		}
		// Absent type/hreflang are distinct empty values, not wildcards.
		typ, _ := l.Attr("", "type")
		hreflang, _ := l.Attr("", "hreflang")
		key := altKey{typ, hreflang}
		if first, dup := seen[key]; dup {
			errs.add("post.link.alternate", lpath,
				fmt.Sprintf("duplicate alternate link for (type=%q, hreflang=%q), first at %s",
					typ, hreflang, childPath(path, nameAtomLink, first)))
		} else {
			seen[key] = i
		}
	}

	for _, c := range n.elements(nameAsocContent) {
		if t, ok := c.Attr("", "type"); ok && t != TextPlain && t != TextHTML && t != TextXHTML {
			errs.add("post.content.type", path+"/"+nameAsocContent.String(),
				fmt.Sprintf("unknown text construct type %q", t))
		}
	}

	checkDate(n, nameAtomUpdated, path, errs)
	checkDate(n, nameAtomPublished, path, errs)
}

func validatePeer(n *Node, path string, errs *ValidationErrors) {
	checkCount(n, nameAtomID, path, "peer.id.count", 1, 1, errs)
	checkCount(n, nameAsocURI, path, "peer.uri.count", 1, 1, errs)
	checkCount(n, nameAsocName, path, "peer.name.count", 1, 1, errs)
	for i, l := range n.elements(nameAtomLink) {
		if href, ok := l.Attr("", "href"); !ok || href == "" {
			errs.add("peer.link.href", childPath(path, nameAtomLink, i), "link without href")
		}
	}
}

func validateCertificate(n *Node, path string, errs *ValidationErrors) {
	if subject, ok := n.Attr("", "href"); !ok || subject == "" {
		errs.add("cert.subject.presence", path, "certificate without a subject href")
	}

	key := stripSpace(n.Text())
	if key == "" {
		errs.add("cert.key.presence", path, "certificate without key material")
	} else if _, err := base64.StdEncoding.DecodeString(key); err != nil {
		errs.add("cert.key.presence", path, "key material is not valid base64")
	}

	alg, _ := n.Attr("", "algorithm")
	if alg != AlgorithmEd25519 && alg != AlgorithmSecp256k1 {
		errs.add("cert.algorithm.known", path,
			fmt.Sprintf("unsupported signature algorithm %q", alg))
	}

	notBefore, hasNotBefore := n.Attr("", "not-before")
	notAfter, hasNotAfter := n.Attr("", "not-after")
	nb, nbOK := parseDate(notBefore)
	na, naOK := parseDate(notAfter)
	if hasNotBefore && !nbOK {
		errs.add("cert.validity.range", path, "not-before is not an RFC 3339 date")
	}
	if hasNotAfter && !naOK {
		errs.add("cert.validity.range", path, "not-after is not an RFC 3339 date")
	}
	if nbOK && naOK && na.Before(nb) {
		errs.add("cert.validity.range", path, "not-after precedes not-before")
	}

	if sig, ok := n.Attr("", "signature"); ok {
		if _, err := base64.StdEncoding.DecodeString(stripSpace(sig)); err != nil {
			errs.add("cert.signature.encoding", path, "signature is not valid base64")
		}
	}
}

func checkCount(n *Node, name Name, path, rule string, min, max int, errs *ValidationErrors) {
	count := len(n.elements(name))
	if count < min || count > max {
		want := "at most 1"
		if min == 1 {
			want = "exactly 1"
		}
		errs.add(rule, path+"/"+name.String(),
			fmt.Sprintf("expected %s, found %d", want, count))
	}
}

func checkDate(n *Node, name Name, path string, errs *ValidationErrors) {
	for _, el := range n.elements(name) {
		if _, ok := parseDate(el.Text()); !ok {
			errs.add("post.date.format", path+"/"+name.String(),
				fmt.Sprintf("%s is not an RFC 3339 date", name.Local))
		}
	}
}

func childPath(parent string, name Name, index int) string {
	return fmt.Sprintf("%s/%s[%d]", parent, name, index+1)
}
