package asoc

import (
	"encoding/base64"
	"strings"
	"time"
)

// Kind names the typed document shapes Asoc exchanges.
type Kind string

const (
	KindPost         Kind = "post"
	KindPeer         Kind = "peer"
	KindPeers        Kind = "peers"
	KindCertificate  Kind = "certificate"
	KindCertificates Kind = "certificates"
	KindFeed         Kind = "feed"
	KindService      Kind = "service"
)

// Document is a typed Asoc document, produced by Decode and consumed by
// Encode.
type Document interface {
	Kind() Kind
}

// Extensions holds markup the grammar does not claim: attributes on the
// document element and whole child elements, kept verbatim and in order so
// a decode/encode round trip loses nothing.
type Extensions struct {
	Attrs []Attr
	Elems []*Node
}

// Post is a short social post, wire form asoc:post. Content is exactly one
// text construct; Rights at most one. Pointers distinguish an absent
// construct from an empty one.
type Post struct {
	ID         string
	Authors    []Person
	Categories []Category
	Content    *Text
	Links      []Link
	Published  time.Time
	Rights     *Text
	Updated    time.Time
	Extensions Extensions
}

func (*Post) Kind() Kind { return KindPost }

// Peer describes a federation peer, wire form asoc:peer: its identifier,
// its AtomPub service endpoint and a display name.
type Peer struct {
	ID         string
	URI        string
	Name       string
	Categories []Category
	Links      []Link
	Extensions Extensions
}

func (*Peer) Kind() Kind { return KindPeer }

// Peers is the asoc:peers collection document.
type Peers struct {
	Peers      []Peer
	Extensions Extensions
}

func (*Peers) Kind() Kind { return KindPeers }

// Certificate binds a peer (the href attribute) to public key material
// carried as base64 element text, wire form asoc:certificate. The remaining
// attributes describe issuance: issuer, algorithm, validity window and the
// issuer's signature over the certificate body. status="revoked" marks a
// revocation notice for the same key.
type Certificate struct {
	Subject    string
	Name       string
	Algorithm  string
	Issuer     string
	NotBefore  time.Time
	NotAfter   time.Time
	Signature  string
	Revoked    bool
	KeyData    string
	Extensions Extensions
}

func (*Certificate) Kind() Kind { return KindCertificate }

const (
	AlgorithmEd25519   = "ed25519"
	AlgorithmSecp256k1 = "secp256k1"
)

// PublicKey decodes the base64 key material.
func (c *Certificate) PublicKey() ([]byte, error) {
	return base64.StdEncoding.DecodeString(stripSpace(c.KeyData))
}

// SignatureBytes decodes the base64 signature attribute; empty when the
// certificate is unsigned.
func (c *Certificate) SignatureBytes() ([]byte, error) {
	if c.Signature == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(stripSpace(c.Signature))
}

// SigningBytes returns the serialization the issuer signs: the canonical
// encoding of the certificate with the signature attribute removed.
func (c *Certificate) SigningBytes() []byte {
	unsigned := *c
	unsigned.Signature = ""
	return EncodeBytes(&unsigned)
}

// Certificates is the asoc:certificates collection document.
type Certificates struct {
	Certificates []Certificate
	Extensions   Extensions
}

func (*Certificates) Kind() Kind { return KindCertificates }

// Feed is the collection representation used for pulls: an atom:feed whose
// entries are asoc:post elements.
type Feed struct {
	ID         string
	Title      *Text
	Updated    time.Time
	Authors    []Person
	Links      []Link
	Posts      []Post
	Extensions Extensions
}

func (*Feed) Kind() Kind { return KindFeed }

// Service is the AtomPub service document a node publishes for discovery.
// The asoc:link elements advertise the posts, peers and certificates
// collections; any app:workspace markup rides along in Extensions.
type Service struct {
	Links      []Link
	Extensions Extensions
}

func (*Service) Kind() Kind { return KindService }

// Collection returns the href of the service link with the given rel, or
// empty when the node does not advertise it.
func (s *Service) Collection(rel string) string {
	for _, l := range s.Links {
		if l.Rel == rel {
			return l.Href
		}
	}
	return ""
}

// Service link rels.
const (
	RelPosts        = "posts"
	RelPeers        = "peers"
	RelCertificates = "certificates"
)

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
}
