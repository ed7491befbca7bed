package asoc

// XML namespaces used by the Asoc profile. Asoc documents live in their own
// namespace and reuse Atom and AtomPub elements where those already say the
// right thing.
const (
	NamespaceAsoc  = "http://www.alipedis.com/2012/asoc"
	NamespaceAtom  = "http://www.w3.org/2005/Atom"
	NamespaceApp   = "http://www.w3.org/2007/app"
	NamespaceXHTML = "http://www.w3.org/1999/xhtml"

	namespaceXML = "http://www.w3.org/XML/1998/namespace"
)

// Conventional prefixes, used when rendering.
var renderPrefixes = map[string]string{
	NamespaceAsoc:  "asoc",
	NamespaceAtom:  "atom",
	NamespaceApp:   "app",
	NamespaceXHTML: "xhtml",
}

var (
	nameAsocPost         = Name{NamespaceAsoc, "post"}
	nameAsocPeer         = Name{NamespaceAsoc, "peer"}
	nameAsocPeers        = Name{NamespaceAsoc, "peers"}
	nameAsocCertificate  = Name{NamespaceAsoc, "certificate"}
	nameAsocCertificates = Name{NamespaceAsoc, "certificates"}
	nameAsocContent      = Name{NamespaceAsoc, "content"}
	nameAsocURI          = Name{NamespaceAsoc, "uri"}
	nameAsocName         = Name{NamespaceAsoc, "name"}
	nameAsocLink         = Name{NamespaceAsoc, "link"}

	nameAtomFeed      = Name{NamespaceAtom, "feed"}
	nameAtomAuthor    = Name{NamespaceAtom, "author"}
	nameAtomCategory  = Name{NamespaceAtom, "category"}
	nameAtomID        = Name{NamespaceAtom, "id"}
	nameAtomLink      = Name{NamespaceAtom, "link"}
	nameAtomPublished = Name{NamespaceAtom, "published"}
	nameAtomRights    = Name{NamespaceAtom, "rights"}
	nameAtomUpdated   = Name{NamespaceAtom, "updated"}
	nameAtomTitle     = Name{NamespaceAtom, "title"}
	nameAtomName      = Name{NamespaceAtom, "name"}
	nameAtomURI       = Name{NamespaceAtom, "uri"}
	nameAtomEmail     = Name{NamespaceAtom, "email"}

	nameAppService = Name{NamespaceApp, "service"}
)

func documentNames() []Name {
	return []Name{
		nameAsocPost,
		nameAsocPeer,
		nameAsocPeers,
		nameAsocCertificate,
		nameAsocCertificates,
		nameAtomFeed,
		nameAppService,
	}
}
