package domain

// Peer is a remote node this node exchanges posts with. Identifier is the
// peer's self-asserted atom:id; Endpoint is the URL of its service document.
//
// Cursor tracks how far this node has pulled from the peer's feed. PushCursor
// tracks how far this node's locally authored posts have been pushed to it.
// Neither cursor moves backwards and neither advances on a failed exchange.
type Peer struct {
	Identifier  string
	Endpoint    string
	Name        string
	Fingerprint string
	TrustState  TrustState
	Cursor      Cursor
	PushCursor  Cursor
}
