package asoc

import (
	"bytes"
	"encoding/xml"
	"mime"
)

// Media types for Asoc exchanges. Every Asoc document shape travels as
// application/asoc+xml; service documents are additionally served under
// AtomPub's own type.
const (
	MediaType        = "application/asoc+xml"
	MediaTypeService = "application/atomsvc+xml"
)

// CheckMediaType accepts an inbound exchange when its Content-Type is
// application/asoc+xml (parameters such as charset are fine). With lenient
// enabled, a mismatched or missing type is rescued when the body's root
// element is a known Asoc document element.
func CheckMediaType(header string, body []byte, lenient bool) error {
	if mediaTypeIs(header, MediaType) {
		return nil
	}
	if lenient && sniffRoot(body) {
		return nil
	}
	return ContentTypeError{Got: header}
}

// CheckServiceMediaType is CheckMediaType for service document fetches,
// which may be tagged application/atomsvc+xml instead.
func CheckServiceMediaType(header string, body []byte, lenient bool) error {
	if mediaTypeIs(header, MediaType) || mediaTypeIs(header, MediaTypeService) {
		return nil
	}
	if lenient && sniffRoot(body) {
		return nil
	}
	return ContentTypeError{Got: header}
}

func mediaTypeIs(header, want string) bool {
	mt, _, err := mime.ParseMediaType(header)
	return err == nil && mt == want
}

// sniffRoot decides leniently by the first start element alone; it never
// parses further into the body.
func sniffRoot(body []byte) bool {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return false
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		root := Name{se.Name.Space, se.Name.Local}
		for _, n := range documentNames() {
			if root == n {
				return true
			}
		}
		return false
	}
}
