package fmpxml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// declaredEncoding matches the encoding pseudo-attribute of an XML declaration.
var declaredEncoding = regexp.MustCompile(`^\s*<\?xml[^>]*?\sencoding\s*=\s*["']([A-Za-z0-9._:-]+)["']`)

// declarationWindow bounds how far into the file we look for the declaration.
const declarationWindow = 512

// ReadSource returns the complete content of the export at path.
func ReadSource(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read source: %w", ErrIO, err)
	}
	return b, nil
}

// ToUTF8 re-encodes raw into UTF-8.
//
// A byte order mark wins; otherwise the encoding named in the XML declaration
// is used when known, and UTF-8 when not. Invalid byte sequences become U+FFFD
// instead of failing the decode.
func ToUTF8(raw []byte) ([]byte, error) {
	dec := unicode.BOMOverride(sourceEncoding(raw).NewDecoder())
	out, _, err := transform.Bytes(dec, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: re-encode: %w", ErrMalformedDocument, err)
	}
	return out, nil
}

func sourceEncoding(raw []byte) encoding.Encoding {
	head := raw
	if len(head) > declarationWindow {
		head = head[:declarationWindow]
	}
	m := declaredEncoding.FindSubmatch(head)
	if m == nil {
		return unicode.UTF8
	}
	enc, err := htmlindex.Get(string(m[1]))
	if err != nil || enc == nil {
		return unicode.UTF8
	}
	return enc
}

// newDecoder returns an xml.Decoder over text that is already UTF-8. The
// declared charset has been applied by ToUTF8, so it is accepted as-is here.
func newDecoder(text []byte) *xml.Decoder {
	d := xml.NewDecoder(bytes.NewReader(text))
	d.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	return d
}

// Parse repairs the encoding of raw and decodes it into a Document.
func Parse(raw []byte) (*Document, error) {
	text, err := ToUTF8(raw)
	if err != nil {
		return nil, err
	}

	d := newDecoder(text)
	var doc Document
	if err := d.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrMalformedDocument)
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	if err := expectEpilogOnly(d); err != nil {
		return nil, err
	}
	return &doc, nil
}

// expectEpilogOnly consumes what follows the root element. Only whitespace,
// comments and processing instructions may appear there.
func expectEpilogOnly(d *xml.Decoder) error {
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedDocument, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return fmt.Errorf("%w: element <%s> after root element", ErrMalformedDocument, t.Name.Local)
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return fmt.Errorf("%w: text after root element", ErrMalformedDocument)
			}
		}
	}
}

// ParseFile is ReadSource followed by Parse.
func ParseFile(path string) (*Document, error) {
	raw, err := ReadSource(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}
