package fmpxml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

// PrettyPrint re-indents the XML in raw and writes it to w.
//
// Names are written with their source prefixes (RawToken), so the default
// namespace declaration on the root survives unchanged. Whitespace-only text
// between elements is dropped and replaced by the encoder's indentation; all
// other text is kept verbatim.
func PrettyPrint(w io.Writer, raw []byte) error {
	text, err := ToUTF8(raw)
	if err != nil {
		return err
	}

	if err := wellFormed(text); err != nil {
		return err
	}

	d := newDecoder(text)
	enc := xml.NewEncoder(w)
	enc.Indent("", "\t")

	for {
		tok, err := d.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedDocument, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			t.Name = flatName(t.Name)
			attrs := make([]xml.Attr, len(t.Attr))
			for i, a := range t.Attr {
				attrs[i] = xml.Attr{Name: flatName(a.Name), Value: a.Value}
			}
			t.Attr = attrs
			tok = t
		case xml.EndElement:
			t.Name = flatName(t.Name)
			tok = t
		case xml.CharData:
			if len(bytes.TrimSpace(t)) == 0 {
				continue
			}
		case xml.ProcInst:
			// Output is always UTF-8, so the declaration is rewritten to say so.
			if t.Target == "xml" {
				tok = xml.ProcInst{Target: "xml", Inst: []byte(`version="1.0" encoding="UTF-8"`)}
			}
		}

		if err := enc.EncodeToken(xml.CopyToken(tok)); err != nil {
			return fmt.Errorf("encode token: %w", err)
		}
	}

	if err := enc.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %w", ErrIO, err)
	}
	_, err = io.WriteString(w, "\n")
	return err
}

// wellFormed runs a full Token pass, which checks element nesting that
// RawToken does not.
func wellFormed(text []byte) error {
	d := newDecoder(text)
	for {
		_, err := d.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedDocument, err)
		}
	}
}

// flatName folds a raw prefix into the local name so the encoder writes it
// back literally instead of inventing namespace declarations.
func flatName(n xml.Name) xml.Name {
	if n.Space == "" {
		return n
	}
	return xml.Name{Local: n.Space + ":" + n.Local}
}
