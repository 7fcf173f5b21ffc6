package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Header is the non-item part of a Result document.
type Header struct {
	Count    int
	Datetime string
}

// StreamItems decodes a Result document from r and calls fn once per item in
// document order (sorted by identifier for files written by WriteJSON),
// without holding all items in memory.
//
// Unknown top-level keys are skipped. An error from fn stops the stream and is
// returned unchanged.
func StreamItems(r io.Reader, fn func(id string, rec Record) error) (Header, error) {
	dec := json.NewDecoder(r)
	var h Header

	if err := expectDelim(dec, '{'); err != nil {
		return h, fmt.Errorf("json: document: %w", err)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return h, fmt.Errorf("json: read key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return h, fmt.Errorf("json: expected object key, got %v", tok)
		}

		switch key {
		case "count":
			if err := dec.Decode(&h.Count); err != nil {
				return h, fmt.Errorf("json: count: %w", err)
			}
		case "datetime":
			if err := dec.Decode(&h.Datetime); err != nil {
				return h, fmt.Errorf("json: datetime: %w", err)
			}
		case "items":
			if err := streamItemObject(dec, fn); err != nil {
				return h, err
			}
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return h, fmt.Errorf("json: skip %q: %w", key, err)
			}
		}
	}

	if err := expectDelim(dec, '}'); err != nil {
		return h, fmt.Errorf("json: document end: %w", err)
	}
	return h, nil
}

func streamItemObject(dec *json.Decoder, fn func(id string, rec Record) error) error {
	if err := expectDelim(dec, '{'); err != nil {
		return fmt.Errorf("json: items: %w", err)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: read item key: %w", err)
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("json: expected item key, got %v", tok)
		}
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("json: item %q: %w", id, err)
		}
		if err := fn(id, rec); err != nil {
			return err
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return fmt.Errorf("json: items end: %w", err)
	}
	return nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
