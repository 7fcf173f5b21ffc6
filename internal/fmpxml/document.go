// Package fmpxml reads FileMaker Pro "FMPXMLRESULT" exports.
//
// The export is schema-free and column-positional: METADATA declares the field
// names in order, and every RESULTSET/ROW carries one COL per field, each with
// zero, one or many DATA leaves. Nothing in the document says which fields are
// repeating; that is decided later from the data (see internal/records).
package fmpxml

import (
	"encoding/xml"
	"errors"
	"fmt"
)

// Namespace is the XML namespace every FMPXMLRESULT document must use.
const Namespace = "http://www.filemaker.com/fmpxmlresult"

var (
	// ErrIO marks failures reading a source file or writing an output file.
	ErrIO = errors.New("io error")

	// ErrMalformedDocument is returned when the input is not well-formed XML or
	// its root is not FMPXMLRESULT in Namespace.
	ErrMalformedDocument = errors.New("malformed document")

	// ErrNoFields is returned when METADATA declares no FIELD elements.
	ErrNoFields = errors.New("schema error: no fields declared")

	// ErrNoRows is returned when RESULTSET contains no ROW elements.
	ErrNoRows = errors.New("no rows in result set")
)

// Document is the parsed export.
type Document struct {
	XMLName   xml.Name  `xml:"http://www.filemaker.com/fmpxmlresult FMPXMLRESULT"`
	ErrorCode string    `xml:"ERRORCODE"`
	Product   Product   `xml:"PRODUCT"`
	Database  Database  `xml:"DATABASE"`
	Metadata  Metadata  `xml:"METADATA"`
	ResultSet ResultSet `xml:"RESULTSET"`
}

type Product struct {
	Build   string `xml:"BUILD,attr"`
	Name    string `xml:"NAME,attr"`
	Version string `xml:"VERSION,attr"`
}

type Database struct {
	DateFormat string `xml:"DATEFORMAT,attr"`
	Layout     string `xml:"LAYOUT,attr"`
	Name       string `xml:"NAME,attr"`
	Records    string `xml:"RECORDS,attr"`
	TimeFormat string `xml:"TIMEFORMAT,attr"`
}

type Metadata struct {
	Fields []Field `xml:"FIELD"`
}

// Field is one METADATA/FIELD declaration. Only Name takes part in decoding;
// the other attributes are informational.
type Field struct {
	Name      string `xml:"NAME,attr"`
	Type      string `xml:"TYPE,attr"`
	EmptyOK   string `xml:"EMPTYOK,attr"`
	MaxRepeat string `xml:"MAXREPEAT,attr"`
}

type ResultSet struct {
	Found string `xml:"FOUND,attr"`
	Rows  []Row  `xml:"ROW"`
}

// Row is one RESULTSET/ROW. Cols are in document order and are matched to
// field names by position.
type Row struct {
	RecordID string `xml:"RECORDID,attr"`
	ModID    string `xml:"MODID,attr"`
	Cols     []Col  `xml:"COL"`
}

// Col holds the DATA leaves of one column in one row.
type Col struct {
	Data []Data `xml:"DATA"`
}

// Data is a single text leaf. An empty Text means the leaf carried no text.
type Data struct {
	Text string `xml:",chardata"`
}

// FieldNames returns the declared field names in declaration order.
// The order is the positional key used to decode every row.
func (d *Document) FieldNames() ([]string, error) {
	if d == nil || len(d.Metadata.Fields) == 0 {
		return nil, ErrNoFields
	}
	names := make([]string, len(d.Metadata.Fields))
	for i, f := range d.Metadata.Fields {
		names[i] = f.Name
	}
	return names, nil
}

// Rows returns the result-set rows in document order.
func (d *Document) Rows() ([]Row, error) {
	if d == nil || len(d.ResultSet.Rows) == 0 {
		return nil, ErrNoRows
	}
	return d.ResultSet.Rows, nil
}

// Describe summarizes the export header for logging.
func (d *Document) Describe() string {
	return fmt.Sprintf("product=%q version=%q database=%q layout=%q records=%q found=%q errorcode=%q",
		d.Product.Name, d.Product.Version, d.Database.Name, d.Database.Layout,
		d.Database.Records, d.ResultSet.Found, d.ErrorCode)
}
