package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const flat = `<?xml version="1.0" encoding="UTF-8"?><FMPXMLRESULT xmlns="http://www.filemaker.com/fmpxmlresult"><ERRORCODE>0</ERRORCODE><RESULTSET FOUND="1"><ROW MODID="1" RECORDID="1"><COL><DATA>HH_1</DATA></COL></ROW></RESULTSET></FMPXMLRESULT>`

// TestRun_FormatsNextToInput writes the indented copy next to the input and
// leaves an existing formatted file alone.
func TestRun_FormatsNextToInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "export.xml")
	if err := os.WriteFile(in, []byte(flat), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var stdout, stderr bytes.Buffer
	if code := run([]string{in}, &stdout, &stderr); code != 0 {
		t.Fatalf("code=%d stderr=%q", code, stderr.String())
	}
	out := filepath.Join(dir, "export_formatted.xml")
	if strings.TrimSpace(stdout.String()) != out {
		t.Fatalf("stdout=%q", stdout.String())
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), "\n\t<ERRORCODE>0</ERRORCODE>") || !strings.Contains(string(b), "<DATA>HH_1</DATA>") {
		t.Fatalf("not indented:\n%s", b)
	}

	stderr.Reset()
	if code := run([]string{"-input_path", in}, &stdout, &stderr); code != 1 {
		t.Fatalf("second run code=%d, want 1", code)
	}
	if after, _ := os.ReadFile(out); !bytes.Equal(after, b) {
		t.Fatal("existing output modified")
	}
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.xml")
	if err := os.WriteFile(bad, []byte("<FMPXMLRESULT><ROW>"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 2 {
		t.Fatalf("usage code=%d", code)
	}
	if code := run([]string{filepath.Join(dir, "missing.xml")}, &stdout, &stderr); code != 1 {
		t.Fatalf("missing code=%d", code)
	}
	if code := run([]string{bad}, &stdout, &stderr); code != 1 || !strings.Contains(stderr.String(), "format:") {
		t.Fatalf("malformed code=%d stderr=%q", code, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "bad_formatted.xml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial output left behind: %v", err)
	}
}
