package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRequestText(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	file := filepath.Join(dir, "req.txt")
	if err := os.WriteFile(file, []byte("  Grant for solar\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cases := []struct {
		name    string
		args    []string
		file    string
		stdin   string
		want    string
		wantErr bool
	}{
		{name: "args", args: []string{"Grant", "for", "solar"}, want: "Grant for solar"},
		{name: "file", file: file, want: "Grant for solar"},
		{name: "prompt", stdin: "Sales pitch for CRM\n", want: "Sales pitch for CRM"},
		{name: "prompt eof", stdin: "no newline", want: "no newline"},
		{name: "empty prompt", stdin: "\n", wantErr: true},
		{name: "missing file", file: filepath.Join(dir, "nope"), wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			got, err := requestText(tc.args, tc.file, strings.NewReader(tc.stdin), &out)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("requestText = %q, %v", got, err)
			}
		})
	}
}
