// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadFromPathTrimsRoomPassword(t *testing.T) {
	directory := t.TempDir()
	for name, content := range map[string]string{
		"bare":     "lobby",
		"newline":  "lobby\n",
		"crlf":     "lobby\r\n",
		"indented": "\t lobby  ",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(directory, name)
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				t.Fatal(err)
			}
			buffer, err := ReadFromPath(path)
			if err != nil {
				t.Fatalf("ReadFromPath: %v", err)
			}
			defer buffer.Close()
			if got := buffer.String(); got != "lobby" {
				t.Errorf("secret = %q, want %q", got, "lobby")
			}
		})
	}
}

func TestReadFromPathErrors(t *testing.T) {
	directory := t.TempDir()
	blank := filepath.Join(directory, "blank")
	if err := os.WriteFile(blank, []byte(" \n\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadFromPath(blank); err == nil {
		t.Error("expected error for a whitespace-only file")
	}
	if _, err := ReadFromPath(filepath.Join(directory, "missing")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestReadLineTakesFirstLine(t *testing.T) {
	buffer, err := readLine(strings.NewReader("first \nsecond\n"))
	if err != nil {
		t.Fatalf("readLine: %v", err)
	}
	defer buffer.Close()
	if got := buffer.String(); got != "first" {
		t.Errorf("secret = %q, want %q", got, "first")
	}

	if _, err := readLine(strings.NewReader("")); err == nil {
		t.Error("expected error for empty input")
	}
}
