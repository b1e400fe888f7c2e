package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func TestLoadCSV(t *testing.T) {
	path := writeCSV(t, "text,email,phone\nmy email is a@b.c,1,0\ncall me,0,1\nnothing here,0,0\n")

	table, err := LoadCSV(path, "text")
	if err != nil {
		t.Fatalf("LoadCSV failed: %v", err)
	}

	if table.Len() != 3 {
		t.Errorf("Expected 3 rows, got %d", table.Len())
	}
	if !reflect.DeepEqual(table.LabelNames, []string{"email", "phone"}) {
		t.Errorf("Expected label names in column order, got %v", table.LabelNames)
	}
	if !reflect.DeepEqual(table.Labels[0], []float32{1, 0}) {
		t.Errorf("Unexpected labels for row 0: %v", table.Labels[0])
	}
	if table.Texts[1] != "call me" {
		t.Errorf("Unexpected text for row 1: %q", table.Texts[1])
	}
}

func TestLoadCSVTextColumnPosition(t *testing.T) {
	// The text column need not come first; label order still follows
	// column order.
	path := writeCSV(t, "email,text,phone\n1,hello,0\n")

	table, err := LoadCSV(path, "text")
	if err != nil {
		t.Fatalf("LoadCSV failed: %v", err)
	}
	if !reflect.DeepEqual(table.LabelNames, []string{"email", "phone"}) {
		t.Errorf("Expected [email phone], got %v", table.LabelNames)
	}
	if !reflect.DeepEqual(table.Labels[0], []float32{1, 0}) {
		t.Errorf("Unexpected labels: %v", table.Labels[0])
	}
}

func TestLoadCSVSchemaErrors(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"Missing text column", "body,email\nhello,1\n"},
		{"Non-binary label", "text,email\nhello,2\n"},
		{"Blank label", "text,email\nhello,\n"},
		{"No label columns", "text\nhello\n"},
		{"Empty file", ""},
		{"Header only", "text,email\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadCSV(writeCSV(t, tc.content), "text")
			var schemaErr *SchemaError
			if !errors.As(err, &schemaErr) {
				t.Errorf("Expected SchemaError, got %v", err)
			}
		})
	}
}

func TestLoadCSVMissingFile(t *testing.T) {
	_, err := LoadCSV(filepath.Join(t.TempDir(), "missing.csv"), "text")
	if err == nil {
		t.Error("Expected error for missing file")
	}
}
