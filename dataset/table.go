// Package dataset loads labeled text tables and serves them to the
// training loop as shuffled, fixed-shape batches.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// SchemaError reports a structural problem with input data: a missing
// text column, a non-binary label value, or a label set that does not
// match what a model expects. Schema problems are never recoverable.
type SchemaError struct {
	Source string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("schema error: %s", e.Reason)
	}
	return fmt.Sprintf("schema error in %s: %s", e.Source, e.Reason)
}

// Table is a parsed annotation table: one text per row and a binary
// indicator per label column. Label order follows column order in the
// source file and is preserved everywhere downstream.
type Table struct {
	Texts      []string
	Labels     [][]float32
	LabelNames []string
}

func (t *Table) Len() int {
	return len(t.Texts)
}

func (t *Table) NumLabels() int {
	return len(t.LabelNames)
}

// LoadCSV reads an annotation table from a CSV file with a header row.
// textColumn names the column holding the raw text; every other column
// is treated as a label column whose cells must be 0 or 1.
func LoadCSV(path, textColumn string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %v", path, err)
	}
	defer f.Close()

	return readTable(csv.NewReader(f), path, textColumn)
}

func readTable(r *csv.Reader, source, textColumn string) (*Table, error) {
	header, err := r.Read()
	if err == io.EOF {
		return nil, &SchemaError{Source: source, Reason: "file is empty"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %v", source, err)
	}

	textIdx := -1
	var labelNames []string
	var labelIdx []int
	for i, name := range header {
		if name == textColumn {
			if textIdx >= 0 {
				return nil, &SchemaError{Source: source, Reason: fmt.Sprintf("duplicate text column %q", textColumn)}
			}
			textIdx = i
			continue
		}
		labelNames = append(labelNames, name)
		labelIdx = append(labelIdx, i)
	}
	if textIdx < 0 {
		return nil, &SchemaError{Source: source, Reason: fmt.Sprintf("text column %q not found", textColumn)}
	}
	if len(labelNames) == 0 {
		return nil, &SchemaError{Source: source, Reason: "no label columns"}
	}

	table := &Table{LabelNames: labelNames}
	row := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d of %s: %v", row, source, err)
		}

		labels := make([]float32, len(labelIdx))
		for j, col := range labelIdx {
			switch record[col] {
			case "0":
				labels[j] = 0
			case "1":
				labels[j] = 1
			default:
				return nil, &SchemaError{
					Source: source,
					Reason: fmt.Sprintf("row %d column %q: label value %q is not 0 or 1", row, labelNames[j], record[col]),
				}
			}
		}

		table.Texts = append(table.Texts, record[textIdx])
		table.Labels = append(table.Labels, labels)
		row++
	}

	if table.Len() == 0 {
		return nil, &SchemaError{Source: source, Reason: "no data rows"}
	}

	return table, nil
}
