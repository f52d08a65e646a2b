// Package csvfile stores a tabular snapshot as a CSV file with a header row.
//
// The columns kind, internal_id, natural_key, external_id and action map onto
// the row; every other column is a field. A missing kind column falls back to
// the file's default kind.
package csvfile

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/constants"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/logging"
	"github.com/agentstation/taxonsync/pkg/tabular"
)

// Reserved column names.
const (
	ColKind       = "kind"
	ColInternalID = "internal_id"
	ColNaturalKey = "natural_key"
	ColExternalID = "external_id"
	ColAction     = "action"
)

var reserved = []string{ColKind, ColInternalID, ColNaturalKey, ColExternalID, ColAction}

var bom = []byte{0xEF, 0xBB, 0xBF}

// File is a CSV snapshot.
type File struct {
	path   string
	kind   catalog.Kind
	fields []string // field column order from the last Read
}

var _ tabular.Snapshot = (*File)(nil)

// New returns a snapshot at path. kind applies to rows without a kind column.
func New(path string, kind catalog.Kind) *File {
	return &File{path: path, kind: kind}
}

// Read implements tabular.Snapshot.
func (f *File) Read(ctx context.Context) ([]tabular.Row, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, errors.WrapIO("read", f.path, err)
	}
	return f.parse(ctx, bytes.TrimPrefix(data, bom))
}

func (f *File) parse(ctx context.Context, data []byte) ([]tabular.Row, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, f.parseError(err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}
	if !slices.Contains(header, ColInternalID) && !slices.Contains(header, ColExternalID) {
		return nil, &errors.ParseError{Format: "csv", File: f.path, Line: 1, Message: "header needs internal_id or external_id"}
	}

	f.fields = f.fields[:0]
	for _, col := range header {
		if col != "" && !slices.Contains(reserved, col) {
			f.fields = append(f.fields, col)
		}
	}

	var rows []tabular.Row
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, f.parseError(err)
		}
		line, _ := r.FieldPos(0)
		if isBlank(record) {
			continue
		}

		row := tabular.Row{Line: line, Kind: f.kind, Fields: catalog.Attributes{}}
		for i, value := range record {
			if i >= len(header) {
				break
			}
			value = strings.TrimSpace(value)
			switch header[i] {
			case ColKind:
				if value == "" {
					continue
				}
				kind, err := catalog.ParseKind(value)
				if err != nil {
					logging.FromContext(ctx).Warn().Int("line", line).Str("kind", value).Msg("Unknown kind in snapshot row")
				}
				row.Kind = kind
			case ColInternalID:
				row.InternalID = value
			case ColNaturalKey:
				row.NaturalKey = value
			case ColExternalID:
				row.ExternalID = value
			case ColAction:
				row.Action = value
			case "":
			default:
				if value != "" {
					row.Fields[header[i]] = value
				}
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Write implements tabular.Snapshot. Field columns keep the order of the
// last Read; fields not seen there are appended in name order.
func (f *File) Write(_ context.Context, rows []tabular.Row) error {
	fields := slices.Clone(f.fields)
	var extra []string
	for _, row := range rows {
		for name := range row.Fields {
			if !slices.Contains(fields, name) && !slices.Contains(extra, name) {
				extra = append(extra, name)
			}
		}
	}
	sort.Strings(extra)
	fields = append(fields, extra...)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append(slices.Clone(reserved), fields...)); err != nil {
		return errors.WrapIO("write", f.path, err)
	}
	for _, row := range rows {
		record := []string{row.Kind.String(), row.InternalID, row.NaturalKey, row.ExternalID, row.Action}
		for _, name := range fields {
			record = append(record, row.Fields[name])
		}
		if err := w.Write(record); err != nil {
			return errors.WrapIO("write", f.path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.WrapIO("write", f.path, err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), constants.DirPermissions); err != nil {
		return errors.WrapIO("create", filepath.Dir(f.path), err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), constants.FilePermissions); err != nil {
		return errors.WrapIO("write", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return errors.WrapIO("rename", f.path, err)
	}
	return nil
}

func (f *File) parseError(err error) error {
	pe := &errors.ParseError{Format: "csv", File: f.path, Message: err.Error(), Err: err}
	var csvErr *csv.ParseError
	if errors.As(err, &csvErr) {
		pe.Line = csvErr.Line
	}
	return pe
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
