package store

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestMaximumValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Maximum)
		field  string
	}{
		{name: "valid", mutate: func(*Maximum) {}},
		{name: "empty run ID", mutate: func(m *Maximum) { m.RunID = "" }, field: "RunID"},
		{name: "empty name", mutate: func(m *Maximum) { m.Record.Name = "" }, field: "Record.Name"},
		{name: "unknown kind", mutate: func(m *Maximum) { m.Record.Kind = "evidence" }, field: "Record.Kind"},
		{name: "no parameters", mutate: func(m *Maximum) { m.Record.X = nil }, field: "Record.X"},
		{name: "name mismatch", mutate: func(m *Maximum) { m.Record.ParamNames = []string{"a"} }, field: "Record.ParamNames"},
		{name: "prior mismatch", mutate: func(m *Maximum) { m.Record.LogPriors = []float64{0} }, field: "Record.LogPriors"},
		{name: "likelihood mismatch", mutate: func(m *Maximum) { m.Record.LogLikes = nil }, field: "Record.LogLikes"},
		{name: "derived mismatch", mutate: func(m *Maximum) { m.Record.Derived = nil }, field: "Record.Derived"},
		{name: "zero timestamp", mutate: func(m *Maximum) { m.Timestamp = time.Time{} }, field: "Timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := createTestMaximum("run")
			tt.mutate(m)
			err := m.Validate()

			if tt.field == "" {
				if err != nil {
					t.Errorf("Expected valid maximum, got %v", err)
				}
				return
			}
			verr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("Expected *ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %s, want %s", verr.Field, tt.field)
			}
		})
	}
}

func TestMaximumToInfo(t *testing.T) {
	m := createTestMaximum("info-run")
	info := m.ToInfo()

	if info.RunID != "info-run" || info.Kind != "posterior" {
		t.Errorf("Unexpected identity: %+v", info)
	}
	if info.Value != -4.5 {
		t.Errorf("Value = %g, want -4.5", info.Value)
	}
	if info.Params != 2 || info.NFev != 120 {
		t.Errorf("Unexpected counts: %+v", info)
	}
}

func TestTableColumns(t *testing.T) {
	rec := createTestRecord()
	rec.DerivedNames = append(rec.DerivedNames, "sigma8")
	rec.Derived = append(rec.Derived, 0.81)

	want := []string{
		"weight", "minuslogpost", "a", "b", "sigma8",
		"minuslogprior", "minuslogprior__a", "minuslogprior__b",
		"chi2", "chi2__gauss",
	}
	got := Columns(rec)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Columns = %v, want %v", got, want)
	}

	row := Row(rec)
	wantRow := []float64{1, 4.5, 1.5, -0.25, 0.81, 2.5, 1, 1.5, 4, 4}
	if len(row) != len(wantRow) {
		t.Fatalf("Row has %d values, want %d", len(row), len(wantRow))
	}
	for i := range wantRow {
		if row[i] != wantRow[i] {
			t.Errorf("Row[%d] (%s) = %g, want %g", i, want[i], row[i], wantRow[i])
		}
	}
}

func TestFormatTable(t *testing.T) {
	out := FormatTable(createTestRecord())
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected header and one row, got %d lines:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "#") {
		t.Errorf("Header should start with '#': %q", lines[0])
	}

	header := strings.Fields(strings.TrimPrefix(lines[0], "#"))
	values := strings.Fields(lines[1])
	if len(header) != len(values) {
		t.Fatalf("Header has %d columns, row has %d", len(header), len(values))
	}
	if header[1] != "minuslogpost" {
		t.Errorf("Second column = %s", header[1])
	}
	v, err := strconv.ParseFloat(values[1], 64)
	if err != nil || v != 4.5 {
		t.Errorf("minuslogpost = %q, want 4.5", values[1])
	}
	if len(lines[0]) != len(lines[1]) {
		t.Errorf("Columns are not aligned:\n%s", out)
	}
}
