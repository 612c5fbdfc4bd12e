package semantic

import (
	"testing"

	"github.com/CodeChampian/safebot/engine/domain"
)

func TestBuildWhere(t *testing.T) {
	f := Filter{
		Must:   []FieldMatch{{Key: domain.FieldDocumentID, Value: "d1"}},
		Should: []FieldMatch{{Key: domain.FieldVendorID, Value: "A"}, {Key: domain.FieldVendorID, Value: "B"}},
	}
	where, args, err := buildWhere(f, 2)
	if err != nil {
		t.Fatalf("buildWhere: %v", err)
	}
	want := " WHERE document_id = $2 AND (vendor_id = $3 OR vendor_id = $4)"
	if where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	if len(args) != 3 || args[0] != "d1" || args[2] != "B" {
		t.Errorf("args = %v", args)
	}
}

func TestBuildWhere_Empty(t *testing.T) {
	where, args, err := buildWhere(Filter{}, 1)
	if err != nil || where != "" || args != nil {
		t.Fatalf("got %q %v %v", where, args, err)
	}
}

func TestBuildWhere_UnknownField(t *testing.T) {
	_, _, err := buildWhere(Filter{Must: []FieldMatch{{Key: "text; DROP TABLE x", Value: "v"}}}, 1)
	if err == nil {
		t.Fatal("expected error for unknown column")
	}
}

func TestPGText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ok", "ok"},
		{"a\xffb", "ab"},
		{"page\x00one", "pageone"},
		{"\x00\xfe\x00x", "x"},
		{"Zürich", "Zürich"},
	}
	for _, tt := range tests {
		if got := pgText(tt.in); got != tt.want {
			t.Errorf("pgText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
