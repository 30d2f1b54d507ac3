package models

import "testing"

func TestTableNames(t *testing.T) {
	defer SetIndexNames("oceandb", "oceandb_plus")

	if got := (Asset{}).TableName(); got != "oceandb" {
		t.Fatalf("unexpected default main table %q", got)
	}
	if got := (AssetPlus{}).TableName(); got != "oceandb_plus" {
		t.Fatalf("unexpected default plus table %q", got)
	}

	SetIndexNames("assets", "assets_plus")
	if got := (Asset{}).TableName(); got != "assets" {
		t.Fatalf("unexpected main table %q", got)
	}
	if got := (AssetPlus{}).TableName(); got != "assets_plus" {
		t.Fatalf("unexpected plus table %q", got)
	}
}
