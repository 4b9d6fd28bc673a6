package pgxutil

import (
	"database/sql"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestToPgxIsoLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input sql.IsolationLevel
		want  pgx.TxIsoLevel
	}{
		{"default", sql.LevelDefault, pgx.TxIsoLevel("")},
		{"serializable", sql.LevelSerializable, pgx.Serializable},
		{"linearizable", sql.LevelLinearizable, pgx.Serializable},
		{"repeatable read", sql.LevelRepeatableRead, pgx.RepeatableRead},
		{"snapshot", sql.LevelSnapshot, pgx.RepeatableRead},
		{"read committed", sql.LevelReadCommitted, pgx.ReadCommitted},
		{"write committed", sql.LevelWriteCommitted, pgx.ReadCommitted},
		{"read uncommitted", sql.LevelReadUncommitted, pgx.ReadUncommitted},
		{"unknown", sql.IsolationLevel(99), pgx.TxIsoLevel("")},
	}

	for _, tt := range tests {
		if got := ToPgxIsoLevel(tt.input); got != tt.want {
			t.Fatalf("%s: ToPgxIsoLevel(%v) = %q, want %q", tt.name, tt.input, got, tt.want)
		}
	}
}

func TestToPgxAccessMode(t *testing.T) {
	t.Parallel()

	if got := ToPgxAccessMode(false); got != pgx.ReadWrite {
		t.Fatalf("ToPgxAccessMode(false) = %q, want %q", got, pgx.ReadWrite)
	}
	if got := ToPgxAccessMode(true); got != pgx.ReadOnly {
		t.Fatalf("ToPgxAccessMode(true) = %q, want %q", got, pgx.ReadOnly)
	}
}

func TestToPgxTxOptions(t *testing.T) {
	t.Parallel()

	if got := ToPgxTxOptions(nil); got != (pgx.TxOptions{}) {
		t.Fatalf("ToPgxTxOptions(nil) = %+v, want zero value", got)
	}

	got := ToPgxTxOptions(&sql.TxOptions{
		Isolation: sql.LevelSerializable,
		ReadOnly:  true,
	})
	if got.IsoLevel != pgx.Serializable {
		t.Fatalf("IsoLevel = %q, want %q", got.IsoLevel, pgx.Serializable)
	}
	if got.AccessMode != pgx.ReadOnly {
		t.Fatalf("AccessMode = %q, want %q", got.AccessMode, pgx.ReadOnly)
	}
}
