package dedup

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"feedrelay/internal/model"
)

func entries(ids ...string) []model.Entry {
	es := make([]model.Entry, len(ids))
	for i, id := range ids {
		es[i] = model.Entry{ID: id, Title: "entry " + id}
	}
	return es
}

func ids(es []model.Entry) []string {
	var out []string
	for _, e := range es {
		out = append(out, e.ID)
	}
	return out
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name    string
		seen    []string
		entries []model.Entry
		want    []string
	}{
		{
			name:    "one new entry newest first",
			seen:    []string{"1", "2"},
			entries: entries("3", "2", "1"),
			want:    []string{"3"},
		},
		{
			name:    "order reversed still diffs by identity",
			seen:    []string{"1", "2"},
			entries: entries("1", "2", "3"),
			want:    []string{"3"},
		},
		{
			name:    "all new preserves document order",
			seen:    nil,
			entries: entries("c", "a", "b"),
			want:    []string{"c", "a", "b"},
		},
		{
			name:    "nothing new",
			seen:    []string{"1", "2", "3"},
			entries: entries("3", "2", "1"),
			want:    nil,
		},
		{
			name:    "duplicate ids within document yield one entry",
			seen:    []string{"1"},
			entries: entries("2", "2", "1"),
			want:    []string{"2"},
		},
		{
			name:    "no entries",
			seen:    []string{"1"},
			entries: nil,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(tt.seen, tt.entries)
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Errorf("new entries mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDiffDoesNotMutateSeen(t *testing.T) {
	seen := []string{"1", "2"}
	Diff(seen, entries("3", "4"))
	if diff := cmp.Diff([]string{"1", "2"}, seen); diff != "" {
		t.Errorf("seen-set mutated (-want +got):\n%s", diff)
	}
}
