package room

import (
	"testing"
)

func stroke(id, userID string, pts ...Point) Stroke {
	return Stroke{ID: id, UserID: userID, Nickname: userID, Points: pts}
}

func TestStrokeValid(t *testing.T) {
	if (Stroke{UserID: "a"}).Valid() {
		t.Error("Stroke without points should be invalid")
	}
	if !stroke("s1", "a", Point{1, 1}).Valid() {
		t.Error("Stroke with one point should be valid")
	}
}

func TestHitsStrokeThreshold(t *testing.T) {
	s := stroke("s1", "a", Point{100, 100})

	tests := []struct {
		name string
		x, y float64
		want bool
	}{
		{"exact point", 100, 100, true},
		{"within threshold", 105, 103, true},
		{"on the boundary", 108, 92, true},
		{"just outside on x", 108.5, 100, false},
		{"far away", 120, 120, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HitsStroke(s, tt.x, tt.y, DefaultEraseThreshold); got != tt.want {
				t.Errorf("HitsStroke(%v, %v) = %v, want %v", tt.x, tt.y, got, tt.want)
			}
		})
	}
}

func TestEraseIsSelfScoped(t *testing.T) {
	strokes := []Stroke{
		stroke("a1", "alice", Point{10, 10}, Point{20, 20}),
		stroke("b1", "bob", Point{10, 10}),
		stroke("a2", "alice", Point{300, 300}),
	}

	kept, removed := Erase(strokes, "alice", 12, 12, DefaultEraseThreshold)

	if len(removed) != 1 || removed[0].ID != "a1" {
		t.Fatalf("Expected only a1 removed, got %+v", removed)
	}
	if len(kept) != 2 {
		t.Fatalf("Expected 2 kept strokes, got %d", len(kept))
	}
	if kept[0].ID != "b1" || kept[1].ID != "a2" {
		t.Errorf("Kept strokes out of order: %+v", kept)
	}

	_, removed = Erase(strokes, "carol", 10, 10, DefaultEraseThreshold)
	if len(removed) != 0 {
		t.Errorf("Erase by a user without strokes removed %d strokes", len(removed))
	}
}

func TestClear(t *testing.T) {
	strokes := []Stroke{
		stroke("a1", "alice", Point{1, 1}),
		stroke("b1", "bob", Point{1, 1}),
		stroke("a2", "alice", Point{2, 2}),
	}

	kept, removed := Clear(strokes, "alice")
	if len(removed) != 2 {
		t.Errorf("Expected 2 removed, got %d", len(removed))
	}
	if len(kept) != 1 || kept[0].UserID != "bob" {
		t.Errorf("Expected only bob's stroke kept, got %+v", kept)
	}
}

func TestReplaceUserStrokes(t *testing.T) {
	strokes := []Stroke{
		stroke("s1", "A", Point{1, 1}),
		stroke("s2", "B", Point{2, 2}),
		stroke("s3", "A", Point{3, 3}),
	}
	replacement := []Stroke{stroke("s1p", "A", Point{4, 4})}

	merged := ReplaceUserStrokes(strokes, "A", replacement)

	if len(merged) != 2 {
		t.Fatalf("Expected 2 strokes, got %d", len(merged))
	}
	if merged[0].ID != "s2" || merged[1].ID != "s1p" {
		t.Errorf("Unexpected merge result: %v", IDs(merged))
	}

	merged = ReplaceUserStrokes(strokes, "A", nil)
	if len(merged) != 1 || merged[0].ID != "s2" {
		t.Errorf("Empty replacement should drop all of A's strokes, got %v", IDs(merged))
	}
}

func TestIDs(t *testing.T) {
	ids := IDs([]Stroke{{ID: "x"}, {}, {ID: "y"}})
	if len(ids) != 2 || ids[0] != "x" || ids[1] != "y" {
		t.Errorf("Unexpected ids: %v", ids)
	}
}
