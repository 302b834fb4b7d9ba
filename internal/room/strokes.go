package room

import "math"

// DefaultEraseThreshold is the half-width of the square an erase hit covers.
// Clients receive the active value on join and must filter with HitsStroke
// semantics.
const DefaultEraseThreshold = 8.0

// HitsStroke reports whether any point of s lies within threshold of (x, y)
// on both axes (Chebyshev distance, inclusive).
func HitsStroke(s Stroke, x, y, threshold float64) bool {
	for _, p := range s.Points {
		if math.Abs(p.X-x) <= threshold && math.Abs(p.Y-y) <= threshold {
			return true
		}
	}
	return false
}

// Erase splits strokes into those kept and those removed by an erase hit
// from userID at (x, y). Strokes owned by anyone else are always kept.
func Erase(strokes []Stroke, userID string, x, y, threshold float64) (kept, removed []Stroke) {
	kept = make([]Stroke, 0, len(strokes))
	for _, s := range strokes {
		if s.UserID == userID && HitsStroke(s, x, y, threshold) {
			removed = append(removed, s)
			continue
		}
		kept = append(kept, s)
	}
	return kept, removed
}

// Clear drops every stroke owned by userID.
func Clear(strokes []Stroke, userID string) (kept, removed []Stroke) {
	kept = make([]Stroke, 0, len(strokes))
	for _, s := range strokes {
		if s.UserID == userID {
			removed = append(removed, s)
			continue
		}
		kept = append(kept, s)
	}
	return kept, removed
}

// ReplaceUserStrokes drops all of userID's strokes and appends replacement,
// leaving every other user's strokes in their original order.
func ReplaceUserStrokes(strokes []Stroke, userID string, replacement []Stroke) []Stroke {
	kept, _ := Clear(strokes, userID)
	return append(kept, replacement...)
}

// Returns the ids of the given strokes, skipping unset ones
func IDs(strokes []Stroke) []string {
	ids := make([]string, 0, len(strokes))
	for _, s := range strokes {
		if s.ID != "" {
			ids = append(ids, s.ID)
		}
	}
	return ids
}
