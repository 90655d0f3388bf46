// Package lyrics maps a playback clock onto word-level lyric alignments.
package lyrics

import "math"

// None is the highlight index returned when no word should be highlighted.
const None = -1

// Word is one lyric token with its sung interval in seconds.
type Word struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Recognized bool    `json:"recognized"`
	Confidence float64 `json:"confidence"`
}

// HighlightIndex returns the index of the word to highlight at time t, or None.
//
// A word is highlighted from its start until the next word starts, so gaps
// keep the previous word lit and the last word stays lit forever once reached.
// Overlapping intervals resolve to the earliest matching word.
func HighlightIndex(words []Word, t float64) int {
	if math.IsNaN(t) {
		return None
	}
	last := len(words) - 1
	for i, w := range words {
		if t < w.Start {
			continue
		}
		if t <= w.End || i == last || t < words[i+1].Start {
			return i
		}
	}
	return None
}

// Highlighted is HighlightIndex gated on playback: a stopped track never
// highlights, whatever its last known position.
func Highlighted(words []Word, t float64, playing bool) int {
	if !playing {
		return None
	}
	return HighlightIndex(words, t)
}
