package lyrics

import (
	"errors"
	"fmt"
)

var (
	ErrMissingTiming    = errors.New("word has no start/end timing")
	ErrAmbiguousTiming  = errors.New("word carries conflicting start_s/end_s and start/end timings")
	ErrInvertedInterval = errors.New("word ends before it starts")
	ErrUnordered        = errors.New("words are not ordered by start time")
)

// WireWord is a word alignment as the generation side sends it. Two shapes
// are in circulation: {word, start_s, end_s, success, p_align} and
// {word, start, end, success, p_align?}. Both decode into this struct.
type WireWord struct {
	Word    string   `json:"word"`
	StartS  *float64 `json:"start_s,omitempty"`
	EndS    *float64 `json:"end_s,omitempty"`
	Start   *float64 `json:"start,omitempty"`
	End     *float64 `json:"end,omitempty"`
	Success bool     `json:"success"`
	PAlign  *float64 `json:"p_align,omitempty"`
}

// interval resolves the entry's timing from whichever shape it carries.
func (w WireWord) interval() (start, end float64, err error) {
	seconds := w.StartS != nil && w.EndS != nil
	plain := w.Start != nil && w.End != nil

	switch {
	case seconds && plain:
		if *w.StartS != *w.Start || *w.EndS != *w.End {
			return 0, 0, ErrAmbiguousTiming
		}
		start, end = *w.StartS, *w.EndS
	case seconds:
		start, end = *w.StartS, *w.EndS
	case plain:
		start, end = *w.Start, *w.End
	default:
		return 0, 0, ErrMissingTiming
	}

	if start > end {
		return 0, 0, ErrInvertedInterval
	}
	return start, end, nil
}

// Normalize converts wire entries into Words. The whole list is rejected if
// any entry is malformed, so a track is either fully aligned or not at all.
func Normalize(in []WireWord) ([]Word, error) {
	if len(in) == 0 {
		return nil, nil
	}

	out := make([]Word, 0, len(in))
	for i, w := range in {
		start, end, err := w.interval()
		if err != nil {
			return nil, fmt.Errorf("word %d (%q): %w", i, w.Word, err)
		}
		if i > 0 && start < out[i-1].Start {
			return nil, fmt.Errorf("word %d (%q): %w", i, w.Word, ErrUnordered)
		}

		var confidence float64
		if w.PAlign != nil {
			confidence = *w.PAlign
		}
		out = append(out, Word{
			Text:       w.Word,
			Start:      start,
			End:        end,
			Recognized: w.Success,
			Confidence: confidence,
		})
	}
	return out, nil
}
