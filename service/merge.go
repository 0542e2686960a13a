package service

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"worker-transcribe/entities"
)

const (
	// maxOverlapWords bounds the suffix of the previous chunk searched for in the next one.
	maxOverlapWords = 10
	// maxOverlapOffset bounds how far into the next chunk a match may start. The overlap is
	// a couple of seconds of audio, so a repeat starting deeper than this is kept as speech
	// and both copies stay in the transcript.
	maxOverlapOffset = 2 * maxOverlapWords
)

// Piece is one chunk's contribution to a merge. Gap pieces carry no text.
type Piece struct {
	Index      int
	Start      float64
	End        float64
	Text       string
	Confidence float64
	Gap        bool
}

type MergeResult struct {
	Text       string
	Segments   []entities.MergedSegment
	GapIndices []int
	Confidence float64
	Coverage   float64
}

func GapMarker(index int) string {
	return fmt.Sprintf("[gap: chunk %d not transcribed]", index)
}

// MergeSegments joins pieces in index order. Words repeated across a chunk boundary are
// kept once and failed chunks become gap markers.
func MergeSegments(pieces []Piece) MergeResult {
	ordered := make([]Piece, len(pieces))
	copy(ordered, pieces)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var (
		result      MergeResult
		out         []string
		prev        []string
		weighted    float64
		weight      float64
		transcribed int
	)
	for _, p := range ordered {
		if p.Gap {
			marker := GapMarker(p.Index)
			out = append(out, marker)
			result.GapIndices = append(result.GapIndices, p.Index)
			result.Segments = append(result.Segments, entities.MergedSegment{
				Index: p.Index, Start: p.Start, End: p.End, Text: marker, Gap: true,
			})
			continue
		}

		words := strings.Fields(p.Text)
		kept := words
		if len(prev) > 0 {
			kept = words[overlapCut(prev, words):]
		}
		out = append(out, kept...)
		result.Segments = append(result.Segments, entities.MergedSegment{
			Index: p.Index, Start: p.Start, End: p.End, Text: strings.Join(kept, " "),
		})
		// the next chunk overlaps this chunk's audio, whatever was trimmed from its head
		prev = words

		d := p.End - p.Start
		if d <= 0 {
			d = 1
		}
		weighted += p.Confidence * d
		weight += d
		transcribed++
	}

	result.Text = strings.Join(out, " ")
	if weight > 0 {
		result.Confidence = weighted / weight
	}
	if len(ordered) > 0 {
		result.Coverage = float64(transcribed) / float64(len(ordered))
	}
	return result
}

// overlapCut returns how many leading words of next repeat the tail of prev. It tries the
// longest suffix of prev first and the earliest position in next.
func overlapCut(prev, next []string) int {
	width := min(maxOverlapWords, len(next)/2, len(prev))
	for w := width; w >= 1; w-- {
		suffix := prev[len(prev)-w:]
		for off := 0; off+w <= len(next) && off <= maxOverlapOffset; off++ {
			if wordsEqual(next[off:off+w], suffix) {
				return off + w
			}
		}
	}
	return 0
}

func wordsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if normalizeWord(a[i]) != normalizeWord(b[i]) {
			return false
		}
	}
	return true
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
}
