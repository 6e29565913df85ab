// Package pulse turns free-text pulse descriptions into diagnostic vectors and
// ranks teaching records by similarity to a pulse grid.
//
// A vector has four axes, each roughly in [-1, +1]:
//
//	0  deficiency (-) / excess (+)
//	1  cold (-) / heat (+)
//	2  interior (-) / exterior (+)
//	3  dry (-) / damp (+)
package pulse

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Dims is the number of diagnostic axes.
const Dims = 4

// Vector is a point in diagnostic space.
type Vector [Dims]float64

// keywordVectors maps each pulse term to its contribution.
var keywordVectors = map[string]Vector{
	"浮": {0, 0, 1, 0},
	"沉": {0, 0, -1, 0},
	"迟": {0, -1, 0, 0},
	"数": {0, 1, 0, 0},
	"虚": {-1, 0, 0, 0},
	"实": {1, 0, 0, 0},
	"滑": {0.5, 0.3, 0, 1},
	"涩": {-0.3, 0, 0, -1},
	"洪": {1, 1, 0.5, 0},
	"细": {-1, -0.3, 0, -0.3},
	"弱": {-1, -0.5, -0.5, 0},
	"弦": {0.5, 0, 0, -0.3},
	"紧": {0.5, -1, 0, 0},
	"大": {0.5, 0.3, 0, 0},
	"缓": {0, -0.3, 0, 0.5},
	"濡": {-0.5, 0, 0.5, 1},
	"软": {-0.5, 0, 0, 0.5},
	"微": {-1, -0.5, 0, 0},
	"芤": {-1, 0, 0.5, 0},
	"散": {-1, 0, 0.5, 0},
	"空": {-0.8, 0, 0.3, 0},
	"促": {0.5, 1, 0, 0},
	"疾": {0, 1, 0, 0},
	"动": {0.5, 0.5, 0, 0},
	"结": {-0.3, -0.5, 0, -0.5},
	"代": {-1, 0, 0, 0},
	"短": {-0.5, 0, 0, 0},
	"长": {0.5, 0, 0, 0},
	"伏": {0.3, -0.5, -1, 0},
	"牢": {1, -0.5, -1, 0},

	"有力": {1, 0, 0, 0},
	"无力": {-1, 0, 0, 0},
	"应指": {0.5, 0, 0, 0},
	"稍空": {-0.5, 0, 0, 0},
}

// keywordsByLength lists the dictionary longest first so that "稍空" wins
// over "空" at the same position.
var keywordsByLength = func() []string {
	out := make([]string, 0, len(keywordVectors))
	for k := range keywordVectors {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(out[i]), utf8.RuneCountInString(out[j])
		if li != lj {
			return li > lj
		}
		return out[i] < out[j]
	})
	return out
}()

// ExtractKeywords scans text left to right. At each position the longest
// dictionary term that matches is taken and consumed; when nothing matches a
// single rune is skipped.
func ExtractKeywords(text string) []string {
	var out []string
	for len(text) > 0 {
		matched := false
		for _, k := range keywordsByLength {
			if strings.HasPrefix(text, k) {
				out = append(out, k)
				text = text[len(k):]
				matched = true
				break
			}
		}
		if !matched {
			_, size := utf8.DecodeRuneInString(text)
			text = text[size:]
		}
	}
	return out
}
