package parts

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold lowercases, strips diacritics and collapses whitespace.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(cases.Fold().String(out)), " ")
}

// distance scores how far query is from a part. Substring hits score zero.
func distance(query string, p Part) int {
	name := fold(p.Name)
	number := fold(p.PartNumber)
	if strings.Contains(name, query) || strings.Contains(number, query) {
		return 0
	}
	best := levenshtein.ComputeDistance(query, number)
	if d := levenshtein.ComputeDistance(query, name); d < best {
		best = d
	}
	for _, word := range strings.Fields(name) {
		if d := levenshtein.ComputeDistance(query, word); d < best {
			best = d
		}
	}
	return best
}

func rank(text string, candidates []Part, maxDistance, limit int) []Suggestion {
	query := fold(text)
	if query == "" {
		return nil
	}
	var out []Suggestion
	for _, p := range candidates {
		d := distance(query, p)
		if d > maxDistance {
			continue
		}
		p.LowStock = p.IsLowStock()
		out = append(out, Suggestion{Part: p, Distance: d})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Part.PartNumber < out[j].Part.PartNumber
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
