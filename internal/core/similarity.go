package core

import (
	"math"
	"sort"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
)

// NormalizeName is the matching key for animal and breed names:
// Unicode case-folded with whitespace runs collapsed.
func NormalizeName(s string) string {
	// A Caser carries state and is not safe for concurrent use.
	return cases.Fold().String(collapseSpaces(s))
}

// NameSimilarity scores two names in [0, 1]: 1 for identical normalized
// names, decreasing with edit distance relative to the longer name. The score
// is symmetric, deterministic and rounded to 4 decimals.
func NameSimilarity(a, b string) float64 {
	return normalizedSimilarity(NormalizeName(a), NormalizeName(b))
}

func normalizedSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	score := 1 - float64(dist)/float64(longest)
	if score < 0 {
		score = 0
	}
	return math.Round(score*10000) / 10000
}

// sortParentSuggestions orders by score descending, ties by animal id
// ascending.
func sortParentSuggestions(s []ParentSuggestion) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].MatchScore != s[j].MatchScore {
			return s[i].MatchScore > s[j].MatchScore
		}
		return s[i].AnimalID < s[j].AnimalID
	})
}

// sortBreedSuggestions orders by score descending, ties by breed id
// ascending.
func sortBreedSuggestions(s []BreedSuggestion) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].MatchScore != s[j].MatchScore {
			return s[i].MatchScore > s[j].MatchScore
		}
		return s[i].BreedID < s[j].BreedID
	})
}

// rankParents scores every candidate against name and keeps the best limit
// candidates scoring at least minScore.
func rankParents(name string, candidates []Animal, minScore float64, limit int) []ParentSuggestion {
	key := NormalizeName(name)
	out := []ParentSuggestion{}
	for _, a := range candidates {
		score := normalizedSimilarity(key, NormalizeName(a.Name))
		if score < minScore {
			continue
		}
		out = append(out, ParentSuggestion{
			AnimalID:   a.ID,
			Name:       a.Name,
			Sex:        a.Sex,
			Breed:      a.BreedName,
			MatchScore: score,
		})
	}
	sortParentSuggestions(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// rankBreeds is rankParents for breeds.
func rankBreeds(name string, candidates []Breed, minScore float64, limit int) []BreedSuggestion {
	key := NormalizeName(name)
	out := []BreedSuggestion{}
	for _, b := range candidates {
		score := normalizedSimilarity(key, NormalizeName(b.Name))
		if score < minScore {
			continue
		}
		out = append(out, BreedSuggestion{BreedID: b.ID, Name: b.Name, MatchScore: score})
	}
	sortBreedSuggestions(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
