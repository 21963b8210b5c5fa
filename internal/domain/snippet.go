package domain

import "github.com/rivo/uniseg"

// SnippetLength is the number of user-perceived characters kept in a
// generated snippet.
const SnippetLength = 100

// Snippet returns the first n grapheme clusters of text. Cutting on cluster
// boundaries keeps combined emoji and accented letters intact.
func Snippet(text string, n int) string {
	if n <= 0 {
		return ""
	}
	g := uniseg.NewGraphemes(text)
	count, end := 0, 0
	for g.Next() {
		if count == n {
			return text[:end]
		}
		_, end = g.Positions()
		count++
	}
	return text
}
