// Package convert re-types text between keyboard layouts. The usual
// accident it fixes: typing a sentence with the wrong layout active, so
// "privet" comes out as "ghbdtn". Layout converts each rune to the
// character the same physical key produces in the other layout.
package convert

import (
	"strings"
	"unicode"
)

// The QWERTY and ЙЦУКЕН rows aligned by physical key.
const (
	latinRow = "qwertyuiop[]asdfghjkl;'zxcvbnm,./" +
		"QWERTYUIOP{}ASDFGHJKL:\"ZXCVBNM<>?" +
		"`~@#$^&"
	cyrillicRow = "йцукенгшщзхъфывапролджэячсмитьбю." +
		"ЙЦУКЕНГШЩЗХЪФЫВАПРОЛДЖЭЯЧСМИТЬБЮ," +
		"ёЁ\"№;:?"
)

var (
	latinToCyrillic = buildMap(latinRow, cyrillicRow)
	cyrillicToLatin = buildMap(cyrillicRow, latinRow)
)

func buildMap(from, to string) map[rune]rune {
	f, t := []rune(from), []rune(to)
	m := make(map[rune]rune, len(f))
	for i := range f {
		m[f[i]] = t[i]
	}
	return m
}

// Layout converts s to the other layout. The direction is chosen by
// counting which alphabet dominates; characters without a counterpart
// (digits, space, most punctuation) pass through unchanged.
func Layout(s string) string {
	table := latinToCyrillic
	if dominantCyrillic(s) {
		table = cyrillicToLatin
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if mapped, ok := table[r]; ok {
			b.WriteRune(mapped)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TidyPrompt cleans up a selected prompt: collapses runs of whitespace,
// trims the ends, capitalizes the first letter, and terminates the last
// sentence. Empty input stays empty.
func TidyPrompt(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	out := strings.Join(fields, " ")

	runes := []rune(out)
	runes[0] = unicode.ToUpper(runes[0])

	last := runes[len(runes)-1]
	if unicode.IsLetter(last) || unicode.IsDigit(last) {
		runes = append(runes, '.')
	}
	return string(runes)
}

func dominantCyrillic(s string) bool {
	var cyr, lat int
	for _, r := range s {
		switch {
		case r >= 'а' && r <= 'я' || r >= 'А' && r <= 'Я' || r == 'ё' || r == 'Ё':
			cyr++
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
			lat++
		}
	}
	return cyr > lat
}
