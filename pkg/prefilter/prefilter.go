// Package prefilter rejects usernames that are not worth a network request:
// keyboard-mash handles and obvious business accounts. Every rejection
// carries a human-readable reason for the debug log.
package prefilter

import (
	"fmt"
	"strings"
)

// commonBigrams are frequent English letter pairs; a handle whose letters
// rarely form any of these reads as random.
var commonBigrams = map[string]bool{
	"th": true, "he": true, "in": true, "er": true, "an": true,
	"re": true, "ed": true, "on": true, "es": true, "st": true,
	"en": true, "at": true, "to": true, "nt": true, "ha": true,
	"nd": true, "ou": true, "ea": true, "ng": true, "as": true,
	"or": true, "ti": true, "is": true, "et": true, "it": true,
	"ar": true, "te": true, "se": true, "hi": true, "of": true,
}

// businessTerms flag commercial accounts by substring match
var businessTerms = []string{
	"hotel", "agency", "consult", "consulting", "yacht", "yatching", "yachter",
	"club", "clubs", "restaurant", "ristorante", "trattoria", "bistro", "bar",
	"grill", "cafe", "cafeteria",
	"corp", "inc", "ltd", "llc", "company", "enterprises", "enterprise",
	"group", "holdings", "partners", "capital", "ventures", "studio", "media",
	"marketing", "logistics", "shipping", "freight", "travel", "tour", "tours",
	"rentals", "rental", "resort", "spa", "salon", "nails", "boutique",
	"shop", "store", "management", "agencia", "agence", "consultoria", "agencja",
	"hostel", "motel", "guesthouse", "inn", "lounge", "steakhouse", "canteen",
	"catering", "bakery", "pizzeria", "sushi", "kebab", "taverna", "pub", "brewery",
	"marriott", "hilton", "hyatt", "accor", "sheraton", "fourseasons",
	"mcdonalds", "burgerking", "dominos", "kfc", "subway", "starbucks",
}

// misspellings maps common business-term typos to the flagged term
var misspellings = map[string]string{
	"yact":      "yacht",
	"restraunt": "restaurant",
	"resto":     "restaurant",
	"agance":    "agency",
}

const (
	maxDigits       = 4
	minVowelRatio   = 0.25
	maxConsonantRun = 5
	minBigramRatio  = 0.15
)

// Accept reports whether the username should enter the pipeline. When it
// returns false, reason explains the rejection.
func Accept(username string) (bool, string) {
	lower := strings.ToLower(username)

	if term := businessMatch(lower); term != "" {
		return false, fmt.Sprintf("business keyword %q", term)
	}

	if gibberish, reason := isGibberish(username); gibberish {
		return false, reason
	}

	return true, ""
}

func businessMatch(lower string) string {
	for _, term := range businessTerms {
		if strings.Contains(lower, term) {
			return term
		}
	}
	for _, token := range splitTokens(lower) {
		if term, ok := misspellings[token]; ok {
			return term
		}
	}
	return ""
}

func splitTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case '.', '_', '-', '|', '/', '\\', ' ':
			return true
		}
		return false
	})
}

// isGibberish applies letter-statistics tests to the handle. A single odd
// property is tolerated; two or more reject it.
func isGibberish(username string) (bool, string) {
	letters := lettersOnly(username)
	if letters == "" {
		return true, "no letters"
	}

	digits := 0
	for _, r := range username {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits > maxDigits {
		return true, fmt.Sprintf("too many digits (%d)", digits)
	}

	var failures []string

	if ratio := vowelRatio(letters); ratio < minVowelRatio {
		failures = append(failures, fmt.Sprintf("low vowel ratio (%.2f)", ratio))
	}

	if run := longestConsonantRun(letters); run >= maxConsonantRun {
		failures = append(failures, fmt.Sprintf("long consonant run (%d)", run))
	}

	if len(letters) >= 2 {
		if ratio := bigramRatio(letters); ratio < minBigramRatio {
			failures = append(failures, fmt.Sprintf("rare bigrams (%.2f)", ratio))
		}
	}

	if len(failures) >= 2 {
		return true, strings.Join(failures, "; ")
	}

	return false, ""
}

func lettersOnly(username string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(username) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// vowelRatio counts y as half a vowel
func vowelRatio(letters string) float64 {
	var vowels float64
	for _, r := range letters {
		switch r {
		case 'a', 'e', 'i', 'o', 'u':
			vowels++
		case 'y':
			vowels += 0.5
		}
	}
	return vowels / float64(len(letters))
}

func longestConsonantRun(letters string) int {
	run, longest := 0, 0
	for _, r := range letters {
		switch r {
		case 'a', 'e', 'i', 'o', 'u', 'y':
			run = 0
		default:
			run++
			if run > longest {
				longest = run
			}
		}
	}
	return longest
}

func bigramRatio(letters string) float64 {
	total := len(letters) - 1
	common := 0
	for i := 0; i < total; i++ {
		if commonBigrams[letters[i:i+2]] {
			common++
		}
	}
	return float64(common) / float64(total)
}
