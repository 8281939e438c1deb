package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/scriptcast/voiceproof/internal/core"
)

// English word tables for number readings.
var (
	englishOnes = []string{
		"", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}
	englishTeens = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	englishTens = []string{
		"", "", "twenty", "thirty", "forty", "fifty",
		"sixty", "seventy", "eighty", "ninety",
	}
	englishDigits = []string{
		"zero", "one", "two", "three", "four",
		"five", "six", "seven", "eight", "nine",
	}
	englishMonths = []string{
		"", "January", "February", "March", "April", "May", "June",
		"July", "August", "September", "October", "November", "December",
	}
)

// englishNumberMax bounds the word conversion; larger values are read
// digit by digit so the reading is never wrong, only clumsy.
const englishNumberMax = 999_999

// English pattern set. Dates and phone numbers use digit-group readings,
// counts and currency use cardinal words, mirroring the Korean convention
// split.
var englishRules = []rule{
	{
		category: core.CategoryDate,
		pattern:  regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`),
		replace: func(groups []string) string {
			month := mustAtoi(groups[2])
			if month < 1 || month > 12 {
				return groups[0]
			}

			return englishMonths[month] + " " +
				englishNumber(mustAtoi(groups[3])) + " " +
				englishYear(mustAtoi(groups[1]))
		},
	},
	{
		category: core.CategoryDate,
		pattern:  regexp.MustCompile(`\b(1\d{3}|2\d{3})\b`),
		replace: func(groups []string) string {
			return englishYear(mustAtoi(groups[1]))
		},
	},
	{
		category: core.CategoryPhone,
		pattern:  regexp.MustCompile(`\d{2,4}[-.]\d{3,4}[-.]\d{4}`),
		replace: func(groups []string) string {
			return englishPhone(groups[0])
		},
	},
	{
		category: core.CategoryCurrency,
		pattern:  regexp.MustCompile(`\$(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d{2}))?`),
		replace: func(groups []string) string {
			reading := englishNumber(mustAtoi(stripCommas(groups[1]))) + " dollars"
			if groups[2] != "" {
				reading += " " + englishNumber(mustAtoi(groups[2])) + " cents"
			}

			return reading
		},
	},
	{
		category: core.CategoryAge,
		pattern:  regexp.MustCompile(`(\d+)([- ])year[- ]old`),
		replace: func(groups []string) string {
			return englishNumber(mustAtoi(groups[1])) + groups[2] + "year" + groups[2] + "old"
		},
	},
	{
		category: core.CategoryCount,
		pattern:  regexp.MustCompile(`\d{1,3}(?:,\d{3})+|\d+`),
		replace: func(groups []string) string {
			return englishNumber(mustAtoi(stripCommas(groups[0])))
		},
	},
}

// englishNumber converts n to cardinal words (two thousand twenty-four
// style is reserved for years; this is the plain reading).
func englishNumber(n int) string {
	if n < 0 || n > englishNumberMax {
		return englishDigitRun(strconv.Itoa(n))
	}

	if n == 0 {
		return "zero"
	}

	var parts []string

	if thousands := n / 1000; thousands > 0 {
		parts = append(parts, englishUnderThousand(thousands)+" thousand")
		n %= 1000
	}

	if n > 0 {
		parts = append(parts, englishUnderThousand(n))
	}

	return strings.Join(parts, " ")
}

func englishUnderThousand(n int) string {
	var parts []string

	if hundreds := n / 100; hundreds > 0 {
		parts = append(parts, englishOnes[hundreds]+" hundred")
		n %= 100
	}

	if n > 0 {
		parts = append(parts, englishUnderHundred(n))
	}

	return strings.Join(parts, " ")
}

func englishUnderHundred(n int) string {
	switch {
	case n < 10:
		return englishOnes[n]
	case n < 20:
		return englishTeens[n-10]
	default:
		reading := englishTens[n/10]
		if n%10 > 0 {
			reading += "-" + englishOnes[n%10]
		}

		return reading
	}
}

// englishYear reads a 4-digit year in pairs: 2024 → twenty twenty-four,
// 1905 → nineteen oh five, 2000 → two thousand.
func englishYear(year int) string {
	high, low := year/100, year%100

	switch {
	case low == 0 && high%10 == 0:
		// 2000, 1000: read as a plain number.
		return englishNumber(year)
	case low == 0:
		return englishUnderHundred(high) + " hundred"
	case low < 10:
		return englishUnderHundred(high) + " oh " + englishOnes[low]
	default:
		return englishUnderHundred(high) + " " + englishUnderHundred(low)
	}
}

// englishPhone reads a separator-grouped phone number digit by digit.
func englishPhone(number string) string {
	groups := strings.FieldsFunc(number, func(r rune) bool {
		return r == '-' || r == '.'
	})

	readings := make([]string, 0, len(groups))
	for _, g := range groups {
		readings = append(readings, englishDigitRun(g))
	}

	return strings.Join(readings, " ")
}

func englishDigitRun(digits string) string {
	words := make([]string, 0, len(digits))

	for _, r := range digits {
		if r >= '0' && r <= '9' {
			words = append(words, englishDigits[r-'0'])
		}
	}

	return strings.Join(words, " ")
}
