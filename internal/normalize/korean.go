package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/scriptcast/voiceproof/internal/core"
)

// Korean numeral readings. Two conventions coexist: Sino-Korean (일, 이,
// 삼 …) for dates, phone numbers, currency and 세-ages, and native Korean
// (하나, 둘, 셋 …) for counted quantities and 살-ages. Reading a count
// with the Sino convention (or vice versa) is the single largest source of
// round-trip verification failures, so the category decides the reading.

var (
	sinoDigits = []string{"영", "일", "이", "삼", "사", "오", "육", "칠", "팔", "구"}

	nativeOnes = []string{
		"", "하나", "둘", "셋", "넷", "다섯", "여섯", "일곱", "여덟", "아홉",
	}
	nativeTens = []string{
		"", "열", "스물", "서른", "마흔", "쉰", "예순", "일흔", "여든", "아흔",
	}

	// Determiner forms used directly before a counter word.
	nativeDeterminerOnes = map[string]string{
		"하나": "한",
		"둘":  "두",
		"셋":  "세",
		"넷":  "네",
	}

	// Irregular Sino month readings.
	irregularMonths = map[int]string{
		6:  "유월",
		10: "시월",
	}
)

// nativeMax is the upper bound of the native counting range. Larger
// quantities are read with the Sino convention, matching spoken usage.
const nativeMax = 99

// phoneZero is the conventional reading of 0 in digit sequences.
const phoneZero = "공"

// Counter words that take native readings. 살 is handled by the age rule.
const koreanCounters = "개|명|마리|번|잔|권|장|대|병|채|그루|켤레|시간"

// Korean pattern set, one compiled rule per category. Date patterns come
// in descending-span order so longest-match-first falls out of candidate
// resolution.
var koreanRules = []rule{
	{
		category: core.CategoryDate,
		pattern:  regexp.MustCompile(`(\d{4})년\s*(\d{1,2})월\s*(\d{1,2})일`),
		replace: func(groups []string) string {
			return sinoNumber(mustAtoi(groups[1])) + "년 " +
				koreanMonth(mustAtoi(groups[2])) + " " +
				sinoNumber(mustAtoi(groups[3])) + "일"
		},
	},
	{
		category: core.CategoryDate,
		pattern:  regexp.MustCompile(`(\d{4})년\s*(\d{1,2})월`),
		replace: func(groups []string) string {
			return sinoNumber(mustAtoi(groups[1])) + "년 " + koreanMonth(mustAtoi(groups[2]))
		},
	},
	{
		category: core.CategoryDate,
		pattern:  regexp.MustCompile(`(\d{1,2})월\s*(\d{1,2})일`),
		replace: func(groups []string) string {
			return koreanMonth(mustAtoi(groups[1])) + " " + sinoNumber(mustAtoi(groups[2])) + "일"
		},
	},
	{
		category: core.CategoryDate,
		pattern:  regexp.MustCompile(`(\d{4})년`),
		replace: func(groups []string) string {
			return sinoNumber(mustAtoi(groups[1])) + "년"
		},
	},
	{
		category: core.CategoryDate,
		pattern:  regexp.MustCompile(`(\d{1,2})월`),
		replace: func(groups []string) string {
			return koreanMonth(mustAtoi(groups[1]))
		},
	},
	{
		category: core.CategoryDate,
		pattern:  regexp.MustCompile(`(\d{1,2})일`),
		replace: func(groups []string) string {
			return sinoNumber(mustAtoi(groups[1])) + "일"
		},
	},
	{
		category: core.CategoryPhone,
		pattern:  regexp.MustCompile(`\d{2,4}-\d{3,4}-\d{4}`),
		replace: func(groups []string) string {
			return koreanPhone(groups[0])
		},
	},
	{
		category: core.CategoryCurrency,
		pattern:  regexp.MustCompile(`(\d{1,3}(?:,\d{3})+|\d+)(원|달러|유로|엔)`),
		replace: func(groups []string) string {
			return sinoNumber(mustAtoi(stripCommas(groups[1]))) + groups[2]
		},
	},
	{
		category: core.CategoryAge,
		pattern:  regexp.MustCompile(`(\d+)(\s*)살`),
		replace: func(groups []string) string {
			return koreanCount(mustAtoi(groups[1])) + groups[2] + "살"
		},
	},
	{
		category: core.CategoryAge,
		pattern:  regexp.MustCompile(`(\d+)(\s*)세`),
		replace: func(groups []string) string {
			return sinoNumber(mustAtoi(groups[1])) + groups[2] + "세"
		},
	},
	{
		category: core.CategoryCount,
		pattern:  regexp.MustCompile(`(\d{1,3}(?:,\d{3})+|\d+)(\s*)(` + koreanCounters + `)`),
		replace: func(groups []string) string {
			return koreanCount(mustAtoi(stripCommas(groups[1]))) + groups[2] + groups[3]
		},
	},
}

// sinoNumber renders n in the Sino-Korean reading (이천이십사 for 2024).
// Supports 0 up to the 억 range; anything larger falls back to a
// digit-by-digit reading rather than producing a wrong word.
func sinoNumber(n int) string {
	if n == 0 {
		return sinoDigits[0]
	}

	if n >= 1_000_000_000_000 {
		return sinoDigitRun(strconv.Itoa(n))
	}

	var parts []string

	if eok := n / 100_000_000; eok > 0 {
		parts = append(parts, sinoGroup(eok)+"억")
		n %= 100_000_000
	}

	if man := n / 10_000; man > 0 {
		// 10000 reads 만, not 일만.
		if man == 1 {
			parts = append(parts, "만")
		} else {
			parts = append(parts, sinoGroup(man)+"만")
		}

		n %= 10_000
	}

	if n > 0 {
		parts = append(parts, sinoGroup(n))
	}

	return strings.Join(parts, "")
}

// sinoGroup renders a 1..9999 group: 천/백/십 positions drop the leading
// 일 (십오, not 일십오), the ones position keeps it (십일).
func sinoGroup(n int) string {
	var b strings.Builder

	writeUnit := func(value int, unit string) {
		if value == 0 {
			return
		}

		if value > 1 {
			b.WriteString(sinoDigits[value])
		}

		b.WriteString(unit)
	}

	writeUnit(n/1000, "천")
	writeUnit(n/100%10, "백")
	writeUnit(n/10%10, "십")

	if ones := n % 10; ones > 0 {
		b.WriteString(sinoDigits[ones])
	}

	return b.String()
}

// sinoDigitRun reads a digit string one digit at a time, 0 as 공.
func sinoDigitRun(digits string) string {
	var b strings.Builder

	for _, r := range digits {
		if r < '0' || r > '9' {
			continue
		}

		if r == '0' {
			b.WriteString(phoneZero)
		} else {
			b.WriteString(sinoDigits[r-'0'])
		}
	}

	return b.String()
}

// koreanPhone reads a hyphen-grouped phone number digit by digit,
// 010-1234-5678 → 공일공 일이삼사 오육칠팔.
func koreanPhone(number string) string {
	groups := strings.Split(number, "-")
	readings := make([]string, 0, len(groups))

	for _, g := range groups {
		readings = append(readings, sinoDigitRun(g))
	}

	return strings.Join(readings, " ")
}

// koreanMonth reads a month number including the 유월/시월 irregulars.
func koreanMonth(month int) string {
	if reading, ok := irregularMonths[month]; ok {
		return reading
	}

	return sinoNumber(month) + "월"
}

// koreanCount renders a counted quantity in the native determiner form
// (세 for 3, 스무 for 20). Quantities beyond the native range use the
// Sino reading, matching spoken usage for large counts.
func koreanCount(n int) string {
	if n <= 0 || n > nativeMax {
		return sinoNumber(n)
	}

	if n == 20 {
		return "스무"
	}

	reading := nativeTens[n/10] + nativeOnes[n%10]

	ones := nativeOnes[n%10]
	if det, ok := nativeDeterminerOnes[ones]; ok {
		reading = nativeTens[n/10] + det
	}

	return reading
}

func stripCommas(s string) string {
	return strings.ReplaceAll(s, ",", "")
}

// mustAtoi converts digit-only regexp captures. Patterns only capture
// \d+ runs, so failure is unreachable; 0 keeps the normalizer total.
func mustAtoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}

	return n
}
