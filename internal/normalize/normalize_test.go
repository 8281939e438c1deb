// Package normalize_test tests the locale-aware text normalizer.
package normalize_test

import (
	"testing"

	"github.com/scriptcast/voiceproof/internal/core"
	"github.com/scriptcast/voiceproof/internal/normalize"
	"github.com/stretchr/testify/require"
)

func TestNormalize_KoreanFullDate(t *testing.T) {
	t.Parallel()

	normalizer := normalize.New()

	text, mappings := normalizer.Normalize("2024년 1월 15일", "ko")

	require.Equal(t, "이천이십사년 일월 십오일", text)
	require.Len(t, mappings, 1)
	require.Equal(t, core.CategoryDate, mappings[0].Category)
	require.Equal(t, "2024년 1월 15일", mappings[0].Original)
	require.Equal(t, "이천이십사년 일월 십오일", mappings[0].Replacement)
}

func TestNormalize_KoreanIrregularMonths(t *testing.T) {
	t.Parallel()

	normalizer := normalize.New()

	text, _ := normalizer.Normalize("6월 25일과 10월 9일", "ko")

	require.Equal(t, "유월 이십오일과 시월 구일", text)
}

func TestNormalize_KoreanCountAndCurrency(t *testing.T) {
	t.Parallel()

	normalizer := normalize.New()

	text, mappings := normalizer.Normalize("사과 3개와 2,000원", "ko")

	require.Equal(t, "사과 세개와 이천원", text)
	require.Len(t, mappings, 2)

	require.Equal(t, core.CategoryCount, mappings[0].Category)
	require.Equal(t, "3개", mappings[0].Original)
	require.Equal(t, "세개", mappings[0].Replacement)

	require.Equal(t, core.CategoryCurrency, mappings[1].Category)
	require.Equal(t, "2,000원", mappings[1].Original)
	require.Equal(t, "이천원", mappings[1].Replacement)
}

func TestNormalize_KoreanNativeCounts(t *testing.T) {
	t.Parallel()

	normalizer := normalize.New()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "one", in: "1개", want: "한개"},
		{name: "two", in: "2명", want: "두명"},
		{name: "four", in: "4마리", want: "네마리"},
		{name: "twenty", in: "20살", want: "스무살"},
		{name: "twenty five", in: "25살", want: "스물다섯살"},
		{name: "ninety nine", in: "99개", want: "아흔아홉개"},
		{name: "beyond native range", in: "100개", want: "백개"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			text, _ := normalizer.Normalize(tc.in, "ko")
			require.Equal(t, tc.want, text)
		})
	}
}

func TestNormalize_KoreanSinoAge(t *testing.T) {
	t.Parallel()

	normalizer := normalize.New()

	text, mappings := normalizer.Normalize("올해 65세가 되셨다", "ko")

	require.Equal(t, "올해 육십오세가 되셨다", text)
	require.Len(t, mappings, 1)
	require.Equal(t, core.CategoryAge, mappings[0].Category)
}

func TestNormalize_KoreanPhone(t *testing.T) {
	t.Parallel()

	normalizer := normalize.New()

	text, mappings := normalizer.Normalize("010-1234-5678로 전화주세요", "ko")

	require.Equal(t, "공일공 일이삼사 오육칠팔로 전화주세요", text)
	require.Len(t, mappings, 1)
	require.Equal(t, core.CategoryPhone, mappings[0].Category)
}

func TestNormalize_KoreanCurrencyLarge(t *testing.T) {
	t.Parallel()

	normalizer := normalize.New()

	text, _ := normalizer.Normalize("150,000원", "ko")

	require.Equal(t, "십오만원", text)
}

func TestNormalize_DateBeatsOverlappingMatches(t *testing.T) {
	t.Parallel()

	normalizer := normalize.New()

	// The year inside the date must not be claimed by a shorter match.
	text, mappings := normalizer.Normalize("2024년 3월", "ko")

	require.Equal(t, "이천이십사년 삼월", text)
	require.Len(t, mappings, 1)
	require.Equal(t, core.CategoryDate, mappings[0].Category)
	require.Equal(t, "2024년 3월", mappings[0].Original)
}

func TestNormalize_PassThroughUnchanged(t *testing.T) {
	t.Parallel()

	normalizer := normalize.New()

	input := "안녕하세요, 반갑습니다."

	text, mappings := normalizer.Normalize(input, "ko")

	require.Equal(t, input, text)
	require.Empty(t, mappings)
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	normalizer := normalize.New()

	once, _ := normalizer.Normalize("2024년 1월 15일에 사과 3개를 2,000원에 샀다", "ko")
	twice, mappings := normalizer.Normalize(once, "ko")

	require.Equal(t, once, twice)
	require.Empty(t, mappings)
}

func TestNormalize_Deterministic(t *testing.T) {
	t.Parallel()

	normalizer := normalize.New()

	input := "3개 주문, 010-1234-5678, 65세"

	first, firstMappings := normalizer.Normalize(input, "ko")

	for range 10 {
		text, mappings := normalizer.Normalize(input, "ko")
		require.Equal(t, first, text)
		require.Equal(t, firstMappings, mappings)
	}
}

func TestNormalize_EmptyInput(t *testing.T) {
	t.Parallel()

	normalizer := normalize.New()

	text, mappings := normalizer.Normalize("", "ko")

	require.Empty(t, text)
	require.Nil(t, mappings)
}

func TestNormalize_EnglishISODate(t *testing.T) {
	t.Parallel()

	normalizer := normalize.New()

	text, mappings := normalizer.Normalize("due 2024-01-15", "en")

	require.Equal(t, "due January fifteen twenty twenty-four", text)
	require.Len(t, mappings, 1)
	require.Equal(t, core.CategoryDate, mappings[0].Category)
}

func TestNormalize_EnglishYear(t *testing.T) {
	t.Parallel()

	normalizer := normalize.New()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "paired year", in: "in 2024 we met", want: "in twenty twenty-four we met"},
		{name: "oh year", in: "born 1905", want: "born nineteen oh five"},
		{name: "round millennium", in: "year 2000", want: "year two thousand"},
		{name: "round century", in: "since 1900", want: "since nineteen hundred"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			text, _ := normalizer.Normalize(tc.in, "en")
			require.Equal(t, tc.want, text)
		})
	}
}

func TestNormalize_EnglishCurrency(t *testing.T) {
	t.Parallel()

	normalizer := normalize.New()

	text, mappings := normalizer.Normalize("paid $1,234.56 total", "en")

	require.Equal(
		t,
		"paid one thousand two hundred thirty-four dollars fifty-six cents total",
		text,
	)
	require.Len(t, mappings, 1)
	require.Equal(t, core.CategoryCurrency, mappings[0].Category)
}

func TestNormalize_EnglishAgeAndPhone(t *testing.T) {
	t.Parallel()

	normalizer := normalize.New()

	age, _ := normalizer.Normalize("a 25-year-old developer", "en")
	require.Equal(t, "a twenty-five-year-old developer", age)

	phone, _ := normalizer.Normalize("call 555-123-4567", "en")
	require.Equal(t, "call five five five one two three four five six seven", phone)
}

func TestNormalize_UnknownLanguageFallsBackToEnglish(t *testing.T) {
	t.Parallel()

	normalizer := normalize.New()

	text, _ := normalizer.Normalize("count 42", "de")

	require.Equal(t, "count forty-two", text)
}

func TestNormalize_LanguageTagRegionStripped(t *testing.T) {
	t.Parallel()

	normalizer := normalize.New()

	text, _ := normalizer.Normalize("3개", "ko-KR")

	require.Equal(t, "세개", text)
}
