// Package testutil provides shared test utilities and generators for property-based testing.
// All string generators are intentionally aggressive to catch edge cases.
package testutil

import (
	"strings"

	"pgregory.net/rapid"
)

// ArbitraryString generates truly arbitrary strings including:
// - Empty strings
// - Null bytes
// - Unicode (Devanagari, CJK, RTL, emoji)
// - Control characters
// - SQL injection attempts
// - Long strings
func ArbitraryString() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.String(),
		rapid.Just(""),
		rapid.Just("\x00"),
		rapid.Just("test\x00test"),
		rapid.StringMatching(`[a-zA-Z0-9 ]{0,100}`),
		rapid.StringMatching(`[\x00-\x1F]{1,10}`),
		arbitrarySQLInjection(),
		arbitraryUnicode(),
		arbitraryWhitespace(),
		arbitraryLongString(),
	)
}

// ArbitraryNonEmptyString is like ArbitraryString but never empty.
func ArbitraryNonEmptyString() *rapid.Generator[string] {
	return rapid.OneOf(
		rapid.StringN(1, 100, 200),
		rapid.Just("test\x00test"),
		rapid.StringMatching(`[a-zA-Z0-9 ]{1,100}`),
		arbitrarySQLInjection(),
		arbitraryUnicode(),
		arbitraryLongString(),
	)
}

// ArbitraryTitle generates conversation and quiz titles.
func ArbitraryTitle() *rapid.Generator[string] {
	return ArbitraryNonEmptyString()
}

// ArbitraryMessage generates chat message bodies.
func ArbitraryMessage() *rapid.Generator[string] {
	return ArbitraryString()
}

// ArbitraryEmail generates syntactically valid, lowercase email addresses.
func ArbitraryEmail() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		local := rapid.StringMatching(`[a-z][a-z0-9._]{0,20}`).Draw(t, "local")
		domain := rapid.SampledFrom([]string{"example.com", "mail.in", "test.org"}).Draw(t, "domain")
		return local + "@" + domain
	})
}

func arbitrarySQLInjection() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		`' OR 1=1 --`,
		`'; DROP TABLE messages; --`,
		`" OR "1"="1`,
		`1; SELECT * FROM users`,
		`admin'--`,
		`' UNION SELECT * FROM admin_users --`,
		`'; UPDATE user_usage SET messages_sent_today = 0; --`,
		`' OR ''='`,
		`?`,
		`$1`,
		`<script>alert('xss')</script>`,
	})
}

func arbitraryUnicode() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		"धर्मक्षेत्रे कुरुक्षेत्रे", // Devanagari
		"ॐ नमः शिवाय",
		"கீதை",    // Tamil
		"日本語",     // Japanese
		"العربية", // Arabic (RTL)
		"🔥🎉💻🚀",    // Emoji
		"\u200B",  // Zero-width space
		"\u200D",  // Zero-width joiner
		"\uFEFF",  // BOM
		"a\u0300", // Combining diacritical
		"\u202E" + "reversed" + "\u202C",
		"line\u2028separator",
	})
}

func arbitraryWhitespace() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{
		" ",
		"\t",
		"\n",
		"\r\n",
		" \t \n ",
		"  test  ",
		"line1\nline2",
		"\u00A0", // Non-breaking space
		"\u3000", // Ideographic space
	})
}

func arbitraryLongString() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		length := rapid.SampledFrom([]int{1000, 10000, 100000}).Draw(t, "length")
		return strings.Repeat("abcdefghij", length/10)
	})
}
