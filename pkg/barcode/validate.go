package barcode

import (
	"strings"
	"time"
)

// maxCodeLength mirrors the longest code any supported symbology encodes.
const maxCodeLength = 100

// ValidateAndFormat normalizes a raw read and classifies its symbology.
// Numeric GTIN symbologies (EAN-13, EAN-8, UPC-A) must carry a valid
// mod-10 check digit. Codes that match no known shape are not rejected:
// they come back as FormatUnknown so callers can still attempt a raw
// lookup.
func ValidateAndFormat(raw string) (ScannedCode, error) {
	normalized := normalize(raw)
	if normalized == "" {
		return ScannedCode{}, &ValidationError{Raw: raw, Reason: "empty"}
	}
	if len(normalized) > maxCodeLength {
		return ScannedCode{}, &ValidationError{Raw: raw, Reason: "too long"}
	}

	code := ScannedCode{
		Raw:        raw,
		Normalized: normalized,
		Timestamp:  time.Now(),
	}

	switch {
	case isDigits(normalized):
		switch len(normalized) {
		case 13:
			code.Format = FormatEAN13
		case 12:
			code.Format = FormatUPCA
		case 8:
			code.Format = FormatEAN8
		default:
			code.Format = FormatUnknown
			return code, nil
		}
		if !gtinChecksumValid(normalized) {
			return ScannedCode{}, &ValidationError{Raw: raw, Reason: "checksum"}
		}
		return code, nil

	case isCode39(normalized):
		code.Format = FormatCode39
		// The '*' start/stop delimiters are transport framing, not payload.
		code.Normalized = strings.Trim(normalized, "*")
		return code, nil

	case isPrintable(normalized):
		code.Format = FormatCode128
		return code, nil

	default:
		code.Format = FormatUnknown
		return code, nil
	}
}

// normalize trims surrounding whitespace, removes control characters left
// over from wedge-mode framing and upper-cases alphanumeric symbologies.
func normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	var b strings.Builder
	b.Grow(len(trimmed))
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		if c < 0x20 || c == 0x7f {
			continue
		}
		b.WriteByte(c)
	}
	return strings.ToUpper(b.String())
}

// gtinChecksumValid verifies the weighted mod-10 check digit shared by
// EAN-13, EAN-8 and UPC-A: weights alternate 1,3 starting from the
// rightmost digit (the check digit itself) and the total must divide by 10.
func gtinChecksumValid(digits string) bool {
	sum := 0
	weight := 1
	for i := len(digits) - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * weight
		weight = 4 - weight // alternate 1 and 3
	}
	return sum%10 == 0
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

// isCode39 recognizes the '*'-delimited transmission format with the
// Code 39 character set in between.
func isCode39(s string) bool {
	if len(s) < 3 || !strings.HasPrefix(s, "*") || !strings.HasSuffix(s, "*") {
		return false
	}
	inner := s[1 : len(s)-1]
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'A' && c <= 'Z':
		case strings.IndexByte("-. $/+%", c) >= 0:
		default:
			return false
		}
	}
	return true
}

func isPrintable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
