package barcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndFormat_Classification(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		format     Format
		normalized string
	}{
		{"ean13", "4006381333931", FormatEAN13, "4006381333931"},
		{"upca", "012345678905", FormatUPCA, "012345678905"},
		{"ean8", "96385074", FormatEAN8, "96385074"},
		{"code39", "*HELLO-123*", FormatCode39, "HELLO-123"},
		{"code128", "ABCdef-123!", FormatCode128, "ABCDEF-123!"},
		{"short numeric", "12345", FormatUnknown, "12345"},
		{"long numeric", "12345678901234", FormatUnknown, "12345678901234"},
		{"whitespace trimmed", "  4006381333931  ", FormatEAN13, "4006381333931"},
		{"control chars stripped", "4006381333931\r\n", FormatEAN13, "4006381333931"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := ValidateAndFormat(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.format, code.Format)
			assert.Equal(t, tt.normalized, code.Normalized)
			assert.Equal(t, tt.raw, code.Raw)
			assert.False(t, code.Timestamp.IsZero())
		})
	}
}

func TestValidateAndFormat_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{"empty", "", "empty"},
		{"only control chars", "\r\n\t", "empty"},
		{"ean13 bad checksum", "4006381333932", "checksum"},
		{"upca bad checksum", "012345678901", "checksum"},
		{"ean8 bad checksum", "96385070", "checksum"},
		{"over length limit", longDigits(101), "too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateAndFormat(tt.raw)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %T", err)
			assert.Equal(t, tt.reason, verr.Reason)
			assert.Equal(t, tt.raw, verr.Raw)
		})
	}
}

// Every single-digit corruption of a valid EAN-13 must trip the check digit.
func TestValidateAndFormat_ChecksumDetectsSingleDigitErrors(t *testing.T) {
	const valid = "4006381333931"

	for pos := 0; pos < len(valid); pos++ {
		for d := byte('0'); d <= '9'; d++ {
			if valid[pos] == d {
				continue
			}
			mutated := valid[:pos] + string(d) + valid[pos+1:]
			t.Run(fmt.Sprintf("pos%d_%c", pos, d), func(t *testing.T) {
				_, err := ValidateAndFormat(mutated)
				var verr *ValidationError
				require.True(t, errors.As(err, &verr), "mutation %q slipped through", mutated)
				assert.Equal(t, "checksum", verr.Reason)
			})
		}
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Raw: "012345678901", Reason: "checksum"}
	assert.Contains(t, err.Error(), "checksum")
	assert.Contains(t, err.Error(), "012345678901")
}

func longDigits(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '7'
	}
	return string(b)
}
