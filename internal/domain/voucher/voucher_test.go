//go:build unit

package voucher_test

import (
	"strings"
	"testing"
	"time"

	"event-voucher/internal/domain/voucher"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomCodeGenerator(t *testing.T) {
	gen := voucher.NewRandomCodeGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		code, err := gen.Generate()
		require.NoError(t, err)
		require.NoError(t, voucher.ValidateCode(code), code)
		assert.Len(t, code, voucher.CodeLength)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
	assert.Equal(t, 80, voucher.EntropyBits)
}

func TestValidateCode(t *testing.T) {
	cases := []struct {
		code  string
		valid bool
	}{
		{"ABCD-EFGH-JKLM-NPQR", true},
		{"2345-6789-WXYZ-STUV", true},
		{"abcd-efgh-jklm-npqr", false},
		{"ABCD-EFGH-JKLM-NPQ0", false},
		{"ABCD-EFGH-JKLM-NPQI", false},
		{"ABCDEFGH-JKLM-NPQRS", false},
		{"ABCD-EFGH-JKLM", false},
		{"", false},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			err := voucher.ValidateCode(tc.code)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, voucher.ErrInvalidCode)
			}
		})
	}

	assert.NoError(t, voucher.ValidateCode(voucher.NormalizeCode("  abcd-efgh-jklm-npqr ")))
}

func TestNormalizeRecipient(t *testing.T) {
	cases := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "Guest@Example.com", want: "guest@example.com"},
		{in: "  guest@example.com  ", want: "guest@example.com"},
		{in: "Guest <guest@example.com>", err: true},
		{in: "not-an-email", err: true},
		{in: "", err: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := voucher.NormalizeRecipient(tc.in)
			if tc.err {
				assert.ErrorIs(t, err, voucher.ErrInvalidRecipient)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	eventID := uuid.New()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	v, err := voucher.New("ABCD-EFGH-JKLM-NPQR", eventID, "Guest@Example.com", now)
	require.NoError(t, err)
	assert.Equal(t, "guest@example.com", v.Recipient())
	assert.Equal(t, eventID, v.EventID())
	assert.NotEqual(t, uuid.Nil, v.ID())

	_, err = voucher.New(strings.ToLower("ABCD-EFGH-JKLM-NPQR"), eventID, "guest@example.com", now)
	assert.ErrorIs(t, err, voucher.ErrInvalidCode)

	_, err = voucher.New("ABCD-EFGH-JKLM-NPQR", eventID, "nope", now)
	assert.ErrorIs(t, err, voucher.ErrInvalidRecipient)
}
