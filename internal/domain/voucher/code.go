package voucher

import (
	"crypto/rand"
	"strings"

	"event-voucher/internal/pkg/errs"
)

// 32 symbols without 0/O/1/I, so each symbol carries 5 bits.
const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	groupCount = 4
	groupSize  = 4
	// CodeLength is the rendered length including separators.
	CodeLength = groupCount*groupSize + groupCount - 1
	// EntropyBits of a generated code.
	EntropyBits = groupCount * groupSize * 5
)

var ErrInvalidCode = errs.New("voucher code is malformed")

type CodeGenerator interface {
	Generate() (string, error)
}

type RandomCodeGenerator struct{}

func NewRandomCodeGenerator() *RandomCodeGenerator {
	return &RandomCodeGenerator{}
}

// Generate renders 80 random bits as XXXX-XXXX-XXXX-XXXX.
func (RandomCodeGenerator) Generate() (string, error) {
	buf := make([]byte, groupCount*groupSize)
	if _, err := rand.Read(buf); err != nil {
		return "", errs.Wrap(err, "read random bytes")
	}

	var b strings.Builder
	b.Grow(CodeLength)
	for i, x := range buf {
		if i > 0 && i%groupSize == 0 {
			b.WriteByte('-')
		}
		// len(alphabet) divides 256, so masking keeps the distribution uniform
		b.WriteByte(alphabet[x&31])
	}
	return b.String(), nil
}

func ValidateCode(code string) error {
	if len(code) != CodeLength {
		return ErrInvalidCode
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (i+1)%(groupSize+1) == 0 {
			if c != '-' {
				return ErrInvalidCode
			}
			continue
		}
		if strings.IndexByte(alphabet, c) < 0 {
			return ErrInvalidCode
		}
	}
	return nil
}

// NormalizeCode upper-cases user input before validation.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
