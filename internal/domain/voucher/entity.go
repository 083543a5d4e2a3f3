package voucher

import (
	"net/mail"
	"strings"
	"time"

	"event-voucher/internal/pkg/errs"

	"github.com/google/uuid"
)

var ErrInvalidRecipient = errs.New("recipient must be a valid email address")

type Voucher struct {
	id        uuid.UUID
	code      string
	eventID   uuid.UUID
	recipient string
	issuedAt  time.Time
}

func New(code string, eventID uuid.UUID, recipient string, issuedAt time.Time) (*Voucher, error) {
	if err := ValidateCode(code); err != nil {
		return nil, err
	}
	r, err := NormalizeRecipient(recipient)
	if err != nil {
		return nil, err
	}
	return &Voucher{
		id:        uuid.New(),
		code:      code,
		eventID:   eventID,
		recipient: r,
		issuedAt:  issuedAt,
	}, nil
}

func Reconstruct(id uuid.UUID, code string, eventID uuid.UUID, recipient string, issuedAt time.Time) *Voucher {
	return &Voucher{id: id, code: code, eventID: eventID, recipient: recipient, issuedAt: issuedAt}
}

func (v *Voucher) ID() uuid.UUID       { return v.id }
func (v *Voucher) Code() string        { return v.code }
func (v *Voucher) EventID() uuid.UUID  { return v.eventID }
func (v *Voucher) Recipient() string   { return v.recipient }
func (v *Voucher) IssuedAt() time.Time { return v.issuedAt }

// NormalizeRecipient accepts a bare address only ("a@b.c", not "Name <a@b.c>").
func NormalizeRecipient(s string) (string, error) {
	s = strings.TrimSpace(s)
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" {
		return "", ErrInvalidRecipient
	}
	return strings.ToLower(s), nil
}
