package redisstore

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// keys lays out every key under one prefix. Multi-key scripts assume a single
// Redis node (no cluster slot routing).
type keys struct {
	prefix string
}

func newKeys(prefix string) keys {
	if prefix == "" {
		prefix = "ev"
	}
	return keys{prefix: prefix}
}

func (k keys) event(id uuid.UUID) string         { return k.prefix + ":event:" + id.String() }
func (k keys) eventVouchers(id uuid.UUID) string { return k.prefix + ":event:" + id.String() + ":vouchers" }
func (k keys) activeLeases() string              { return k.prefix + ":leases" }
func (k keys) leaseByEvent(id uuid.UUID) string  { return k.prefix + ":lease:event:" + id.String() }
func (k keys) leaseByHolder(id uuid.UUID) string { return k.prefix + ":lease:holder:" + id.String() }
func (k keys) voucher(code string) string        { return k.prefix + ":voucher:" + code }
func (k keys) jobPrefix() string                 { return k.prefix + ":job:" }
func (k keys) job(id uuid.UUID) string           { return k.jobPrefix() + id.String() }
func (k keys) pendingJobs() string               { return k.prefix + ":jobs:pending" }
func (k keys) inflightJobs() string              { return k.prefix + ":jobs:inflight" }
func (k keys) deadJobs() string                  { return k.prefix + ":jobs:dead" }
func (k keys) deliveredJobs() string             { return k.prefix + ":jobs:delivered" }

// Timestamps are stored as unix microseconds, the precision Postgres keeps too.
func formatMicros(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func formatMicrosPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatMicros(*t)
}

func parseMicros(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(n).UTC(), nil
}

func parseMicrosPtr(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseMicros(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatUUIDPtr(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func parseUUIDPtr(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
