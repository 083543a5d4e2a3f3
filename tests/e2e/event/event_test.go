//go:build e2e

package event_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"event-voucher/internal/domain/user"
	"event-voucher/internal/handler/dto/request"
	"event-voucher/internal/handler/dto/response"
	"event-voucher/internal/pkg/config"
	"event-voucher/internal/pkg/errs"
	"event-voucher/internal/usecase/commands"
	"event-voucher/tests/common/builder"
	"event-voucher/tests/common/dbtest"
	"event-voucher/tests/common/httptest"
	"event-voucher/tests/e2e"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"
)

const (
	eventsURL   = "/api/events"
	eventURL    = "/api/events/%s"
	acquireURL  = "/api/events/%s/editable/me"
	maintainURL = "/api/events/%s/editable/maintain"
	releaseURL  = "/api/events/%s/editable/release"
)

type EventSuite struct {
	e2e.SharedSuite
}

func TestEventSuite(t *testing.T) {
	t.Parallel()
	suite.Run(t, new(EventSuite))
}

func intPtr(n int) *int { return &n }

func (s *EventSuite) createEvent(name string, maxVouchers int, issued *int) uuid.UUID {
	t := s.T()
	_, token := s.JWT.Admin(t)

	w := httptest.PerformRequest(t, s.Router, http.MethodPost, eventsURL,
		request.CreateEventRequest{Name: name, MaxVouchers: intPtr(maxVouchers), IssuedVouchers: issued}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created response.CreateEventResponse
	httptest.AssertSuccessResponse(t, w, http.StatusCreated, &created)
	return created.EventID
}

func (s *EventSuite) getEvent(id uuid.UUID) response.EventResponse {
	t := s.T()
	w := httptest.PerformRequest(t, s.Router, http.MethodGet, fmt.Sprintf(eventURL, id), nil, "")
	var got response.EventResponse
	httptest.AssertSuccessResponse(t, w, http.StatusOK, &got)
	return got
}

// =============================================================================
// TestCreateEvent - event creation API tests
// =============================================================================

func (s *EventSuite) TestCreateEvent() {
	s.Run("Normal case: admin creates an event with a full ledger", func() {
		t := s.T()

		id := s.createEvent("Spring Meetup", 50, nil)

		got := s.getEvent(id)
		want := response.EventResponse{
			ID:              id,
			Name:            "Spring Meetup",
			MaxVouchers:     50,
			IssuedVouchers:  50,
			ClaimedVouchers: 0,
			Version:         1,
		}
		if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(response.EventResponse{}, "CreatedAt", "UpdatedAt")); diff != "" {
			t.Errorf("event mismatch (-want +got):\n%s", diff)
		}
	})

	s.Run("Normal case: Location header points at the new event", func() {
		t := s.T()
		_, token := s.JWT.Admin(t)

		w := httptest.PerformRequest(t, s.Router, http.MethodPost, eventsURL,
			request.CreateEventRequest{Name: "Launch", MaxVouchers: intPtr(3)}, token)
		var created response.CreateEventResponse
		httptest.AssertSuccessResponse(t, w, http.StatusCreated, &created)
		httptest.AssertLocation(t, w, fmt.Sprintf(eventURL, created.EventID))
	})

	s.Run("Normal case: explicit remaining count is kept", func() {
		id := s.createEvent("Partially issued", 10, intPtr(4))
		require.Equal(s.T(), 4, s.getEvent(id).IssuedVouchers)
	})

	s.Run("Error case: remaining above maximum", func() {
		t := s.T()
		_, token := s.JWT.Admin(t)
		w := httptest.PerformRequest(t, s.Router, http.MethodPost, eventsURL,
			request.CreateEventRequest{Name: "Broken", MaxVouchers: intPtr(2), IssuedVouchers: intPtr(3)}, token)
		httptest.AssertErrorResponse(t, w, http.StatusBadRequest, "")
		require.Equal(t, 0, dbtest.CountRows(t, s.DB, "events"))
	})

	s.Run("Error case: editors cannot create events", func() {
		t := s.T()
		_, token := s.JWT.Editor(t)
		w := httptest.PerformRequest(t, s.Router, http.MethodPost, eventsURL,
			request.CreateEventRequest{Name: "Nope", MaxVouchers: intPtr(1)}, token)
		require.Equal(t, http.StatusForbidden, w.Code)
	})

	s.Run("Error case: anonymous request", func() {
		t := s.T()
		w := httptest.PerformRequest(t, s.Router, http.MethodPost, eventsURL,
			request.CreateEventRequest{Name: "Nope", MaxVouchers: intPtr(1)}, "")
		httptest.AssertErrorResponse(t, w, http.StatusUnauthorized, "")
	})

	s.Run("Error case: expired token", func() {
		t := s.T()
		token := s.JWT.CreateExpiredToken(t, uuid.New(), user.RoleAdmin)
		w := httptest.PerformRequest(t, s.Router, http.MethodPost, eventsURL,
			request.CreateEventRequest{Name: "Nope", MaxVouchers: intPtr(1)}, token)
		httptest.AssertErrorResponse(t, w, http.StatusUnauthorized, "")
	})
}

// =============================================================================
// TestGetEvent - event read API tests
// =============================================================================

func (s *EventSuite) TestGetEvent() {
	s.Run("Error case: unknown event", func() {
		t := s.T()
		w := httptest.PerformRequest(t, s.Router, http.MethodGet, fmt.Sprintf(eventURL, uuid.New()), nil, "")
		httptest.AssertErrorResponse(t, w, http.StatusNotFound, "")
	})

	s.Run("Error case: malformed id", func() {
		t := s.T()
		w := httptest.PerformRequest(t, s.Router, http.MethodGet, fmt.Sprintf(eventURL, "not-a-uuid"), nil, "")
		httptest.AssertErrorResponse(t, w, http.StatusBadRequest, "Invalid id")
	})

	s.Run("Normal case: a lapsed lease is reported inactive", func() {
		t := s.T()
		holder := uuid.New()
		stamped := s.Clock.Now().Add(-s.Config.Lease.TTL)
		ev := builder.NewEventBuilder().WithLease(holder, stamped).BuildStored()
		dbtest.InsertEvent(t, s.DB, ev)

		got := s.getEvent(ev.ID())
		require.NotNil(t, got.EditingBy)
		require.False(t, got.LeaseActive)
	})
}

// =============================================================================
// TestEditableLease - lease arbitration over HTTP
// =============================================================================

func (s *EventSuite) TestEditableLease() {
	s.Run("Normal case: acquire, maintain and release", func() {
		t := s.T()
		id := s.createEvent("Editable", 5, nil)
		editor, token := s.JWT.Editor(t)

		w := httptest.PerformRequest(t, s.Router, http.MethodPost, fmt.Sprintf(acquireURL, id), nil, token)
		var acquired response.LeaseResponse
		httptest.AssertSuccessResponse(t, w, http.StatusOK, &acquired)
		require.Equal(t, "acquired", acquired.Outcome)
		require.Equal(t, editor, *acquired.EditingBy)
		require.True(t, acquired.LastEditedAt.Add(s.Config.Lease.TTL).Equal(*acquired.ExpiresAt))

		s.Clock.Add(time.Minute)
		w = httptest.PerformRequest(t, s.Router, http.MethodPost, fmt.Sprintf(maintainURL, id), nil, token)
		var maintained response.LeaseResponse
		httptest.AssertSuccessResponse(t, w, http.StatusOK, &maintained)
		require.Equal(t, "refreshed", maintained.Outcome)
		require.True(t, maintained.LastEditedAt.After(*acquired.LastEditedAt))

		w = httptest.PerformRequest(t, s.Router, http.MethodPost, fmt.Sprintf(releaseURL, id), nil, token)
		var released response.LeaseResponse
		httptest.AssertSuccessResponse(t, w, http.StatusOK, &released)
		require.Equal(t, "released", released.Outcome)
		require.Nil(t, released.EditingBy)
		require.Nil(t, released.ExpiresAt)

		require.Nil(t, s.getEvent(id).EditingBy)
	})

	s.Run("Error case: a live lease blocks other editors", func() {
		t := s.T()
		id := s.createEvent("Contended", 5, nil)
		owner, ownerToken := s.JWT.Editor(t)
		_, otherToken := s.JWT.Editor(t)

		w := httptest.PerformRequest(t, s.Router, http.MethodPost, fmt.Sprintf(acquireURL, id), nil, ownerToken)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		s.Clock.Add(s.Config.Lease.TTL - time.Second)
		w = httptest.PerformRequest(t, s.Router, http.MethodPost, fmt.Sprintf(acquireURL, id), nil, otherToken)
		httptest.AssertErrorResponse(t, w, http.StatusConflict, "locked by another editor")

		w = httptest.PerformRequest(t, s.Router, http.MethodPost, fmt.Sprintf(releaseURL, id), nil, otherToken)
		httptest.AssertErrorResponse(t, w, http.StatusConflict, "not locked by caller")

		require.Equal(t, owner, *s.getEvent(id).EditingBy)
	})

	s.Run("Normal case: a lapsed lease is taken over", func() {
		t := s.T()
		id := s.createEvent("Lapsed", 5, nil)
		_, ownerToken := s.JWT.Editor(t)
		next, nextToken := s.JWT.Editor(t)

		w := httptest.PerformRequest(t, s.Router, http.MethodPost, fmt.Sprintf(acquireURL, id), nil, ownerToken)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		s.Clock.Add(s.Config.Lease.TTL)
		w = httptest.PerformRequest(t, s.Router, http.MethodPost, fmt.Sprintf(acquireURL, id), nil, nextToken)
		var got response.LeaseResponse
		httptest.AssertSuccessResponse(t, w, http.StatusOK, &got)
		require.Equal(t, next, *got.EditingBy)
	})

	s.Run("Normal case: maintaining a lapsed foreign lease clears it without granting", func() {
		t := s.T()
		id := s.createEvent("Reclaim", 5, nil)
		_, ownerToken := s.JWT.Editor(t)
		_, otherToken := s.JWT.Editor(t)

		w := httptest.PerformRequest(t, s.Router, http.MethodPost, fmt.Sprintf(acquireURL, id), nil, ownerToken)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		s.Clock.Add(s.Config.Lease.TTL + time.Second)
		w = httptest.PerformRequest(t, s.Router, http.MethodPost, fmt.Sprintf(maintainURL, id), nil, otherToken)
		var got response.LeaseResponse
		httptest.AssertSuccessResponse(t, w, http.StatusOK, &got)
		require.Equal(t, "reclaimed", got.Outcome)
		require.Nil(t, got.EditingBy)
	})

	s.Run("Error case: lease routes require a token", func() {
		t := s.T()
		id := s.createEvent("Private", 5, nil)
		w := httptest.PerformRequest(t, s.Router, http.MethodPost, fmt.Sprintf(acquireURL, id), nil, "")
		httptest.AssertErrorResponse(t, w, http.StatusUnauthorized, "")
	})

	s.Run("Error case: unknown event", func() {
		t := s.T()
		_, token := s.JWT.Editor(t)
		w := httptest.PerformRequest(t, s.Router, http.MethodPost, fmt.Sprintf(acquireURL, uuid.New()), nil, token)
		httptest.AssertErrorResponse(t, w, http.StatusNotFound, "")
	})
}

// =============================================================================
// TestConcurrentAcquire - racing editors against Postgres row locks
// =============================================================================

func (s *EventSuite) TestConcurrentAcquire() {
	s.Run("Normal case: one of many editors wins an unleased event", func() {
		t := s.T()
		id := s.createEvent("Race", 5, nil)

		const editors = 8
		holders := make([]uuid.UUID, editors)
		tokens := make([]string, editors)
		for i := range editors {
			holders[i], tokens[i] = s.JWT.Editor(t)
		}

		codes := make([]int, editors)
		var g errgroup.Group
		for i := range editors {
			g.Go(func() error {
				w := httptest.PerformRequest(t, s.Router, http.MethodPost, fmt.Sprintf(acquireURL, id), nil, tokens[i])
				codes[i] = w.Code
				if w.Code != http.StatusOK && w.Code != http.StatusConflict {
					return errs.Newf("editor %d: unexpected status %d: %s", i, w.Code, w.Body.String())
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		var winners []uuid.UUID
		for i, code := range codes {
			if code == http.StatusOK {
				winners = append(winners, holders[i])
			}
		}
		require.Len(t, winners, 1)

		got := s.getEvent(id)
		require.NotNil(t, got.EditingBy)
		require.Equal(t, winners[0], *got.EditingBy)
	})

	s.Run("Normal case: indexed strategy grants a holder only one of two events", func() {
		t := s.T()
		events := []uuid.UUID{s.createEvent("Left", 5, nil), s.createEvent("Right", 5, nil)}
		holder := uuid.NewString()

		cfg := s.Config.Lease
		cfg.Strategy = config.LeaseStrategyIndexed
		leases := commands.NewLeaseManager(s.Store, s.Clock, cfg, commands.Instruments{})

		results := make([]error, len(events))
		g, ctx := errgroup.WithContext(context.Background())
		for i, id := range events {
			g.Go(func() error {
				_, err := leases.Acquire(ctx, id.String(), holder)
				results[i] = err
				if err != nil && !errs.Is(err, commands.ErrHolderBusy) {
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		var won, busy int
		for _, err := range results {
			if err == nil {
				won++
			} else {
				busy++
			}
		}
		require.Equal(t, 1, won)
		require.Equal(t, 1, busy)
		require.Equal(t, 1, dbtest.CountRows(t, s.DB, "event_leases"))

		var leased int
		for _, id := range events {
			if got := s.getEvent(id); got.EditingBy != nil {
				require.Equal(t, holder, got.EditingBy.String())
				leased++
			}
		}
		require.Equal(t, 1, leased, "the losing event must not keep a lease")
	})
}
