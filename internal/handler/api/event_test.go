//go:build unit

package api_test

import (
	"net/http"
	"testing"
	"time"

	"event-voucher/internal/domain/user"
	"event-voucher/internal/handler/api"
	"event-voucher/internal/handler/middleware"
	resdto "event-voucher/internal/handler/dto/response"
	"event-voucher/internal/pkg/errs"
	"event-voucher/internal/usecase/commands"
	"event-voucher/internal/usecase/queries"
	"event-voucher/tests/common/httptest"
	"event-voucher/tests/common/testutil"
	commandsmock "event-voucher/tests/mock/commands"
	queriesmock "event-voucher/tests/mock/queries"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

type EventHandlerTestSuite struct {
	suite.Suite
	router     *gin.Engine
	mockCtrl   *gomock.Controller
	mockEvents *commandsmock.MockEventCommands
	mockLeases *commandsmock.MockLeaseManager
	mockQuery  *queriesmock.MockEventQueries
	holder     uuid.UUID
}

func TestEventHandlerSuite(t *testing.T) {
	suite.Run(t, new(EventHandlerTestSuite))
}

func (s *EventHandlerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.router = gin.New()
	s.router.Use(middleware.ErrorHandler())

	s.mockCtrl = gomock.NewController(s.T())
	s.mockEvents = commandsmock.NewMockEventCommands(s.mockCtrl)
	s.mockLeases = commandsmock.NewMockLeaseManager(s.mockCtrl)
	s.mockQuery = queriesmock.NewMockEventQueries(s.mockCtrl)
	h := api.NewEventHandler(s.mockEvents, s.mockLeases, s.mockQuery)
	s.holder = uuid.New()

	// Mock authentication middleware for testing
	authMiddleware := func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "Unauthorized"}})
			return
		}
		c.Set("user_id", s.holder)
		c.Set("user_role", user.RoleAdmin)
		c.Next()
	}

	s.router.POST("/api/events", authMiddleware, h.Create)
	s.router.GET("/api/events/:id", h.Get)
	s.router.POST("/api/events/:id/editable/me", authMiddleware, h.Acquire)
	s.router.POST("/api/events/:id/editable/maintain", authMiddleware, h.Maintain)
	s.router.POST("/api/events/:id/editable/release", authMiddleware, h.Release)
}

func (s *EventHandlerTestSuite) TearDownTest() {
	s.mockCtrl.Finish()
}

// ================================================================================
// TestCreate
// ================================================================================

func (s *EventHandlerTestSuite) TestCreate() {
	url := "/api/events"
	reqBody := map[string]any{"name": "Spring Meetup", "maxVouchers": 10}
	eventID := uuid.New()

	s.Run("success: returns 201 with the event id", func() {
		s.mockEvents.EXPECT().
			Create(gomock.Any(), commands.CreateEventInput{Name: "Spring Meetup", MaxVouchers: 10}).
			Return(&commands.CreateEventResult{EventID: eventID}, nil)

		rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, url, reqBody, "bearer-token")

		var body resdto.CreateEventResponse
		httptest.AssertSuccessResponse(s.T(), rec, http.StatusCreated, &body)
		s.Equal(eventID, body.EventID)
		httptest.AssertLocation(s.T(), rec, "/api/events/" + eventID.String())
	})

	s.Run("success: forwards issuedVouchers", func() {
		issued := 4
		s.mockEvents.EXPECT().
			Create(gomock.Any(), commands.CreateEventInput{Name: "Spring Meetup", MaxVouchers: 10, IssuedVouchers: &issued}).
			Return(&commands.CreateEventResult{EventID: eventID}, nil)

		body := testutil.RequestBody(s.T(), reqBody, testutil.With("issuedVouchers", 4))
		rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, url, body, "bearer-token")
		httptest.AssertSuccessResponse(s.T(), rec, http.StatusCreated, nil)
	})

	s.Run("error: 400 when required fields are missing", func() {
		for _, field := range []string{"name", "maxVouchers"} {
			s.Run(field, func() {
				body := testutil.RequestBody(s.T(), reqBody, testutil.Without(field))
				rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, url, body, "bearer-token")
				httptest.AssertErrorResponse(s.T(), rec, http.StatusBadRequest, "Invalid request")
			})
		}
	})

	s.Run("error: 401 when unauthenticated", func() {
		rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, url, reqBody, "")
		httptest.AssertErrorResponse(s.T(), rec, http.StatusUnauthorized, "Unauthorized")
	})

	s.Run("error: maps usecase errors", func() {
		testCases := []struct {
			name           string
			err            error
			expectedStatus int
			expectedMsg    string
		}{
			{"invalid input", errs.WithCause(commands.ErrInvalidInput, errs.New("max vouchers must be positive")), http.StatusBadRequest, "invalid input"},
			{"duplicate", commands.ErrEventExists, http.StatusConflict, "event id already taken"},
			{"store failure", commands.ErrStoreFailure, http.StatusInternalServerError, "Internal server error"},
			{"unmarked error", errs.New("boom"), http.StatusInternalServerError, "Internal server error"},
		}
		for _, tc := range testCases {
			s.Run(tc.name, func() {
				s.mockEvents.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, tc.err)
				rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, url, reqBody, "bearer-token")
				httptest.AssertErrorResponse(s.T(), rec, tc.expectedStatus, tc.expectedMsg)
			})
		}
	})
}

// ================================================================================
// TestGet
// ================================================================================

func (s *EventHandlerTestSuite) TestGet() {
	id := uuid.New()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	view := &queries.EventView{
		ID:              id,
		Name:            "Spring Meetup",
		MaxVouchers:     10,
		IssuedVouchers:  8,
		ClaimedVouchers: 2,
		Version:         3,
		CreatedAt:       at,
		UpdatedAt:       at,
	}

	s.Run("success", func() {
		s.mockQuery.EXPECT().GetByID(gomock.Any(), id).Return(view, nil)

		rec := httptest.PerformRequest(s.T(), s.router, http.MethodGet, "/api/events/"+id.String(), nil, "")

		var body resdto.EventResponse
		httptest.AssertSuccessResponse(s.T(), rec, http.StatusOK, &body)
		s.Equal(id, body.ID)
		s.Equal(8, body.IssuedVouchers)
		s.Equal(2, body.ClaimedVouchers)
		s.Nil(body.EditingBy)
		s.False(body.LeaseActive)
	})

	s.Run("error: 400 on malformed id", func() {
		rec := httptest.PerformRequest(s.T(), s.router, http.MethodGet, "/api/events/not-a-uuid", nil, "")
		httptest.AssertErrorResponse(s.T(), rec, http.StatusBadRequest, "Invalid id")
	})

	s.Run("error: 404 when missing", func() {
		s.mockQuery.EXPECT().GetByID(gomock.Any(), id).Return(nil, queries.ErrEventNotFound)
		rec := httptest.PerformRequest(s.T(), s.router, http.MethodGet, "/api/events/"+id.String(), nil, "")
		httptest.AssertErrorResponse(s.T(), rec, http.StatusNotFound, "event not found")
	})
}

// ================================================================================
// TestLeaseEndpoints
// ================================================================================

func (s *EventHandlerTestSuite) TestLeaseEndpoints() {
	eventID := uuid.New()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	exp := at.Add(5 * time.Minute)

	held := &commands.LeaseResult{
		EventID:      eventID,
		EditingBy:    &s.holder,
		LastEditedAt: &at,
		ExpiresAt:    &exp,
		Outcome:      commands.OutcomeAcquired,
	}

	s.Run("acquire passes the caller as holder", func() {
		s.mockLeases.EXPECT().Acquire(gomock.Any(), eventID.String(), s.holder.String()).Return(held, nil)

		rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, "/api/events/"+eventID.String()+"/editable/me", nil, "bearer-token")

		var body resdto.LeaseResponse
		httptest.AssertSuccessResponse(s.T(), rec, http.StatusOK, &body)
		s.Equal(commands.OutcomeAcquired, body.Outcome)
		s.Require().NotNil(body.EditingBy)
		s.Equal(s.holder, *body.EditingBy)
		s.Require().NotNil(body.ExpiresAt)
		s.True(exp.Equal(*body.ExpiresAt))
	})

	s.Run("maintain", func() {
		refreshed := *held
		refreshed.Outcome = commands.OutcomeRefreshed
		s.mockLeases.EXPECT().Renew(gomock.Any(), eventID.String(), s.holder.String()).Return(&refreshed, nil)

		rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, "/api/events/"+eventID.String()+"/editable/maintain", nil, "bearer-token")

		var body resdto.LeaseResponse
		httptest.AssertSuccessResponse(s.T(), rec, http.StatusOK, &body)
		s.Equal(commands.OutcomeRefreshed, body.Outcome)
	})

	s.Run("release", func() {
		s.mockLeases.EXPECT().Release(gomock.Any(), eventID.String(), s.holder.String()).
			Return(&commands.LeaseResult{EventID: eventID, Outcome: commands.OutcomeReleased}, nil)

		rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, "/api/events/"+eventID.String()+"/editable/release", nil, "bearer-token")

		var body resdto.LeaseResponse
		httptest.AssertSuccessResponse(s.T(), rec, http.StatusOK, &body)
		s.Equal(commands.OutcomeReleased, body.Outcome)
		s.Nil(body.EditingBy)
	})

	s.Run("error statuses", func() {
		testCases := []struct {
			name           string
			err            error
			expectedStatus int
			expectedMsg    string
		}{
			{"held by another editor", commands.ErrLeaseHeld, http.StatusConflict, "locked by another editor"},
			{"holder busy elsewhere", commands.ErrHolderBusy, http.StatusConflict, "already edits another event"},
			{"store contended", commands.ErrContended, http.StatusConflict, "try again later"},
			{"unknown event", commands.ErrEventNotFound, http.StatusNotFound, "event does not exist"},
			{"bad id", commands.ErrInvalidID, http.StatusBadRequest, "id must be a UUID"},
		}
		for _, tc := range testCases {
			s.Run(tc.name, func() {
				s.mockLeases.EXPECT().Acquire(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, tc.err)
				rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, "/api/events/"+eventID.String()+"/editable/me", nil, "bearer-token")
				httptest.AssertErrorResponse(s.T(), rec, tc.expectedStatus, tc.expectedMsg)
			})
		}
	})

	s.Run("error: 401 without token", func() {
		rec := httptest.PerformRequest(s.T(), s.router, http.MethodPost, "/api/events/"+eventID.String()+"/editable/release", nil, "")
		httptest.AssertErrorResponse(s.T(), rec, http.StatusUnauthorized, "Unauthorized")
	})
}
