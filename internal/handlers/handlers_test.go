package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/homerec/internal/services"
	"github.com/temcen/homerec/pkg/models"
)

type MockRecommender struct {
	mock.Mock
}

func (m *MockRecommender) GuessYouLike(ctx context.Context, userID int64, limit int) ([]int64, error) {
	args := m.Called(ctx, userID, limit)
	return ids(args), args.Error(1)
}

func (m *MockRecommender) RecommendByPreference(ctx context.Context, userID int64, limit int) ([]int64, error) {
	args := m.Called(ctx, userID, limit)
	return ids(args), args.Error(1)
}

func (m *MockRecommender) RecommendByCollaborative(ctx context.Context, userID int64, limit int) ([]int64, error) {
	args := m.Called(ctx, userID, limit)
	return ids(args), args.Error(1)
}

func (m *MockRecommender) OtherUsersAlsoViewed(ctx context.Context, userID int64, limit int) ([]int64, error) {
	args := m.Called(ctx, userID, limit)
	return ids(args), args.Error(1)
}

func (m *MockRecommender) RecommendByPopularity(ctx context.Context, limit int) ([]int64, error) {
	args := m.Called(ctx, limit)
	return ids(args), args.Error(1)
}

func (m *MockRecommender) RecommendSimilarProperties(ctx context.Context, propertyID int64, limit int) ([]int64, error) {
	args := m.Called(ctx, propertyID, limit)
	return ids(args), args.Error(1)
}

func ids(args mock.Arguments) []int64 {
	if v := args.Get(0); v != nil {
		return v.([]int64)
	}
	return nil
}

type MockJobTracker struct {
	mock.Mock
}

func (m *MockJobTracker) CreateJob(ctx context.Context, kind, requestedBy string) (*models.PassJob, error) {
	args := m.Called(ctx, kind, requestedBy)
	return job(args), args.Error(1)
}

func (m *MockJobTracker) GetJob(ctx context.Context, jobID uuid.UUID) (*models.PassJob, error) {
	args := m.Called(ctx, jobID)
	return job(args), args.Error(1)
}

func (m *MockJobTracker) CancelJob(ctx context.Context, jobID uuid.UUID) (*models.PassJob, error) {
	args := m.Called(ctx, jobID)
	return job(args), args.Error(1)
}

func (m *MockJobTracker) FailJob(ctx context.Context, jobID uuid.UUID, errorMessage string) error {
	return m.Called(ctx, jobID, errorMessage).Error(0)
}

func job(args mock.Arguments) *models.PassJob {
	if v := args.Get(0); v != nil {
		return v.(*models.PassJob)
	}
	return nil
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishPassTrigger(ctx context.Context, jobID uuid.UUID, kind string) error {
	return m.Called(ctx, jobID, kind).Error(0)
}

type MockScorer struct {
	mock.Mock
}

func (m *MockScorer) PairSimilarity(ctx context.Context, userID1, userID2 int64) (*models.PairSimilarity, error) {
	args := m.Called(ctx, userID1, userID2)
	if v := args.Get(0); v != nil {
		return v.(*models.PairSimilarity), args.Error(1)
	}
	return nil, args.Error(1)
}

type stubHealth struct {
	status string
}

func (s stubHealth) CheckHealth(ctx context.Context) *services.HealthStatus {
	return &services.HealthStatus{Status: s.status, Timestamp: time.Now(), Services: map[string]string{}}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestRecommendationHandler_ForUser(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		query          string
		setup          func(m *MockRecommender)
		expectedStatus int
		expectedIDs    []int64
		expectedCode   string
	}{
		{
			name:  "default strategy and limit",
			query: "",
			setup: func(m *MockRecommender) {
				m.On("GuessYouLike", mock.Anything, int64(7), 10).Return([]int64{3, 1}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedIDs:    []int64{3, 1},
		},
		{
			name:  "collaborative with limit",
			query: "?strategy=cf&limit=2",
			setup: func(m *MockRecommender) {
				m.On("RecommendByCollaborative", mock.Anything, int64(7), 2).Return([]int64{5}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedIDs:    []int64{5},
		},
		{
			name:  "also viewed",
			query: "?strategy=also_viewed",
			setup: func(m *MockRecommender) {
				m.On("OtherUsersAlsoViewed", mock.Anything, int64(7), 10).Return([]int64{}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedIDs:    []int64{},
		},
		{
			name:  "preference without stored preference",
			query: "?strategy=preference",
			setup: func(m *MockRecommender) {
				m.On("RecommendByPreference", mock.Anything, int64(7), 10).
					Return(nil, fmt.Errorf("user 7: %w", models.ErrNotFound))
			},
			expectedStatus: http.StatusNotFound,
			expectedCode:   "NOT_FOUND",
		},
		{
			name:           "unknown strategy",
			query:          "?strategy=random",
			setup:          func(m *MockRecommender) {},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "INVALID_STRATEGY",
		},
		{
			name:  "store failure",
			query: "",
			setup: func(m *MockRecommender) {
				m.On("GuessYouLike", mock.Anything, int64(7), 10).Return(nil, errors.New("connection refused"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recommender := new(MockRecommender)
			tt.setup(recommender)
			handler := NewRecommendationHandler(recommender, testLogger())

			router := gin.New()
			router.GET("/users/:userId/recommendations", handler.ForUser)

			req := httptest.NewRequest(http.MethodGet, "/users/7/recommendations"+tt.query, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, errorCode(t, w))
			} else {
				var resp RecommendationResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, int64(7), resp.UserID)
				assert.Equal(t, tt.expectedIDs, resp.PropertyIDs)
				assert.Equal(t, len(tt.expectedIDs), resp.Count)
			}
			recommender.AssertExpectations(t)
		})
	}
}

func TestRecommendationHandler_InvalidUserID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRecommendationHandler(new(MockRecommender), testLogger())

	router := gin.New()
	router.GET("/users/:userId/recommendations", handler.ForUser)

	for _, id := range []string{"abc", "0", "-3"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/"+id+"/recommendations", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, id)
		assert.Equal(t, "INVALID_ID", errorCode(t, w))
	}
}

func TestRecommendationHandler_PopularAndSimilar(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recommender := new(MockRecommender)
	recommender.On("RecommendByPopularity", mock.Anything, 5).Return([]int64{9, 8}, nil)
	recommender.On("RecommendSimilarProperties", mock.Anything, int64(42), 10).Return([]int64{43}, nil)
	recommender.On("RecommendSimilarProperties", mock.Anything, int64(404), 10).
		Return(nil, fmt.Errorf("property 404: %w", models.ErrNotFound))
	handler := NewRecommendationHandler(recommender, testLogger())

	router := gin.New()
	router.GET("/recommendations/popular", handler.Popular)
	router.GET("/properties/:propertyId/similar", handler.SimilarProperties)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/recommendations/popular?limit=5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp RecommendationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "popularity", resp.Strategy)
	assert.Equal(t, []int64{9, 8}, resp.PropertyIDs)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/properties/42/similar", nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp = RecommendationResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.PropertyID)
	assert.Equal(t, []int64{43}, resp.PropertyIDs)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/properties/404/similar", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	recommender.AssertExpectations(t)
}

func TestPassHandler_Trigger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jobID := uuid.New()

	tests := []struct {
		name           string
		body           string
		setup          func(jobs *MockJobTracker, pub *MockPublisher)
		expectedStatus int
		expectedCode   string
	}{
		{
			name: "queued",
			body: `{"kind":"property_content"}`,
			setup: func(jobs *MockJobTracker, pub *MockPublisher) {
				jobs.On("CreateJob", mock.Anything, "property_content", "").
					Return(&models.PassJob{JobID: jobID, Kind: "property_content", Status: models.JobStatusQueued}, nil)
				pub.On("PublishPassTrigger", mock.Anything, jobID, "property_content").Return(nil)
			},
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "missing kind",
			body:           `{}`,
			setup:          func(jobs *MockJobTracker, pub *MockPublisher) {},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "INVALID_JSON",
		},
		{
			name: "unknown kind",
			body: `{"kind":"everything"}`,
			setup: func(jobs *MockJobTracker, pub *MockPublisher) {
				jobs.On("CreateJob", mock.Anything, "everything", "").
					Return(nil, fmt.Errorf("%w: unknown pass kind everything", models.ErrInvalidRecord))
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "INVALID_PASS_KIND",
		},
		{
			name: "queue down fails the job",
			body: `{"kind":"user_behavior"}`,
			setup: func(jobs *MockJobTracker, pub *MockPublisher) {
				jobs.On("CreateJob", mock.Anything, "user_behavior", "").
					Return(&models.PassJob{JobID: jobID, Kind: "user_behavior", Status: models.JobStatusQueued}, nil)
				pub.On("PublishPassTrigger", mock.Anything, jobID, "user_behavior").Return(errors.New("broker unreachable"))
				jobs.On("FailJob", mock.Anything, jobID, mock.MatchedBy(func(msg string) bool {
					return strings.Contains(msg, "broker unreachable")
				})).Return(nil)
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   "QUEUE_UNAVAILABLE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := new(MockJobTracker)
			pub := new(MockPublisher)
			tt.setup(jobs, pub)
			handler := NewPassHandler(pub, jobs, testLogger())

			router := gin.New()
			router.POST("/passes", handler.Trigger)

			req := httptest.NewRequest(http.MethodPost, "/passes", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, errorCode(t, w))
			} else {
				var resp PassResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, jobID, resp.JobID)
				assert.Equal(t, models.JobStatusQueued, resp.Status)
			}
			jobs.AssertExpectations(t)
			pub.AssertExpectations(t)
		})
	}
}

func TestPassHandler_JobEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	running := uuid.New()
	queued := uuid.New()
	missing := uuid.New()

	jobs := new(MockJobTracker)
	jobs.On("GetJob", mock.Anything, running).
		Return(&models.PassJob{JobID: running, Kind: "user_comprehensive", Status: models.JobStatusProcessing}, nil)
	jobs.On("GetJob", mock.Anything, missing).Return(nil, fmt.Errorf("%w: job", models.ErrNotFound))
	jobs.On("CancelJob", mock.Anything, queued).
		Return(&models.PassJob{JobID: queued, Status: models.JobStatusCancelled}, nil)
	jobs.On("CancelJob", mock.Anything, running).
		Return(nil, fmt.Errorf("%w: job is processing", models.ErrInvalidRecord))
	handler := NewPassHandler(new(MockPublisher), jobs, testLogger())

	router := gin.New()
	router.GET("/passes/jobs/:jobId", handler.GetJob)
	router.POST("/passes/jobs/:jobId/cancel", handler.Cancel)

	tests := []struct {
		method         string
		path           string
		expectedStatus int
		expectedJob    string
	}{
		{http.MethodGet, "/passes/jobs/" + running.String(), http.StatusOK, models.JobStatusProcessing},
		{http.MethodGet, "/passes/jobs/" + missing.String(), http.StatusNotFound, ""},
		{http.MethodGet, "/passes/jobs/not-a-uuid", http.StatusBadRequest, ""},
		{http.MethodPost, "/passes/jobs/" + queued.String() + "/cancel", http.StatusOK, models.JobStatusCancelled},
		{http.MethodPost, "/passes/jobs/" + running.String() + "/cancel", http.StatusConflict, ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedJob != "" {
				var resp models.PassJob
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, tt.expectedJob, resp.Status)
			}
		})
	}
}

func TestSimilarityHandler_Pair(t *testing.T) {
	gin.SetMode(gin.TestMode)
	scorer := new(MockScorer)
	scorer.On("PairSimilarity", mock.Anything, int64(1), int64(2)).
		Return(&models.PairSimilarity{UserID1: 1, UserID2: 2, Preference: 0.5, Behavior: 0.2, Total: 0.32}, nil)
	scorer.On("PairSimilarity", mock.Anything, int64(1), int64(99)).
		Return(nil, fmt.Errorf("user 99: %w", models.ErrNotFound))
	handler := NewSimilarityHandler(scorer, testLogger())

	router := gin.New()
	router.GET("/users/:userId/similarity/:otherUserId", handler.Pair)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/1/similarity/2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var pair models.PairSimilarity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pair))
	assert.InDelta(t, 0.32, pair.Total, 1e-9)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/1/similarity/99", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/1/similarity/x", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	scorer.AssertExpectations(t)
}

func TestHealthHandler_Check(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for status, expected := range map[string]int{
		"healthy":   http.StatusOK,
		"degraded":  http.StatusOK,
		"unhealthy": http.StatusServiceUnavailable,
	} {
		handler := NewHealthHandler(testLogger(), stubHealth{status: status})
		router := gin.New()
		router.GET("/health", handler.Check)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, expected, w.Code, status)
	}
}
