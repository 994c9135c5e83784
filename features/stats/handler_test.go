package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/features/location"
)

type MockLocationCounter struct{ mock.Mock }

func (m *MockLocationCounter) Counts(ctx context.Context) (map[location.Status]int, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.(map[location.Status]int), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockChunkCounter struct{ mock.Mock }

func (m *MockChunkCounter) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func TestHandler_GetStats_Table(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(*MockLocationCounter, *MockChunkCounter)
		wantStatus int
		wantBody   *StatsResponse
	}{
		{
			name: "Success",
			setupMocks: func(l *MockLocationCounter, c *MockChunkCounter) {
				l.On("Counts", mock.Anything).Return(map[location.Status]int{location.StatusCompleted: 10, location.StatusFailed: 2}, nil)
				c.On("Count", mock.Anything).Return(140, nil)
			},
			wantStatus: http.StatusOK,
			wantBody: &StatsResponse{
				Chunks:    140,
				Locations: map[location.Status]int{location.StatusCompleted: 10, location.StatusFailed: 2},
				Failed:    2,
			},
		},
		{
			name: "Empty",
			setupMocks: func(l *MockLocationCounter, c *MockChunkCounter) {
				l.On("Counts", mock.Anything).Return(nil, nil)
				c.On("Count", mock.Anything).Return(0, nil)
			},
			wantStatus: http.StatusOK,
			wantBody:   &StatsResponse{Locations: map[location.Status]int{}},
		},
		{
			name: "LedgerError",
			setupMocks: func(l *MockLocationCounter, c *MockChunkCounter) {
				l.On("Counts", mock.Anything).Return(nil, errors.New("db down"))
			},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "IndexError",
			setupMocks: func(l *MockLocationCounter, c *MockChunkCounter) {
				l.On("Counts", mock.Anything).Return(map[location.Status]int{}, nil)
				c.On("Count", mock.Anything).Return(0, errors.New("weaviate down"))
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := new(MockLocationCounter)
			c := new(MockChunkCounter)
			tt.setupMocks(l, c)

			w := httptest.NewRecorder()
			NewHandler(l, c).GetStats(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != nil {
				var resp struct {
					Data StatsResponse `json:"data"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, *tt.wantBody, resp.Data)
			} else {
				assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
			}
		})
	}
}
