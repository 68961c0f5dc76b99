package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	applicationdomain "github.com/isabella232/smartstart-sub000/internal/application/domain"
	"github.com/isabella232/smartstart-sub000/internal/config"
)

func newTestClient(t *testing.T, baseURL string, retries int) Client {
	t.Helper()
	return Provide(Params{
		Cfg: config.Config{
			EServer: config.EServerConfig{
				BaseURL:    baseURL,
				Timeout:    5 * time.Second,
				MaxRetries: retries,
				RetryDelay: 10 * time.Millisecond,
			},
		},
		Logger: zap.NewNop(),
	})
}

func sampleSubmission() *applicationdomain.Submission {
	return &applicationdomain.Submission{
		Child: applicationdomain.Child{
			FirstNames: "Aroha Jane",
			Surname:    "Ngata",
			BirthDate:  "2026-05-14",
		},
		ConfirmationURLSuccess: "https://forms.example/ok",
		ConfirmationURLFailure: "https://forms.example/fail",
		ConfirmationEmail:      "parent@example.com",
	}
}

func TestValidateForcesActivityAndStripsIntakeFields(t *testing.T) {
	var received applicationdomain.Submission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(Outcome{Status: StatusValid})
	}))
	defer srv.Close()

	sub := sampleSubmission()
	outcome, err := newTestClient(t, srv.URL, 0).Validate(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, outcome.Status)

	assert.Equal(t, applicationdomain.ActivityValidateOnly, received.Activity)
	assert.Empty(t, received.ConfirmationURLSuccess)
	assert.Empty(t, received.ConfirmationURLFailure)
	assert.Empty(t, received.ConfirmationEmail)

	// caller's copy stays untouched
	assert.Empty(t, sub.Activity)
	assert.Equal(t, "parent@example.com", sub.ConfirmationEmail)
}

func TestSubmitForcesFullSubmission(t *testing.T) {
	var received applicationdomain.Submission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		json.NewEncoder(w).Encode(Outcome{Status: StatusComplete})
	}))
	defer srv.Close()

	outcome, err := newTestClient(t, srv.URL, 0).Submit(context.Background(), sampleSubmission())
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, outcome.Status)
	assert.Equal(t, applicationdomain.ActivityFullSubmission, received.Activity)
}

func TestBadRequestIsAnOutcomeNotAnErrorAndNeverRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(Outcome{
			Status:    StatusInvalid,
			Duplicate: true,
			Errors:    []FieldError{{Code: "E042", Field: "child.birthDate", Message: "date in future"}},
		})
	}))
	defer srv.Close()

	outcome, err := newTestClient(t, srv.URL, 2).Validate(context.Background(), sampleSubmission())
	require.NoError(t, err)
	assert.Equal(t, StatusInvalid, outcome.Status)
	assert.True(t, outcome.Duplicate)
	require.Len(t, outcome.Errors, 1)
	assert.Equal(t, "child.birthDate", outcome.Errors[0].Field)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestServerErrorRetriedThenSurfaced(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 2).Submit(context.Background(), sampleSubmission())
	require.Error(t, err)

	var regErr *Error
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, http.StatusBadGateway, regErr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestServerErrorRecoversOnRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Outcome{Status: StatusComplete})
	}))
	defer srv.Close()

	outcome, err := newTestClient(t, srv.URL, 2).Submit(context.Background(), sampleSubmission())
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, outcome.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestConnectivityFailureSurfacesRegistryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newTestClient(t, srv.URL, 1).Validate(context.Background(), sampleSubmission())
	require.Error(t, err)

	var regErr *Error
	require.ErrorAs(t, err, &regErr)
	assert.Zero(t, regErr.StatusCode)
}
