package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegismed/caseflow/internal/auth"
	"github.com/aegismed/caseflow/internal/interactions"
	"github.com/aegismed/caseflow/internal/llm"
	"github.com/aegismed/caseflow/internal/model"
	"github.com/aegismed/caseflow/internal/server"
	"github.com/aegismed/caseflow/internal/stage"
	"github.com/aegismed/caseflow/internal/storage"
	"github.com/aegismed/caseflow/internal/testutil"
	"github.com/aegismed/caseflow/internal/vitals"
	"github.com/aegismed/caseflow/internal/workflow"
)

var (
	testDB  *storage.DB
	testSrv *httptest.Server
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	logger := testutil.TestLogger()

	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	// A model-free pipeline: the noop invoker satisfies every stage and
	// retrieval stays disabled, so evidence validation degrades.
	invoker := llm.Noop{}
	stages := []stage.Stage{
		stage.NewSymptomAnalysis(invoker, nil, logger),
		stage.NewEvidenceValidation(nil, logger),
		stage.NewTreatmentPlanning(invoker, interactions.NewStaticTable(), 0.3, logger),
		stage.NewSafetyReview(invoker, logger),
	}
	monitor := stage.NewVitalsMonitoring(vitals.DefaultThresholds())

	engine, err := workflow.New(stages, monitor, testDB, testDB, nil, workflow.Config{RetryLimit: 1}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build engine: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	srv := server.New(server.ServerConfig{
		DB:                  testDB,
		Engine:              engine,
		Logger:              logger,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
	testSrv = httptest.NewServer(srv.Handler())

	code := m.Run()

	testSrv.Close()
	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func seedPatient(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, testDB.UpsertPatient(context.Background(), model.Patient{
		ID: id, Name: "Test Patient", Age: 40, Gender: model.GenderFemale,
		MedicalHistory: []string{"asthma"},
	}))
}

func postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(testSrv.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeData(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Data json.RawMessage    `json:"data"`
		Meta model.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.NotEmpty(t, envelope.Meta.RequestID)
	require.NoError(t, json.Unmarshal(envelope.Data, target))
}

func decodeError(t *testing.T, resp *http.Response) model.ErrorDetail {
	t.Helper()
	defer resp.Body.Close()
	var envelope model.APIError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Error
}

func TestPatientRegistrationAndCaseFlow(t *testing.T) {
	// The whole flow runs over the API: register, then analyze. No
	// direct database access is needed to bring a patient into the
	// system.
	patient := model.Patient{
		ID: "pt-api-1", Name: "Casey Morgan", Age: 29, Gender: model.GenderFemale,
		MedicalHistory: []string{"migraine"},
		Allergies:      []string{"sulfa"},
	}
	resp := postJSON(t, "/v1/patients", patient)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created model.Patient
	decodeData(t, resp, &created)
	assert.Equal(t, patient, created)

	caseResp := postJSON(t, "/v1/cases", server.CreateCaseRequest{
		PatientID: "pt-api-1",
		Symptoms: model.Symptoms{
			ChiefComplaint: "throbbing headache",
			Symptoms:       []model.Symptom{{Name: "headache", Severity: 7, DurationDays: 2}},
		},
	})
	require.Equal(t, http.StatusOK, caseResp.StatusCode)

	var result model.CaseResult
	decodeData(t, caseResp, &result)
	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.Equal(t, "pt-api-1", result.PatientID)
}

func TestGetPatient(t *testing.T) {
	seedPatient(t, "pt-get-1")

	resp, err := http.Get(testSrv.URL + "/v1/patients/pt-get-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var p model.Patient
	decodeData(t, resp, &p)
	assert.Equal(t, "pt-get-1", p.ID)
	assert.Equal(t, []string{"asthma"}, p.MedicalHistory)

	notFound, err := http.Get(testSrv.URL + "/v1/patients/pt-missing")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, notFound.StatusCode)
	assert.Equal(t, model.ErrCodeNotFound, decodeError(t, notFound).Code)
}

func TestUpsertPatientValidation(t *testing.T) {
	resp := postJSON(t, "/v1/patients", model.Patient{Name: "No ID"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, model.ErrCodeInvalidInput, decodeError(t, resp).Code)

	resp = postJSON(t, "/v1/patients", model.Patient{ID: "pt-neg", Age: -1})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListPatientCases(t *testing.T) {
	seedPatient(t, "pt-history-1")

	for i := 0; i < 2; i++ {
		resp := postJSON(t, "/v1/cases", server.CreateCaseRequest{
			PatientID: "pt-history-1",
			Symptoms: model.Symptoms{
				Symptoms: []model.Symptom{{Name: "fatigue", Severity: 3, DurationDays: i + 1}},
			},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp, err := http.Get(testSrv.URL + "/v1/patients/pt-history-1/cases")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history []model.CaseResult
	decodeData(t, resp, &history)
	require.Len(t, history, 2)
	assert.NotEmpty(t, history[0].Trail)

	limited, err := http.Get(testSrv.URL + "/v1/patients/pt-history-1/cases?limit=1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, limited.StatusCode)
	var one []model.CaseResult
	decodeData(t, limited, &one)
	assert.Len(t, one, 1)

	bad, err := http.Get(testSrv.URL + "/v1/patients/pt-history-1/cases?limit=zero")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	empty, err := http.Get(testSrv.URL + "/v1/patients/pt-no-cases/cases")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, empty.StatusCode)
	var none []model.CaseResult
	decodeData(t, empty, &none)
	assert.Empty(t, none)
}

func TestCreateCaseRunsPipeline(t *testing.T) {
	seedPatient(t, "pt-case-1")

	resp := postJSON(t, "/v1/cases", server.CreateCaseRequest{
		PatientID: "pt-case-1",
		Symptoms: model.Symptoms{
			ChiefComplaint: "fever and cough",
			Symptoms: []model.Symptom{
				{Name: "fever", Severity: 6, DurationDays: 3},
				{Name: "cough", Severity: 4, DurationDays: 3},
			},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result model.CaseResult
	decodeData(t, resp, &result)

	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.True(t, result.IsComplete)
	assert.Equal(t, "pt-case-1", result.PatientID)
	require.NotNil(t, result.Diagnosis)
	assert.NotEmpty(t, result.Diagnosis.Diagnoses)
	require.NotNil(t, result.Treatment)
	assert.Empty(t, result.Treatment.Medications, "noop confidence sits below the medication floor")
	require.NotNil(t, result.Safety)
	assert.NotEmpty(t, result.Trail)
	assert.False(t, result.CompletedAt.IsZero())

	// The result is persisted and retrievable with its trail.
	getResp, err := http.Get(testSrv.URL + "/v1/cases/" + result.CaseID.String())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var fetched model.CaseResult
	decodeData(t, getResp, &fetched)
	assert.Equal(t, result.CaseID, fetched.CaseID)
	assert.Len(t, fetched.Trail, len(result.Trail))
}

func TestCreateCaseRejectsEmptySymptoms(t *testing.T) {
	seedPatient(t, "pt-case-2")

	resp := postJSON(t, "/v1/cases", server.CreateCaseRequest{
		PatientID: "pt-case-2",
		Symptoms:  model.Symptoms{ChiefComplaint: "unwell"},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, model.ErrCodeInvalidInput, decodeError(t, resp).Code)
}

func TestCreateCaseUnknownPatient(t *testing.T) {
	resp := postJSON(t, "/v1/cases", server.CreateCaseRequest{
		PatientID: "pt-never-registered",
		Symptoms: model.Symptoms{
			Symptoms: []model.Symptom{{Name: "headache", Severity: 3}},
		},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateCaseMalformedBody(t *testing.T) {
	resp, err := http.Post(testSrv.URL+"/v1/cases", "application/json",
		bytes.NewReader([]byte(`{"patient_id": `)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Post(testSrv.URL+"/v1/cases", "application/json",
		bytes.NewReader([]byte(`{"patient_id": "p", "unexpected_field": 1}`)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGetCaseNotFound(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/v1/cases/" + uuid.NewString())
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, model.ErrCodeNotFound, decodeError(t, resp).Code)
}

func TestGetCaseInvalidID(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/v1/cases/not-a-uuid")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitAndListVitals(t *testing.T) {
	seedPatient(t, "pt-vitals-1")

	resp := postJSON(t, "/v1/vitals", server.SubmitVitalsRequest{
		PatientID: "pt-vitals-1",
		Snapshot: model.VitalsSnapshot{
			HeartRate: 125, SystolicBP: 150, DiastolicBP: 95,
			TemperatureC: 38.4, RespiratoryRate: 22, SpO2: 95,
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report model.VitalsReport
	decodeData(t, resp, &report)
	assert.True(t, report.Critical, "heart rate 125 crosses the critical threshold")
	assert.NotEmpty(t, report.Alerts)

	listResp, err := http.Get(testSrv.URL + "/v1/patients/pt-vitals-1/vitals")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var snaps []model.VitalsSnapshot
	decodeData(t, listResp, &snaps)
	require.Len(t, snaps, 1)
	assert.Equal(t, 125, snaps[0].HeartRate)
	assert.Equal(t, "pt-vitals-1", snaps[0].PatientID)
}

func TestListVitalsEmptyPatient(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/v1/patients/pt-no-vitals/vitals")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snaps []model.VitalsSnapshot
	decodeData(t, resp, &snaps)
	assert.Empty(t, snaps)
}

func TestSubmitVitalsMissingPatientID(t *testing.T) {
	resp := postJSON(t, "/v1/vitals", server.SubmitVitalsRequest{
		Snapshot: model.VitalsSnapshot{HeartRate: 80},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		Status   string `json:"status"`
		Version  string `json:"version"`
		Database string `json:"database"`
	}
	decodeData(t, resp, &status)
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, "ok", status.Database)
}

func TestRequestIDPropagation(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, testSrv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-abc-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "req-abc-123", resp.Header.Get("X-Request-ID"))

	// Without a supplied ID the server mints one.
	resp2, err := http.Get(testSrv.URL + "/health")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.NotEmpty(t, resp2.Header.Get("X-Request-ID"))
}

func TestAuthMiddleware(t *testing.T) {
	hash, err := auth.HashServiceKey("test-service-key")
	require.NoError(t, err)

	authed := server.New(server.ServerConfig{
		DB:                  testDB,
		Logger:              testutil.TestLogger(),
		MaxRequestBodyBytes: 1 << 20,
		ServiceKeyHash:      hash,
	})
	srv := httptest.NewServer(authed.Handler())
	defer srv.Close()

	get := func(path, header string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	t.Run("missing header", func(t *testing.T) {
		resp := get("/v1/patients/p-1/vitals", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, model.ErrCodeUnauthorized, decodeError(t, resp).Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		resp := get("/v1/patients/p-1/vitals", "Basic dXNlcg==")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("wrong key", func(t *testing.T) {
		resp := get("/v1/patients/p-1/vitals", "Bearer wrong-key")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid key", func(t *testing.T) {
		resp := get("/v1/patients/p-1/vitals", "Bearer test-service-key")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("health stays open", func(t *testing.T) {
		resp := get("/health", "")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestRequestBodyLimit(t *testing.T) {
	oversized := bytes.Repeat([]byte("a"), 2<<20)
	body, err := json.Marshal(server.CreateCaseRequest{
		PatientID: string(oversized),
	})
	require.NoError(t, err)

	resp, err := http.Post(testSrv.URL+"/v1/cases", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestCreateCasePersistsForPatientListing(t *testing.T) {
	seedPatient(t, "pt-case-3")

	resp := postJSON(t, "/v1/cases", server.CreateCaseRequest{
		PatientID: "pt-case-3",
		Symptoms: model.Symptoms{
			Symptoms: []model.Symptom{{Name: "nausea", Severity: 5, DurationDays: 1}},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result model.CaseResult
	decodeData(t, resp, &result)

	stored, err := testDB.ListCaseResultsByPatient(context.Background(), "pt-case-3", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, result.CaseID, stored[0].CaseID)
}
