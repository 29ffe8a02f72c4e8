package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	v1 "github.com/dairytrack/dairytrack/internal/api/v1"
	httperr "github.com/dairytrack/dairytrack/internal/core/errors"
	"github.com/dairytrack/dairytrack/internal/core/session"
	"github.com/dairytrack/dairytrack/internal/core/storage"
	storagemocks "github.com/dairytrack/dairytrack/internal/mocks/storage"
	"github.com/dairytrack/dairytrack/internal/notify"
	internalschema "github.com/dairytrack/dairytrack/internal/schema"
	"github.com/dairytrack/dairytrack/internal/schema/formats/protobuf"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const milkSessionProto = `
syntax = "proto3";

message MilkSession {
  double morning_volume = 1;
  double evening_volume = 2;
  int32 session_count = 3;
}
`

var fixedNow = time.Date(2024, 3, 10, 6, 30, 0, 0, time.UTC)

type recordingNotifier struct {
	msgs []notify.RecordIngested
	err  error
}

func (n *recordingNotifier) NotifyRecordIngested(_ context.Context, msg notify.RecordIngested) error {
	n.msgs = append(n.msgs, msg)
	return n.err
}

func (n *recordingNotifier) Close() error { return nil }

func newTestService(t *testing.T, store storage.RecordStore, opts Options) (*Service, *internalschema.Registry) {
	t.Helper()
	registry := internalschema.NewRegistry()
	validator := internalschema.NewValidator(protobuf.NewCompiler(), protobuf.NewValidator())
	svc := NewService(registry, validator, store, opts)
	svc.nowFn = func() time.Time { return fixedNow }
	svc.newID = func() string { return "generated-id" }
	return svc, registry
}

func newRouter(svc *Service) *gin.Engine {
	r := gin.New()
	r.Use(session.Middleware())
	svc.RegisterRoutes(r)
	return r
}

func postRecord(r http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/records", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) httperr.ErrorResponse {
	t.Helper()
	var errResp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
	return errResp
}

func TestIngestHandler_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockStore := storagemocks.NewRecordStore(t)
	var saved *v1.Record
	mockStore.EXPECT().
		SaveRecord(mock.Anything, mock.AnythingOfType("*v1.Record")).
		RunAndReturn(func(_ context.Context, rec *v1.Record) error {
			rec.IngestSeq = 7
			saved = rec
			return nil
		}).
		Once()

	notifier := &recordingNotifier{}
	svc, _ := newTestService(t, mockStore, Options{
		Location: time.FixedZone("WIB", 7*3600),
		Notifier: notifier,
	})
	r := newRouter(svc)

	resp := postRecord(r, `{
		"kind": "milk.session",
		"cow_id": "cow-7",
		"date": "2024-03-09T18:00:00Z",
		"values": {"morning_volume": 4.10, "evening_volume": "3.25"}
	}`, map[string]string{session.HeaderUserID: "farmer-1"})

	require.Equal(t, http.StatusAccepted, resp.Code)
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Equal(t, "accepted", result["status"])
	require.Equal(t, "generated-id", result["id"])
	require.Equal(t, float64(7), result["ingest_seq"])

	require.NotNil(t, saved)
	// 18:00 UTC is 01:00 the next day in WIB.
	require.Equal(t, "2024-03-10", saved.Date)
	require.Equal(t, "farmer-1", saved.RecordedBy)
	require.Equal(t, fixedNow, saved.IngestedAt)
	require.Equal(t, "4.1", saved.Values["morning_volume"])
	require.Equal(t, "3.25", saved.Values["evening_volume"])

	require.Len(t, notifier.msgs, 1)
	require.Equal(t, "generated-id", notifier.msgs[0].ID)
	require.Equal(t, int64(7), notifier.msgs[0].IngestSeq)
}

func TestIngestHandler_KeepsClientID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockStore := storagemocks.NewRecordStore(t)
	mockStore.EXPECT().
		SaveRecord(mock.Anything, mock.MatchedBy(func(rec *v1.Record) bool {
			return rec.ID == "rec-001" && rec.RecordedBy == ""
		})).
		Return(nil).
		Once()

	svc, _ := newTestService(t, mockStore, Options{})
	resp := postRecord(newRouter(svc), `{"id":"rec-001","kind":"feed.daily","date":"2024-03-10","values":{"protein":1.2}}`, nil)
	require.Equal(t, http.StatusAccepted, resp.Code)
}

func TestIngestHandler_NotifyFailureStillAccepts(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockStore := storagemocks.NewRecordStore(t)
	mockStore.EXPECT().SaveRecord(mock.Anything, mock.Anything).Return(nil).Once()

	notifier := &recordingNotifier{err: errors.New("broker down")}
	svc, _ := newTestService(t, mockStore, Options{Notifier: notifier})

	resp := postRecord(newRouter(svc), `{"kind":"feed.daily","date":"2024-03-10","values":{"protein":1.2}}`, nil)
	require.Equal(t, http.StatusAccepted, resp.Code)
	require.Len(t, notifier.msgs, 1)
}

func TestIngestHandler_InvalidJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockStore := storagemocks.NewRecordStore(t)
	svc, _ := newTestService(t, mockStore, Options{})

	resp := postRecord(newRouter(svc), "not json", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, httperr.HttpInvalidJsonError, decodeError(t, resp).ErrorType)
}

func TestIngestHandler_InvalidRecord(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"missing kind", `{"date":"2024-03-10","values":{"a":1}}`, "kind is required"},
		{"missing date", `{"kind":"milk.session","values":{"a":1}}`, "date is required"},
		{"no values", `{"kind":"milk.session","date":"2024-03-10","values":{}}`, "values must contain at least one entry"},
		{"bad date", `{"kind":"milk.session","date":"10/03/2024","values":{"a":1}}`, "date:"},
		{"non numeric", `{"kind":"milk.session","date":"2024-03-10","values":{"a":1,"note":"lame"}}`, "values must be numeric: note"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mockStore := storagemocks.NewRecordStore(t)
			svc, _ := newTestService(t, mockStore, Options{})

			resp := postRecord(newRouter(svc), tc.body, nil)
			require.Equal(t, http.StatusBadRequest, resp.Code)
			errResp := decodeError(t, resp)
			require.Equal(t, httperr.HttpInvalidRecordError, errResp.ErrorType)
			require.Contains(t, errResp.Message, tc.wantMsg)
		})
	}
}

func TestIngestHandler_SchemaValidationFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockStore := storagemocks.NewRecordStore(t)
	svc, registry := newTestService(t, mockStore, Options{})
	_, err := registry.Register("milk.session", []byte(milkSessionProto), true)
	require.NoError(t, err)

	resp := postRecord(newRouter(svc), `{
		"kind": "milk.session",
		"date": "2024-03-10",
		"values": {"morning_volume": 4.5, "midnight_volume": 1}
	}`, nil)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	errResp := decodeError(t, resp)
	require.Equal(t, httperr.HttpSchemaValidationError, errResp.ErrorType)
	details, ok := errResp.Details.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "milk.session", details["schema"])
}

func TestIngestHandler_SchemaValidationSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockStore := storagemocks.NewRecordStore(t)
	mockStore.EXPECT().SaveRecord(mock.Anything, mock.Anything).Return(nil).Once()

	svc, registry := newTestService(t, mockStore, Options{})
	_, err := registry.Register("milk.session", []byte(milkSessionProto), true)
	require.NoError(t, err)

	resp := postRecord(newRouter(svc), `{
		"kind": "milk.session",
		"date": "2024-03-10",
		"values": {"morning_volume": 4.5, "session_count": 2}
	}`, nil)
	require.Equal(t, http.StatusAccepted, resp.Code)
}

func TestIngestHandler_DuplicateRecord(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockStore := storagemocks.NewRecordStore(t)
	mockStore.EXPECT().
		SaveRecord(mock.Anything, mock.Anything).
		Return(storage.ErrDuplicate).
		Once()

	notifier := &recordingNotifier{}
	svc, _ := newTestService(t, mockStore, Options{Notifier: notifier})

	resp := postRecord(newRouter(svc), `{"id":"rec-001","kind":"feed.daily","date":"2024-03-10","values":{"protein":1.2}}`, nil)
	require.Equal(t, http.StatusConflict, resp.Code)
	require.Equal(t, httperr.HttpDuplicateRecordError, decodeError(t, resp).ErrorType)
	require.Empty(t, notifier.msgs)
}

func TestIngestHandler_StorageError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockStore := storagemocks.NewRecordStore(t)
	mockStore.EXPECT().
		SaveRecord(mock.Anything, mock.Anything).
		Return(errors.New("database connection failed")).
		Once()

	svc, _ := newTestService(t, mockStore, Options{})

	resp := postRecord(newRouter(svc), `{"kind":"feed.daily","date":"2024-03-10","values":{"protein":1.2}}`, nil)
	require.Equal(t, http.StatusInternalServerError, resp.Code)
	require.Equal(t, httperr.HttpInternalError, decodeError(t, resp).ErrorType)
}

func TestIngestHandler_RequireSession(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockStore := storagemocks.NewRecordStore(t)
	svc, _ := newTestService(t, mockStore, Options{RequireSession: true})

	resp := postRecord(newRouter(svc), `{"kind":"feed.daily","date":"2024-03-10","values":{"protein":1.2}}`, nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestIngestHandler_BodySizeLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockStore := storagemocks.NewRecordStore(t)
	svc, _ := newTestService(t, mockStore, Options{})
	svc.maxBodySizeBytes = 10

	resp := postRecord(newRouter(svc), `{"kind":"this is definitely more than 10 bytes of content"}`, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)

	errResp := decodeError(t, resp)
	require.Equal(t, httperr.HttpInvalidJsonError, errResp.ErrorType)
	require.Contains(t, errResp.Message, "maximum allowed size")
}

func TestListRecordsHandler_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)

	want := storage.RecordQuery{
		Kind:  "milk.session",
		CowID: "cow-7",
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}

	mockStore := storagemocks.NewRecordStore(t)
	mockStore.EXPECT().
		ListRecordsAfterCursor(mock.Anything, int64(5), want, 2).
		Return([]*v1.Record{
			{ID: "rec-1", Kind: "milk.session", CowID: "cow-7", Date: "2024-03-02", IngestSeq: 6, Values: map[string]interface{}{"total_volume": "8"}},
			{ID: "rec-2", Kind: "milk.session", CowID: "cow-7", Date: "2024-03-03", IngestSeq: 9, Values: map[string]interface{}{"total_volume": "9"}},
		}, nil).
		Once()

	svc, _ := newTestService(t, mockStore, Options{})

	req := httptest.NewRequest(http.MethodGet,
		"/v1/records?kind=milk.session&cow_id=cow-7&start=2024-03-01&end=2024-03-31&cursor=5&limit=2", nil)
	resp := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Records    []v1.Record `json:"records"`
		NextCursor int64       `json:"next_cursor"`
		HasMore    bool        `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Records, 2)
	require.Equal(t, "rec-1", body.Records[0].ID)
	require.Equal(t, int64(9), body.NextCursor)
	require.True(t, body.HasMore)
}

func TestListRecordsHandler_EmptyIsArray(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockStore := storagemocks.NewRecordStore(t)
	mockStore.EXPECT().
		ListRecordsAfterCursor(mock.Anything, int64(0), storage.RecordQuery{}, defaultListLimit).
		Return(nil, nil).
		Once()

	svc, _ := newTestService(t, mockStore, Options{})

	req := httptest.NewRequest(http.MethodGet, "/v1/records", nil)
	resp := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"records":[],"next_cursor":0,"has_more":false}`, resp.Body.String())
}

func TestListRecordsHandler_InvalidQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, rawQuery := range []string{
		"start=2024-03-10&end=2024-03-01",
		"start=yesterday",
		"limit=0",
		"limit=5000",
		"cursor=-1",
	} {
		t.Run(rawQuery, func(t *testing.T) {
			mockStore := storagemocks.NewRecordStore(t)
			svc, _ := newTestService(t, mockStore, Options{})

			req := httptest.NewRequest(http.MethodGet, "/v1/records?"+rawQuery, nil)
			resp := httptest.NewRecorder()
			newRouter(svc).ServeHTTP(resp, req)

			require.Equal(t, http.StatusBadRequest, resp.Code)
			require.Equal(t, httperr.HttpInvalidQueryError, decodeError(t, resp).ErrorType)
		})
	}
}

func TestListRecordsHandler_StoreError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockStore := storagemocks.NewRecordStore(t)
	mockStore.EXPECT().
		ListRecordsAfterCursor(mock.Anything, int64(0), mock.Anything, defaultListLimit).
		Return(nil, errors.New("db failure")).
		Once()

	svc, _ := newTestService(t, mockStore, Options{})

	req := httptest.NewRequest(http.MethodGet, "/v1/records?kind=milk.session", nil)
	resp := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(resp, req)

	require.Equal(t, http.StatusInternalServerError, resp.Code)
}
