package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	v1 "github.com/dairytrack/dairytrack/internal/api/v1"
	"github.com/dairytrack/dairytrack/internal/core/aggregation"
	httperr "github.com/dairytrack/dairytrack/internal/core/errors"
	"github.com/dairytrack/dairytrack/internal/core/session"
	"github.com/dairytrack/dairytrack/internal/core/storage"
	"github.com/dairytrack/dairytrack/internal/notify"
	"github.com/dairytrack/dairytrack/internal/schema"
	"github.com/gin-gonic/gin"
)

const (
	msgReadBodyFailed  = "Failed to read request body"
	msgInvalidJSON     = "Invalid JSON body"
	msgPersistFailed   = "Failed to persist record"
	msgDuplicateRecord = "Record already exists"
	msgListFailed      = "Failed to list records"
)

// ingestionError carries the structured HTTP error shape from a helper back to the orchestrator.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// IngestHandler handles HTTP POST requests for record ingestion.
func (s *Service) IngestHandler(c *gin.Context) {
	ctx := c.Request.Context()

	rec, payloadSize, err := s.parseRecord(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := s.validateRecord(ctx, rec); err != nil {
		writeError(c, err)
		return
	}

	if err := s.normalizeRecord(ctx, rec); err != nil {
		writeError(c, err)
		return
	}

	slog.Info("Received Record",
		"record_id", rec.ID,
		"kind", rec.Kind,
		"cow_id", rec.CowID,
		"date", rec.Date,
		"recorded_by", rec.RecordedBy,
		"payload_size", payloadSize)

	if err := s.persistRecord(ctx, rec); err != nil {
		writeError(c, err)
		return
	}

	// Notification failures never fail an accepted write.
	if err := s.notifier.NotifyRecordIngested(ctx, notify.NewRecordIngested(rec)); err != nil {
		slog.Warn("Failed to publish record notification", "record_id", rec.ID, "kind", rec.Kind, "error", err)
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "accepted",
		"id":         rec.ID,
		"date":       rec.Date,
		"ingest_seq": rec.IngestSeq,
	})
}

// parseRecord reads the raw request body and decodes it into a Record.
// Numbers are kept as json.Number so decimal values survive exactly.
func (s *Service) parseRecord(c *gin.Context) (*v1.Record, int, *ingestionError) {
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, 0, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	var rec v1.Record
	dec := json.NewDecoder(bytes.NewReader(bodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	return &rec, len(bodyBytes), nil
}

// validateRecord runs envelope validation, then schema validation when the
// record kind has a registered schema.
func (s *Service) validateRecord(ctx context.Context, rec *v1.Record) *ingestionError {
	if err := rec.Validate(); err != nil {
		slog.Warn("Envelope validation failed", "error", err, "record_id", rec.ID)
		return invalidRecord(err)
	}

	sch, err := s.registry.Get(ctx, rec.Kind)
	if errors.Is(err, schema.ErrNotFound) {
		return nil
	}
	if err != nil {
		slog.Error("Schema lookup failed", "kind", rec.Kind, "error", err)
		return &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    err.Error(),
		}
	}

	if err := s.validator.ValidateData(ctx, sch, rec.Values); err != nil {
		slog.Warn("Schema validation failed for record values", "record_id", rec.ID, "kind", rec.Kind, "error", err)

		details := map[string]interface{}{
			"schema": rec.Kind,
		}
		var d schema.ValidationDetailer
		if errors.As(err, &d) {
			for k, v := range d.Details() {
				details[k] = v
			}
		}

		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpSchemaValidationError,
			message:    err.Error(),
			details:    details,
		}
	}

	return nil
}

// normalizeRecord parses the date and values, assigns an id if missing and
// stamps server-owned fields. Values are stored as decimal strings.
func (s *Service) normalizeRecord(ctx context.Context, rec *v1.Record) *ingestionError {
	parsed, err := rec.ToAggregation(s.loc)
	if err != nil {
		slog.Warn("Record values rejected", "error", err, "record_id", rec.ID, "kind", rec.Kind)
		return invalidRecord(err)
	}

	if rec.ID == "" {
		rec.ID = s.newID()
	}
	rec.Date = parsed.Date.Format(aggregation.DateLayout)

	values := make(map[string]interface{}, len(parsed.Values))
	for name, v := range parsed.Values {
		values[name] = v.String()
	}
	rec.Values = values

	rec.RecordedBy = session.FromContext(ctx).UserID
	rec.IngestedAt = s.nowFn().UTC()
	rec.IngestSeq = 0
	return nil
}

// persistRecord saves the record to the backing store.
func (s *Service) persistRecord(ctx context.Context, rec *v1.Record) *ingestionError {
	if err := s.store.SaveRecord(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			slog.Info("Duplicate record rejected", "record_id", rec.ID, "kind", rec.Kind)
			return &ingestionError{
				statusCode: http.StatusConflict,
				errorType:  httperr.HttpDuplicateRecordError,
				message:    msgDuplicateRecord,
			}
		}

		slog.Error("Failed to persist record", "error", err, "record_id", rec.ID)
		return &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgPersistFailed,
		}
	}

	return nil
}

// ListRecordsHandler handles GET /v1/records?kind=&cow_id=&start=&end=&cursor=&limit=.
// Results are ordered by ingest sequence; next_cursor resumes the scan.
func (s *Service) ListRecordsHandler(c *gin.Context) {
	q, cursor, limit, qerr := s.parseListQuery(c)
	if qerr != nil {
		writeError(c, qerr)
		return
	}

	records, err := s.store.ListRecordsAfterCursor(c.Request.Context(), cursor, q, limit)
	if err != nil {
		slog.Error("Failed to list records", "error", err, "kind", q.Kind, "cow_id", q.CowID)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgListFailed,
		})
		return
	}
	if records == nil {
		records = []*v1.Record{}
	}

	nextCursor := cursor
	if len(records) > 0 {
		nextCursor = records[len(records)-1].IngestSeq
	}

	c.JSON(http.StatusOK, gin.H{
		"records":     records,
		"next_cursor": nextCursor,
		"has_more":    len(records) == limit,
	})
}

func (s *Service) parseListQuery(c *gin.Context) (storage.RecordQuery, int64, int, *ingestionError) {
	q := storage.RecordQuery{
		Kind:  c.Query("kind"),
		CowID: c.Query("cow_id"),
	}

	if raw := c.Query("start"); raw != "" {
		start, err := aggregation.ParseDate(raw, s.loc)
		if err != nil {
			return q, 0, 0, invalidQuery("start: " + err.Error())
		}
		q.Start = start
	}
	if raw := c.Query("end"); raw != "" {
		end, err := aggregation.ParseDate(raw, s.loc)
		if err != nil {
			return q, 0, 0, invalidQuery("end: " + err.Error())
		}
		q.End = end
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.Start.After(q.End) {
		return q, 0, 0, invalidQuery("start must not be after end")
	}

	var cursor int64
	if raw := c.Query("cursor"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			return q, 0, 0, invalidQuery("cursor must be a non-negative integer")
		}
		cursor = parsed
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxListLimit {
			return q, 0, 0, invalidQuery("limit must be between 1 and " + strconv.Itoa(maxListLimit))
		}
		limit = parsed
	}

	return q, cursor, limit, nil
}

func invalidRecord(err error) *ingestionError {
	return &ingestionError{
		statusCode: http.StatusBadRequest,
		errorType:  httperr.HttpInvalidRecordError,
		message:    err.Error(),
	}
}

func invalidQuery(msg string) *ingestionError {
	return &ingestionError{
		statusCode: http.StatusBadRequest,
		errorType:  httperr.HttpInvalidQueryError,
		message:    msg,
	}
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
