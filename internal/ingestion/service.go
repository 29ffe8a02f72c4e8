package ingestion

import (
	"time"

	"github.com/dairytrack/dairytrack/internal/core/session"
	"github.com/dairytrack/dairytrack/internal/core/storage"
	"github.com/dairytrack/dairytrack/internal/notify"
	"github.com/dairytrack/dairytrack/internal/schema"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Options tunes the ingestion service. Zero values fall back to defaults.
type Options struct {
	Location       *time.Location
	MaxBodySizeMB  int
	RequireSession bool
	Notifier       notify.Notifier
}

type Service struct {
	registry         *schema.Registry
	validator        *schema.Validator
	store            storage.RecordStore
	notifier         notify.Notifier
	loc              *time.Location
	maxBodySizeBytes int
	requireSession   bool

	nowFn func() time.Time
	newID func() string
}

func NewService(reg *schema.Registry, val *schema.Validator, repo storage.RecordStore, opts Options) *Service {
	if reg == nil {
		panic("ingestion: registry must not be nil")
	}
	if val == nil {
		panic("ingestion: validator must not be nil")
	}
	if repo == nil {
		panic("ingestion: store must not be nil")
	}
	if opts.MaxBodySizeMB <= 0 {
		opts.MaxBodySizeMB = 1 // default to 1MB
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Noop{}
	}
	return &Service{
		registry:         reg,
		validator:        val,
		store:            repo,
		notifier:         opts.Notifier,
		loc:              opts.Location,
		maxBodySizeBytes: opts.MaxBodySizeMB * 1024 * 1024,
		requireSession:   opts.RequireSession,
		nowFn:            time.Now,
		newID:            uuid.NewString,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/records", session.Require(s.requireSession), s.IngestHandler)
	r.GET("/v1/records", s.ListRecordsHandler)
}
