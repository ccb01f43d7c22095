package handler

import (
	"context"
	"log/slog"

	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/config"
	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/job"
	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/pipeline"
	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/store"
	"github.com/marbindrakon/simple-aircraft-manager-sub000/shared/postgresql"
)

// AircraftDirectory is the subset of the record store the handlers need
// to resolve and create aircraft.
type AircraftDirectory interface {
	AircraftByID(ctx context.Context, aircraftID string) (*store.Aircraft, error)
	AircraftByTailNumber(ctx context.Context, tailNumber string) (*store.Aircraft, error)
	CreateAircraft(ctx context.Context, tailNumber, make, model string) (string, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Jobs           *job.Store
	Orchestrator   *pipeline.Orchestrator
	Records        AircraftDirectory
	Importer       config.ImporterConfig
	MaxUploadBytes int64
	DBClient       *postgresql.Client
}

// ImportHandler handles import-related HTTP requests
type ImportHandler struct {
	logger         *slog.Logger
	jobs           *job.Store
	orchestrator   *pipeline.Orchestrator
	records        AircraftDirectory
	importer       config.ImporterConfig
	maxUploadBytes int64
}

// NewImportHandler creates a new ImportHandler instance
func NewImportHandler(deps *Dependencies) *ImportHandler {
	return &ImportHandler{
		logger:         deps.Logger,
		jobs:           deps.Jobs,
		orchestrator:   deps.Orchestrator,
		records:        deps.Records,
		importer:       deps.Importer,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}
