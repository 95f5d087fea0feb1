package upload

import (
	"context"
	"log/slog"
	"sync"

	"reportsync/internal/apperrors"
	"reportsync/internal/download"
)

// StartRequest asks for an asynchronous upload session.
type StartRequest struct {
	DatasetID     string
	CalibrateID   string
	Artifacts     []download.ArtifactType // prepared on demand; empty uploads what is ready
	Payloads      map[download.ArtifactType][]byte
	Inputs        []Descriptor
	CreateRelease bool
	Release       Release

	// Select narrows the default selection to these descriptor keys
	// (artifact type for outputs, resource type for inputs). Ignored when
	// Artifacts is set.
	Select []string
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Coordinator *Coordinator
	Planner     *Planner
	Tracker     *Tracker

	// States returns the current artifact states for the default selection.
	States func() []download.DependencyState

	// OnFinish, if set, is called with every outcome.
	OnFinish func(*Outcome)
}

// Service runs upload sessions in the background.
type Service struct {
	cfg    ServiceConfig
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:     cfg,
		logger:  slog.With("component", "upload-service"),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]context.CancelFunc),
	}
}

// Start validates req and begins an upload session.
func (s *Service) Start(req StartRequest) (Session, error) {
	if req.DatasetID == "" {
		return Session{}, apperrors.Validation("datasetId", "dataset ID is required")
	}
	if req.CreateRelease && req.Release.Name == "" {
		return Session{}, apperrors.Validation("release.name", "release name is required")
	}

	var files []Descriptor
	if len(req.Artifacts) > 0 {
		if s.cfg.Planner == nil {
			return Session{}, apperrors.Validation("artifacts", "on-demand preparation is not available")
		}
		if req.CalibrateID == "" {
			return Session{}, apperrors.Validation("calibrateId", "calibrate ID is required to prepare artifacts")
		}
		for _, t := range req.Artifacts {
			if !t.Valid() {
				return Session{}, apperrors.Validation("artifacts", "unknown artifact type "+string(t))
			}
		}
	} else {
		var states []download.DependencyState
		if s.cfg.States != nil {
			states = s.cfg.States()
		}
		files = Narrow(DefaultSelection(states, req.Inputs), req.Select)
		if len(files) == 0 {
			return Session{}, apperrors.Validation("files", "nothing to upload")
		}
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return Session{}, apperrors.Conflict("upload service", "", "upload service is shutting down")
	}
	session := s.cfg.Tracker.Create(req.DatasetID)
	ctx, cancel := context.WithCancel(s.ctx)
	s.running[session.ID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("Upload session started", "sessionId", session.ID, "datasetId", req.DatasetID)
	go s.run(ctx, session.ID, req, files)
	return session, nil
}

// Get returns a session.
func (s *Service) Get(id string) (Session, error) {
	session, ok := s.cfg.Tracker.Get(id)
	if !ok {
		return Session{}, apperrors.NotFound("upload session", id)
	}
	return session, nil
}

// Cancel stops a running session. Files not yet attempted are skipped and no
// release is created.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Close cancels running sessions and waits for them to finish.
func (s *Service) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context, id string, req StartRequest, files []Descriptor) {
	defer s.wg.Done()

	var unavailable []FileResult
	if len(req.Artifacts) > 0 {
		planned, failed, err := s.cfg.Planner.Plan(ctx, PlanRequest{
			CalibrateID: req.CalibrateID,
			Artifacts:   req.Artifacts,
			Payloads:    req.Payloads,
			Inputs:      req.Inputs,
		})
		if err != nil {
			s.logger.Warn("Upload preparation interrupted", "sessionId", id, "error", err)
		}
		files, unavailable = planned, failed
	}

	s.cfg.Tracker.Uploading(id, len(files))

	out, err := s.cfg.Coordinator.Upload(ctx, Request{
		SessionID:     id,
		DatasetID:     req.DatasetID,
		Files:         files,
		CreateRelease: req.CreateRelease,
		Release:       req.Release,
		Unavailable:   unavailable,
	}, s.cfg.Tracker.Progress)
	if err != nil {
		// Planning produced nothing at all.
		out = &Outcome{SessionID: id, DatasetID: req.DatasetID, Status: OutcomeFileErrors}
		if ctx.Err() != nil {
			out.Status = OutcomeCancelled
		}
		s.logger.Warn("Upload session has nothing to upload", "sessionId", id, "error", err)
	}

	s.mu.Lock()
	if cancel, ok := s.running[id]; ok {
		cancel()
		delete(s.running, id)
	}
	s.mu.Unlock()

	s.cfg.Tracker.Finish(id, out)
	if s.cfg.OnFinish != nil {
		s.cfg.OnFinish(out)
	}
}
