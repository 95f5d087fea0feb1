package upload

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// SessionStatus is the phase of an upload session.
type SessionStatus string

// Session statuses
const (
	SessionPreparing SessionStatus = "preparing"
	SessionUploading SessionStatus = "uploading"
	SessionFinished  SessionStatus = "finished"
)

// Session is the observable progress of one upload.
type Session struct {
	ID          string        `json:"id"`
	DatasetID   string        `json:"datasetId"`
	Status      SessionStatus `json:"status"`
	Current     int           `json:"current"`
	Total       int           `json:"total"`
	CurrentFile *Descriptor   `json:"currentFile,omitempty"`
	Files       []FileResult  `json:"files"`
	Outcome     *Outcome      `json:"outcome,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Tracker keeps the most recent upload sessions.
type Tracker struct {
	mu       sync.Mutex
	sessions *lru.Cache[string, *Session]
}

// NewTracker creates a Tracker holding up to size sessions.
func NewTracker(size int) (*Tracker, error) {
	if size <= 0 {
		size = 128
	}
	cache, err := lru.New[string, *Session](size)
	if err != nil {
		return nil, err
	}
	return &Tracker{sessions: cache}, nil
}

// Create registers a new session.
func (t *Tracker) Create(datasetID string) Session {
	now := time.Now()
	s := &Session{
		ID:        uuid.NewString(),
		DatasetID: datasetID,
		Status:    SessionPreparing,
		CreatedAt: now,
		UpdatedAt: now,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions.Add(s.ID, s)
	return s.clone()
}

// Get returns a copy of a session.
func (t *Tracker) Get(id string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions.Get(id)
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Uploading marks the session as pushing total files.
func (t *Tracker) Uploading(id string, total int) {
	t.update(id, func(s *Session) {
		s.Status = SessionUploading
		s.Total = total
	})
}

// Progress records a progress event.
func (t *Tracker) Progress(p Progress) {
	t.update(p.SessionID, func(s *Session) {
		s.Current = p.Index
		s.Total = p.Total
		if p.Status == FileUploading {
			file := p.File
			s.CurrentFile = &file
			return
		}
		s.CurrentFile = nil
		s.Files = append(s.Files, FileResult{File: p.File, Status: p.Status, Err: p.Err})
	})
}

// Finish records the outcome.
func (t *Tracker) Finish(id string, out *Outcome) {
	t.update(id, func(s *Session) {
		s.Status = SessionFinished
		s.CurrentFile = nil
		s.Outcome = out
		if out != nil {
			s.Files = slices.Clone(out.Files)
		}
	})
}

func (t *Tracker) update(id string, fn func(*Session)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions.Peek(id)
	if !ok {
		return
	}
	fn(s)
	s.UpdatedAt = time.Now()
}

func (s *Session) clone() Session {
	c := *s
	c.Files = slices.Clone(s.Files)
	if s.CurrentFile != nil {
		file := *s.CurrentFile
		c.CurrentFile = &file
	}
	return c
}
