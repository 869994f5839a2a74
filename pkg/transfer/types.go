package transfer

import (
	"sync"
	"time"

	"github.com/capydeploy/capydeploy/pkg/protocol"
)

// DefaultChunkSize is the default size for file chunks (1MB).
const DefaultChunkSize = 1024 * 1024

// Chunk represents a single chunk of data in a transfer.
type Chunk struct {
	Offset   int64  `json:"offset"`
	Size     int    `json:"size"`
	Data     []byte `json:"data,omitempty"`
	FilePath string `json:"filePath"`
	Checksum string `json:"checksum,omitempty"`
}

// FileEntry represents a file in the upload manifest.
type FileEntry struct {
	RelativePath string `json:"relativePath"`
	Size         int64  `json:"size"`
}

// PendingArtworkImage is a binary artwork blob received with app_id=0,
// before the upload's shortcut app ID is known. It is buffered on the
// UploadSession and applied once complete_upload creates the
// shortcut, per spec.md §9's pending-artwork design note.
type PendingArtworkImage struct {
	ArtworkType string
	ContentType string
	Data        []byte
}

// UploadSession tracks an active upload operation. All mutating methods
// are safe for concurrent use; the Hub may drive several files of the
// same session in parallel as long as each file's own chunks arrive in
// offset order (enforced by Engine, not here).
type UploadSession struct {
	mu sync.RWMutex

	ID               string                `json:"id"`
	Config           protocol.UploadConfig `json:"config"`
	Status           protocol.UploadStatus `json:"status"`
	TotalBytes       int64                 `json:"totalBytes"`
	TransferredBytes int64                 `json:"transferredBytes"`
	Files            []FileEntry           `json:"files"`
	CurrentFile      string                `json:"currentFile,omitempty"`
	StartedAt        time.Time             `json:"startedAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
	CompletedAt      *time.Time            `json:"completedAt,omitempty"`
	Error            string                `json:"error,omitempty"`
	ChunkOffsets     map[string]int64      `json:"chunkOffsets"` // file -> last committed offset

	// PendingArtwork buffers artwork received with app_id=0 before the
	// upload's shortcut app ID is known. Applied and cleared at Complete.
	PendingArtwork []PendingArtworkImage `json:"-"`
}

// NewUploadSession creates a new upload session.
func NewUploadSession(id string, config protocol.UploadConfig, totalBytes int64, files []FileEntry) *UploadSession {
	now := time.Now()
	return &UploadSession{
		ID:           id,
		Config:       config,
		Status:       protocol.UploadStatusPending,
		TotalBytes:   totalBytes,
		Files:        files,
		StartedAt:    now,
		UpdatedAt:    now,
		ChunkOffsets: make(map[string]int64),
	}
}

// Start marks the session as in progress.
func (s *UploadSession) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = protocol.UploadStatusInProgress
	s.UpdatedAt = time.Now()
}

// AddProgress adds bytes to the transferred count and records the new
// committed offset for filePath.
func (s *UploadSession) AddProgress(bytes int64, filePath string, offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TransferredBytes += bytes
	s.ChunkOffsets[filePath] = offset + bytes
	s.CurrentFile = filePath
	s.UpdatedAt = time.Now()
}

// Complete marks the session as completed.
func (s *UploadSession) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = protocol.UploadStatusCompleted
	now := time.Now()
	s.CompletedAt = &now
	s.UpdatedAt = now
}

// Fail marks the session as failed with an error.
func (s *UploadSession) Fail(err string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = protocol.UploadStatusFailed
	s.Error = err
	s.UpdatedAt = time.Now()
}

// Cancel marks the session as cancelled.
func (s *UploadSession) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = protocol.UploadStatusCancelled
	s.UpdatedAt = time.Now()
}

// Progress returns a snapshot of the current progress.
func (s *UploadSession) Progress() protocol.UploadProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return protocol.UploadProgress{
		UploadID:         s.ID,
		Status:           s.Status,
		TotalBytes:       s.TotalBytes,
		TransferredBytes: s.TransferredBytes,
		CurrentFile:      s.CurrentFile,
		StartedAt:        s.StartedAt,
		UpdatedAt:        s.UpdatedAt,
		Error:            s.Error,
	}
}

// GetResumeOffset returns the committed offset to resume from for a file.
func (s *UploadSession) GetResumeOffset(filePath string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ChunkOffsets[filePath]
}

// ResumeOffsets returns a copy of every file's committed offset, for the
// upload_init_response's resumeFrom map.
func (s *UploadSession) ResumeOffsets() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.ChunkOffsets))
	for k, v := range s.ChunkOffsets {
		out[k] = v
	}
	return out
}

// IsActive returns true if the session can still accept chunks.
func (s *UploadSession) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status == protocol.UploadStatusPending || s.Status == protocol.UploadStatusInProgress
}

// AddPendingArtwork buffers an artwork blob received before the upload's
// shortcut app ID is known.
func (s *UploadSession) AddPendingArtwork(img PendingArtworkImage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingArtwork = append(s.PendingArtwork, img)
}

// DrainPendingArtwork returns and clears the buffered artwork.
func (s *UploadSession) DrainPendingArtwork() []PendingArtworkImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.PendingArtwork
	s.PendingArtwork = nil
	return pending
}

// declaredSize returns the declared size for relativePath, and whether
// that file appears in the session's manifest at all.
func (s *UploadSession) declaredSize(relativePath string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.Files {
		if f.RelativePath == relativePath {
			return f.Size, true
		}
	}
	return 0, false
}
