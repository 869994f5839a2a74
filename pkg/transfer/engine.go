package transfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/capydeploy/capydeploy/pkg/protocol"
)

// Errors returned by Engine operations. These map to spec.md §7's
// Integrity and Resource error kinds; callers translate them into the
// wire's error codes.
var (
	ErrSessionNotFound  = errors.New("upload session not found")
	ErrSessionNotActive = errors.New("upload session is not active")
	ErrOffsetMismatch   = errors.New("chunk offset does not match the file's committed size")
	ErrChunkOverrun     = errors.New("chunk extends past the file's declared size")
	ErrEmptyChunk       = errors.New("chunk must contain at least one byte")
	ErrPathEscape       = errors.New("relative path escapes the game directory")
	ErrUnknownFile      = errors.New("file is not present in the upload manifest")
)

// ProgressFunc is invoked after every accepted chunk write (not on
// Complete or Cancel), so a caller (internal/agentsession) can forward
// upload_progress push events at whatever rate it chooses.
type ProgressFunc func(session *UploadSession)

// Engine owns every UploadSession for an Agent and performs the actual
// chunked writes to disk. It is connection-agnostic: nothing here knows
// about Hubs, WebSockets, or message framing, only file paths and byte
// ranges, so it can be driven directly by tests or by internal/agentsession.
type Engine struct {
	installBase string
	chunkSize   int

	mu       sync.RWMutex
	sessions map[string]*UploadSession

	fileLocksMu sync.Mutex
	fileLocks   map[string]*sync.Mutex

	writersMu sync.Mutex
	writers   map[string]*ChunkWriter // uploadID -> writer for that session's game dir

	onProgress ProgressFunc
}

// NewEngine creates an Engine that writes completed games under
// installBase. chunkSize <= 0 uses DefaultChunkSize.
func NewEngine(installBase string, chunkSize int) *Engine {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Engine{
		installBase: installBase,
		chunkSize:   chunkSize,
		sessions:    make(map[string]*UploadSession),
		fileLocks:   make(map[string]*sync.Mutex),
		writers:     make(map[string]*ChunkWriter),
	}
}

// OnProgress registers the callback invoked after each accepted chunk.
func (e *Engine) OnProgress(fn ProgressFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onProgress = fn
}

// ChunkSize returns the chunk size new sessions should be told to use.
func (e *Engine) ChunkSize() int {
	return e.chunkSize
}

// GameDir returns the on-disk directory a game's files are written into.
func (e *Engine) GameDir(gameName string) string {
	return filepath.Join(e.installBase, gameName)
}

// InstallBase returns the root directory games are installed under.
func (e *Engine) InstallBase() string {
	return e.installBase
}

// Create starts a new upload session. If files with matching relative
// paths already exist on disk under the game's directory (a partial
// upload left by a dropped connection, per spec.md Scenario C), their
// existing sizes become the session's initial committed offsets so the
// caller can report a resumeFrom map and the Hub can skip already-written
// bytes.
func (e *Engine) Create(config protocol.UploadConfig, totalBytes int64, files []FileEntry) (*UploadSession, error) {
	for _, f := range files {
		if err := validateRelativePath(f.RelativePath); err != nil {
			return nil, fmt.Errorf("file %q: %w", f.RelativePath, err)
		}
	}

	id := uuid.New().String()
	session := NewUploadSession(id, config, totalBytes, files)

	gameDir := e.GameDir(config.GameName)
	var resumed int64
	for _, f := range files {
		fullPath := filepath.Join(gameDir, filepath.FromSlash(f.RelativePath))
		info, err := os.Stat(fullPath)
		if err != nil || info.IsDir() {
			continue
		}
		offset := info.Size()
		if offset > f.Size {
			offset = f.Size
		}
		if offset > 0 {
			session.ChunkOffsets[f.RelativePath] = offset
			resumed += offset
		}
	}
	session.TransferredBytes = resumed
	session.Start()

	e.mu.Lock()
	e.sessions[id] = session
	e.mu.Unlock()

	e.writersMu.Lock()
	e.writers[id] = NewChunkWriter(gameDir, e.chunkSize)
	e.writersMu.Unlock()

	return session, nil
}

// Session returns the session for uploadID, or ErrSessionNotFound.
func (e *Engine) Session(uploadID string) (*UploadSession, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[uploadID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// WriteChunk writes one chunk to disk, enforcing every invariant spec.md
// §4.4/§8 requires: the session must be Active, the offset must equal
// the file's current committed size (strict append, no gaps and no
// overwrites), the chunk must not overrun the file's declared size, and
// an optional checksum must match before the bytes are committed. Chunks
// for the same file within one session are serialized; different files
// may be written concurrently.
func (e *Engine) WriteChunk(uploadID, relativePath string, offset int64, data []byte, checksum string) (int64, error) {
	if len(data) == 0 {
		return 0, ErrEmptyChunk
	}

	session, err := e.Session(uploadID)
	if err != nil {
		return 0, err
	}
	if !session.IsActive() {
		return 0, ErrSessionNotActive
	}
	if err := validateRelativePath(relativePath); err != nil {
		return 0, err
	}
	declaredSize, known := session.declaredSize(relativePath)
	if !known {
		return 0, ErrUnknownFile
	}

	lock := e.fileLock(uploadID, relativePath)
	lock.Lock()
	defer lock.Unlock()

	committed := session.GetResumeOffset(relativePath)
	if offset != committed {
		return 0, fmt.Errorf("%w: got %d, expected %d", ErrOffsetMismatch, offset, committed)
	}
	if offset+int64(len(data)) > declaredSize {
		return 0, fmt.Errorf("%w: offset %d + %d bytes exceeds declared size %d", ErrChunkOverrun, offset, len(data), declaredSize)
	}
	writer := e.chunkWriter(uploadID, session.Config.GameName)
	if err := writer.WriteChunk(&Chunk{
		Offset:   offset,
		Size:     len(data),
		Data:     data,
		FilePath: relativePath,
		Checksum: checksum,
	}); err != nil {
		if errors.Is(err, ErrChecksumMismatch) {
			return 0, err
		}
		return 0, fmt.Errorf("write chunk: %w", err)
	}

	session.AddProgress(int64(len(data)), relativePath, offset)

	if fn := e.progressFunc(); fn != nil {
		fn(session)
	}

	return session.GetResumeOffset(relativePath), nil
}

// Complete finalizes an upload: the files already on disk at
// installBase/gameName are the final resting place. On platforms with
// POSIX permission bits, the configured executable is marked executable.
// Any pending artwork is left in the session for the caller to apply and
// drain; Complete does not know about Steam shortcuts.
func (e *Engine) Complete(uploadID string) (*UploadSession, error) {
	session, err := e.Session(uploadID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, ErrSessionNotActive
	}

	if runtime.GOOS != "windows" && session.Config.Executable != "" {
		exePath := filepath.Join(e.GameDir(session.Config.GameName), filepath.FromSlash(session.Config.Executable))
		if info, statErr := os.Stat(exePath); statErr == nil {
			_ = os.Chmod(exePath, info.Mode()|0o111)
		}
	}

	session.Complete()
	return session, nil
}

// Cancel transitions a session to Cancelled and removes the partially
// written game directory. Calling Cancel twice is safe: once a session
// is already terminal, Cancel is a no-op success, matching spec.md §8's
// idempotence requirement.
func (e *Engine) Cancel(uploadID string) error {
	session, err := e.Session(uploadID)
	if err != nil {
		return err
	}
	if !session.IsActive() {
		return nil
	}

	session.Cancel()
	session.DrainPendingArtwork()

	gameDir := e.GameDir(session.Config.GameName)
	if err := os.RemoveAll(gameDir); err != nil {
		return fmt.Errorf("remove cancelled upload directory: %w", err)
	}
	return nil
}

// Remove deletes a terminal session from the table. Engines should call
// this once a session's result has been reported to the Hub so the
// session map doesn't grow unboundedly across a long Agent uptime.
func (e *Engine) Remove(uploadID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, uploadID)

	e.fileLocksMu.Lock()
	prefix := uploadID + "\x00"
	for k := range e.fileLocks {
		if strings.HasPrefix(k, prefix) {
			delete(e.fileLocks, k)
		}
	}
	e.fileLocksMu.Unlock()

	e.writersMu.Lock()
	delete(e.writers, uploadID)
	e.writersMu.Unlock()
}

// CancelAll cancels each listed upload, used by internal/agentsession to
// clean up uploads tied to a dropped connection after its grace period.
func (e *Engine) CancelAll(uploadIDs []string) {
	for _, id := range uploadIDs {
		_ = e.Cancel(id)
	}
}

// Sessions returns every tracked upload ID, active or terminal.
func (e *Engine) Sessions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) progressFunc() ProgressFunc {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.onProgress
}

func (e *Engine) fileLock(uploadID, relativePath string) *sync.Mutex {
	key := uploadID + "\x00" + relativePath
	e.fileLocksMu.Lock()
	defer e.fileLocksMu.Unlock()
	lock, ok := e.fileLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.fileLocks[key] = lock
	}
	return lock
}

// chunkWriter returns the ChunkWriter rooted at the session's game
// directory, creating one if Create ran before this Engine instance
// tracked writers (defensive; Create always populates this map).
func (e *Engine) chunkWriter(uploadID, gameName string) *ChunkWriter {
	e.writersMu.Lock()
	defer e.writersMu.Unlock()
	w, ok := e.writers[uploadID]
	if !ok {
		w = NewChunkWriter(e.GameDir(gameName), e.chunkSize)
		e.writers[uploadID] = w
	}
	return w
}

// validateRelativePath rejects any relative_path that could escape the
// game directory: absolute paths, Windows drive letters, and ".."
// segments after normalization, per spec.md §4.4 and Testable Property 4.
func validateRelativePath(relativePath string) error {
	if relativePath == "" {
		return fmt.Errorf("%w: empty path", ErrPathEscape)
	}

	slashed := filepath.ToSlash(relativePath)
	if strings.HasPrefix(slashed, "/") {
		return fmt.Errorf("%w: absolute path", ErrPathEscape)
	}
	if len(slashed) >= 2 && slashed[1] == ':' {
		return fmt.Errorf("%w: drive letter", ErrPathEscape)
	}

	cleaned := filepath.ToSlash(filepath.Clean(slashed))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("%w: parent directory reference", ErrPathEscape)
	}
	if strings.HasPrefix(cleaned, "/") {
		return fmt.Errorf("%w: absolute path", ErrPathEscape)
	}
	return nil
}
