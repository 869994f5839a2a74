package transfer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/capydeploy/capydeploy/pkg/protocol"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	return NewEngine(dir, 4), dir
}

func TestEngine_CreateWriteComplete(t *testing.T) {
	e, _ := newTestEngine(t)

	config := protocol.UploadConfig{GameName: "Game", Executable: "game.sh"}
	files := []FileEntry{{RelativePath: "game.sh", Size: 8}}

	session, err := e.Create(config, 8, files)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if session.Status != protocol.UploadStatusInProgress {
		t.Fatalf("Status = %v, want InProgress", session.Status)
	}

	if _, err := e.WriteChunk(session.ID, "game.sh", 0, []byte("abcd"), ""); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}
	if _, err := e.WriteChunk(session.ID, "game.sh", 4, []byte("efgh"), ""); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}

	done, err := e.Complete(session.ID)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if done.Status != protocol.UploadStatusCompleted {
		t.Fatalf("Status = %v, want Completed", done.Status)
	}
	if done.TransferredBytes != 8 {
		t.Fatalf("TransferredBytes = %d, want 8", done.TransferredBytes)
	}

	data, err := os.ReadFile(filepath.Join(e.GameDir("Game"), "game.sh"))
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if string(data) != "abcdefgh" {
		t.Fatalf("file content = %q, want %q", data, "abcdefgh")
	}
}

func TestEngine_WriteChunk_RejectsOffsetGap(t *testing.T) {
	e, _ := newTestEngine(t)
	session, _ := e.Create(protocol.UploadConfig{GameName: "G"}, 8, []FileEntry{{RelativePath: "a.bin", Size: 8}})

	if _, err := e.WriteChunk(session.ID, "a.bin", 4, []byte("abcd"), ""); err == nil {
		t.Fatal("expected an error writing at a non-zero first offset")
	}
}

func TestEngine_WriteChunk_RejectsOverrun(t *testing.T) {
	e, _ := newTestEngine(t)
	session, _ := e.Create(protocol.UploadConfig{GameName: "G"}, 4, []FileEntry{{RelativePath: "a.bin", Size: 4}})

	if _, err := e.WriteChunk(session.ID, "a.bin", 0, []byte("abcde"), ""); err == nil {
		t.Fatal("expected an error for a chunk exceeding the declared size")
	}
}

func TestEngine_WriteChunk_RejectsEmptyChunk(t *testing.T) {
	e, _ := newTestEngine(t)
	session, _ := e.Create(protocol.UploadConfig{GameName: "G"}, 4, []FileEntry{{RelativePath: "a.bin", Size: 4}})

	if _, err := e.WriteChunk(session.ID, "a.bin", 0, nil, ""); err == nil {
		t.Fatal("expected an error for a zero-length chunk")
	}
}

func TestEngine_WriteChunk_RejectsBadChecksum(t *testing.T) {
	e, _ := newTestEngine(t)
	session, _ := e.Create(protocol.UploadConfig{GameName: "G"}, 4, []FileEntry{{RelativePath: "a.bin", Size: 4}})

	if _, err := e.WriteChunk(session.ID, "a.bin", 0, []byte("abcd"), "not-a-real-checksum"); err == nil {
		t.Fatal("expected an error for a mismatched checksum")
	}
}

func TestEngine_Create_RejectsPathEscape(t *testing.T) {
	e, _ := newTestEngine(t)

	cases := []string{"../escape.bin", "/etc/passwd", `C:\Windows\system32`, "a/../../b"}
	for _, rel := range cases {
		if _, err := e.Create(protocol.UploadConfig{GameName: "G"}, 4, []FileEntry{{RelativePath: rel, Size: 4}}); err == nil {
			t.Errorf("Create() with escaping path %q should have failed", rel)
		}
	}
}

func TestEngine_WriteChunk_UnknownFile(t *testing.T) {
	e, _ := newTestEngine(t)
	session, _ := e.Create(protocol.UploadConfig{GameName: "G"}, 4, []FileEntry{{RelativePath: "a.bin", Size: 4}})

	if _, err := e.WriteChunk(session.ID, "b.bin", 0, []byte("abcd"), ""); err == nil {
		t.Fatal("expected an error writing to a file outside the manifest")
	}
}

func TestEngine_Cancel_RemovesDirectory(t *testing.T) {
	e, _ := newTestEngine(t)
	session, _ := e.Create(protocol.UploadConfig{GameName: "G"}, 8, []FileEntry{{RelativePath: "a.bin", Size: 8}})

	if _, err := e.WriteChunk(session.ID, "a.bin", 0, []byte("abcd"), ""); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}

	if err := e.Cancel(session.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if _, err := os.Stat(e.GameDir("G")); !os.IsNotExist(err) {
		t.Fatalf("game directory should not exist after cancel, stat err = %v", err)
	}

	// Cancelling an already-cancelled session is a safe no-op.
	if err := e.Cancel(session.ID); err != nil {
		t.Fatalf("second Cancel() should be a no-op success, got error = %v", err)
	}
}

func TestEngine_WriteChunk_RejectsOnTerminalSession(t *testing.T) {
	e, _ := newTestEngine(t)
	session, _ := e.Create(protocol.UploadConfig{GameName: "G"}, 4, []FileEntry{{RelativePath: "a.bin", Size: 4}})

	if err := e.Cancel(session.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if _, err := e.WriteChunk(session.ID, "a.bin", 0, []byte("abcd"), ""); err == nil {
		t.Fatal("expected an error writing to a cancelled session")
	}
}

func TestEngine_Create_ResumesFromExistingBytes(t *testing.T) {
	e, dir := newTestEngine(t)

	gameDir := filepath.Join(dir, "G")
	if err := os.MkdirAll(gameDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(gameDir, "a.bin"), []byte("AAAA"), 0o644); err != nil {
		t.Fatal(err)
	}

	session, err := e.Create(protocol.UploadConfig{GameName: "G"}, 8, []FileEntry{{RelativePath: "a.bin", Size: 8}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if off := session.GetResumeOffset("a.bin"); off != 4 {
		t.Fatalf("resume offset = %d, want 4", off)
	}
	if session.TransferredBytes != 4 {
		t.Fatalf("TransferredBytes = %d, want 4", session.TransferredBytes)
	}

	// Resuming from offset 4 should succeed; offset 0 should now fail.
	if _, err := e.WriteChunk(session.ID, "a.bin", 0, []byte("XXXX"), ""); err == nil {
		t.Fatal("expected offset 0 to be rejected after resume established offset 4")
	}
	if _, err := e.WriteChunk(session.ID, "a.bin", 4, []byte("BBBB"), ""); err != nil {
		t.Fatalf("WriteChunk() at resumed offset error = %v", err)
	}
}

func TestEngine_ProgressCallback(t *testing.T) {
	e, _ := newTestEngine(t)

	var calls int
	e.OnProgress(func(s *UploadSession) { calls++ })

	session, _ := e.Create(protocol.UploadConfig{GameName: "G"}, 4, []FileEntry{{RelativePath: "a.bin", Size: 4}})
	if _, err := e.WriteChunk(session.ID, "a.bin", 0, []byte("abcd"), ""); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}

	if calls != 1 {
		t.Fatalf("progress callback invoked %d times, want 1", calls)
	}
}

func TestEngine_ConcurrentDifferentFiles(t *testing.T) {
	e, _ := newTestEngine(t)
	session, _ := e.Create(protocol.UploadConfig{GameName: "G"}, 8, []FileEntry{
		{RelativePath: "a.bin", Size: 4},
		{RelativePath: "b.bin", Size: 4},
	})

	done := make(chan error, 2)
	go func() {
		_, err := e.WriteChunk(session.ID, "a.bin", 0, []byte("AAAA"), "")
		done <- err
	}()
	go func() {
		_, err := e.WriteChunk(session.ID, "b.bin", 0, []byte("BBBB"), "")
		done <- err
	}()

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent WriteChunk() error = %v", err)
		}
	}
	if session.TransferredBytes != 8 {
		t.Fatalf("TransferredBytes = %d, want 8", session.TransferredBytes)
	}
}
