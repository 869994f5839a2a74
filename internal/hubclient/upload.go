package hubclient

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/capydeploy/capydeploy/pkg/protocol"
	"github.com/capydeploy/capydeploy/pkg/transfer"
)

// LocalArtwork is one artwork image read from disk on the Hub side,
// sent as a binary frame with app_id=0 before complete_upload, per
// spec.md §4.6 step 4.
type LocalArtwork struct {
	ArtworkType string // "grid", "hero", "logo", "icon", or "banner"
	ContentType string
	Data        []byte
}

// UploadDirectory implements the Hub's upload flow end to end: walk the
// local directory, init_upload, send every file's chunks (seeking past
// any resume_from offset), send local artwork, then complete_upload. On
// any error it cancels the upload before returning.
func (c *Client) UploadDirectory(ctx context.Context, localDir string, config protocol.UploadConfig, artwork []LocalArtwork, createShortcut bool, shortcut *protocol.ShortcutConfig) (*protocol.CompleteUploadResponse, error) {
	files, totalSize, err := walkUploadDir(localDir)
	if err != nil {
		return nil, fmt.Errorf("walk upload directory: %w", err)
	}

	init, err := c.InitUpload(ctx, config, totalSize, files)
	if err != nil {
		return nil, fmt.Errorf("init_upload: %w", err)
	}

	if err := c.sendAllFiles(ctx, init.UploadID, localDir, files, init.ChunkSize, init.ResumeFrom); err != nil {
		c.CancelUpload(ctx, init.UploadID)
		return nil, err
	}

	for _, img := range artwork {
		if err := c.SendArtworkImage(ctx, 0, init.UploadID, img.ArtworkType, img.ContentType, img.Data); err != nil {
			c.CancelUpload(ctx, init.UploadID)
			return nil, fmt.Errorf("send local artwork %s: %w", img.ArtworkType, err)
		}
	}

	resp, err := c.CompleteUpload(ctx, init.UploadID, createShortcut, shortcut)
	if err != nil {
		c.CancelUpload(ctx, init.UploadID)
		return nil, fmt.Errorf("complete_upload: %w", err)
	}
	return resp, nil
}

func (c *Client) sendAllFiles(ctx context.Context, uploadID, localDir string, files []protocol.FileEntry, chunkSize int, resumeFrom map[string]int64) error {
	for _, f := range files {
		if err := c.sendFile(ctx, uploadID, localDir, f, chunkSize, resumeFrom[f.RelativePath]); err != nil {
			return fmt.Errorf("send file %q: %w", f.RelativePath, err)
		}
	}
	return nil
}

func (c *Client) sendFile(ctx context.Context, uploadID, localDir string, f protocol.FileEntry, chunkSize int, startOffset int64) error {
	path := filepath.Join(localDir, filepath.FromSlash(f.RelativePath))
	reader, err := transfer.NewChunkReader(path, chunkSize)
	if err != nil {
		return err
	}
	defer reader.Close()

	if startOffset > 0 {
		if err := reader.SeekTo(startOffset); err != nil {
			return fmt.Errorf("seek to resume offset %d: %w", startOffset, err)
		}
	}

	for reader.Offset() < f.Size {
		chunk, err := reader.NextChunk()
		if err != nil {
			return err
		}
		if chunk == nil {
			break
		}

		if err := c.UploadChunk(ctx, uploadID, f.RelativePath, chunk.Offset, chunk.Data, chunk.Checksum); err != nil {
			return err
		}
	}
	return nil
}

// walkUploadDir builds the files[] manifest and total byte count
// init_upload needs, using slash-separated relative paths regardless of
// the host OS per spec.md §4.4's relative_path convention.
func walkUploadDir(localDir string) ([]protocol.FileEntry, int64, error) {
	var files []protocol.FileEntry
	var total int64

	err := filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}
		files = append(files, protocol.FileEntry{
			RelativePath: filepath.ToSlash(rel),
			Size:         info.Size(),
		})
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return files, total, nil
}
