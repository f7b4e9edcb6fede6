package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"shadowgram/pkg/shadowgram"
)

// FileVault downloads referenced Telegram files into a local scratch
// directory, grouped per payload family, and removes them after use.
type FileVault struct {
	api      *tg.Client
	download *downloader.Downloader
	baseDir  string
}

// NewFileVault creates a vault rooted at baseDir, creating the per-family
// subdirectories up front.
func NewFileVault(client *gotdtelegram.Client, baseDir string) (*FileVault, error) {
	if client == nil {
		return nil, fmt.Errorf("new file vault: nil client")
	}
	if baseDir == "" {
		return nil, fmt.Errorf("new file vault: empty base dir")
	}

	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("new file vault: resolve base dir: %w", err)
	}
	for _, family := range []string{"photos", "videos", "voices", "files"} {
		if err := os.MkdirAll(filepath.Join(absDir, family), 0o700); err != nil {
			return nil, fmt.Errorf("new file vault: create %s dir: %w", family, err)
		}
	}

	return &FileVault{
		api:      client.API(),
		download: downloader.NewDownloader(),
		baseDir:  absDir,
	}, nil
}

// Download fetches the referenced file to disk and returns its local path.
func (v *FileVault) Download(
	ctx context.Context,
	assetRef string,
	kind shadowgram.MessageKind,
) (string, error) {
	refKind, descriptor, err := decodeAssetRef(assetRef)
	if err != nil {
		return "", fmt.Errorf("vault download: %w", err)
	}
	if refKind != kind {
		return "", fmt.Errorf("vault download: ref kind %s does not match %s", refKind, kind)
	}

	location, err := fileLocationFor(descriptor)
	if err != nil {
		return "", fmt.Errorf("vault download: %w", err)
	}

	localPath := filepath.Join(
		v.baseDir,
		subdirForKind(kind),
		uuid.NewString()+fileExtensionForKind(kind),
	)
	if _, err := v.download.Download(v.api, location).ToPath(ctx, localPath); err != nil {
		return "", fmt.Errorf("vault download to %s: %w", localPath, err)
	}

	return localPath, nil
}

// Remove deletes one downloaded file.
func (v *FileVault) Remove(path string) error {
	if path == "" {
		return fmt.Errorf("vault remove: empty path")
	}
	// Refuse paths outside the vault; callers only ever get paths from Download.
	if !strings.HasPrefix(filepath.Clean(path), v.baseDir+string(filepath.Separator)) {
		return fmt.Errorf("vault remove: path %s outside vault", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("vault remove %s: %w", path, err)
	}

	return nil
}

// fileLocationFor builds the MTProto download location for a descriptor.
func fileLocationFor(descriptor assetDescriptor) (tg.InputFileLocationClass, error) {
	switch descriptor.Media {
	case assetMediaPhoto:
		thumbSize := descriptor.ThumbSize
		if thumbSize == "" {
			thumbSize = "x"
		}
		return &tg.InputPhotoFileLocation{
			ID:            descriptor.ID,
			AccessHash:    descriptor.AccessHash,
			FileReference: descriptor.FileReference,
			ThumbSize:     thumbSize,
		}, nil
	case assetMediaDocument:
		return &tg.InputDocumentFileLocation{
			ID:            descriptor.ID,
			AccessHash:    descriptor.AccessHash,
			FileReference: descriptor.FileReference,
		}, nil
	default:
		return nil, fmt.Errorf("file location: unsupported media %q", descriptor.Media)
	}
}

var _ shadowgram.AssetVault = (*FileVault)(nil)
