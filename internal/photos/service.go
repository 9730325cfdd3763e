// Package photos stores job photos in the object store and records them in
// the franchisee photo library.
package photos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pal-backend/internal/logger"
	"pal-backend/internal/models"
	"pal-backend/internal/storage"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
)

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/heic": "heic",
	"image/heif": "heic",
}

type Upload struct {
	FranchiseeID uint
	JobID        *uint
	TechnicianID *uint
	// DeclaredType is the client supplied Content-Type. It is only trusted
	// for HEIC, which content sniffing does not recognise.
	DeclaredType string
	Size         int64
	Body         io.Reader
}

// ObjectKey returns the storage key for a new photo of the franchisee.
func ObjectKey(franchiseeID uint, ext string) string {
	return fmt.Sprintf("franchisees/%d/%s.%s", franchiseeID, uuid.NewString(), ext)
}

// DetectType sniffs the leading bytes of an upload and returns a supported
// image content type.
func DetectType(head []byte, declared string) (string, error) {
	sniffed := http.DetectContentType(head)
	if _, ok := extensions[sniffed]; ok && sniffed != "image/heif" {
		return sniffed, nil
	}
	declared = strings.ToLower(strings.TrimSpace(declared))
	if (declared == "image/heic" || declared == "image/heif") && sniffed == "application/octet-stream" {
		return "image/heic", nil
	}
	return "", ErrUnsupportedFileType
}

// Save validates the upload, writes it to store and inserts the photo row.
// When the insert fails the stored object is removed again.
func Save(ctx context.Context, db *gorm.DB, store storage.ObjectStore, maxBytes int64, up Upload) (*models.FranchiseePhoto, error) {
	if up.Size > maxBytes {
		return nil, ErrFileTooLarge
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(up.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]

	contentType, err := DetectType(head, up.DeclaredType)
	if err != nil {
		return nil, err
	}

	// the size header can lie, so cap the stream as well
	body := io.LimitReader(io.MultiReader(bytes.NewReader(head), up.Body), maxBytes+1)
	counted := &countingReader{r: body}

	key := ObjectKey(up.FranchiseeID, extensions[contentType])
	if err := store.Put(ctx, key, counted, contentType); err != nil {
		return nil, fmt.Errorf("store photo: %w", err)
	}
	if counted.n > maxBytes {
		removeObject(ctx, store, key)
		return nil, ErrFileTooLarge
	}

	photo := models.FranchiseePhoto{
		FranchiseeID: up.FranchiseeID,
		JobID:        up.JobID,
		TechnicianID: up.TechnicianID,
		ObjectKey:    key,
		URL:          store.URL(key),
		ContentType:  contentType,
		SizeBytes:    counted.n,
	}
	if err := db.Create(&photo).Error; err != nil {
		removeObject(ctx, store, key)
		return nil, fmt.Errorf("record photo: %w", err)
	}
	return &photo, nil
}

func removeObject(ctx context.Context, store storage.ObjectStore, key string) {
	if err := store.Delete(ctx, key); err != nil {
		logger.L().Error("orphaned photo object", zap.String("key", key), zap.Error(err))
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
