package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Dosada05/tournament-history/models"
	"github.com/Dosada05/tournament-history/storage"
	"github.com/google/uuid"
)

const historyExportPrefix = "exports/history"

var ErrHistoryExportFailed = errors.New("failed to export tournament history")

// HistoryExport описывает загруженный документ экспорта.
type HistoryExport struct {
	ExportID   string    `json:"export_id"`
	Key        string    `json:"key"`
	URL        string    `json:"url"`
	Entries    int       `json:"entries"`
	ExportedAt time.Time `json:"exported_at"`
}

type historyExportDocument struct {
	UserID     string                 `json:"user_id"`
	ExportedAt time.Time              `json:"exported_at"`
	Statistics *models.UserStatistics `json:"statistics"`
	Entries    []*models.HistoryEntry `json:"entries"`
}

type HistoryExporter interface {
	Export(ctx context.Context, userID string) (*HistoryExport, error)
	DeleteExport(ctx context.Context, userID, exportID string) error
}

type historyExporter struct {
	results  ResultStore
	uploader storage.FileUploader
	logger   *slog.Logger
	now      func() time.Time
}

// NewHistoryExporter accepts a nil uploader; every call then fails with ErrStorageNotConfigured.
func NewHistoryExporter(results ResultStore, uploader storage.FileUploader, logger *slog.Logger) HistoryExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &historyExporter{
		results:  results,
		uploader: uploader,
		logger:   logger,
		now:      time.Now,
	}
}

func historyExportKey(userID, exportID string) string {
	return storage.ObjectKey(historyExportPrefix, userID, exportID+".json")
}

func (e *historyExporter) Export(ctx context.Context, userID string) (*HistoryExport, error) {
	if e.uploader == nil {
		return nil, ErrStorageNotConfigured
	}
	if strings.TrimSpace(userID) == "" || strings.Contains(userID, "/") {
		return nil, fmt.Errorf("%w: invalid user_id", ErrValidationFailed)
	}

	histories, err := e.results.ListForUsers(ctx, []string{userID})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHistoryExportFailed, err)
	}
	entries := histories[userID]

	exportedAt := e.now().UTC()
	doc := historyExportDocument{
		UserID:     userID,
		ExportedAt: exportedAt,
		Statistics: ComputeUserStatistics(userID, entries),
		Entries:    entries,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %w", ErrHistoryExportFailed, err)
	}

	exportID := uuid.NewString()
	key := historyExportKey(userID, exportID)
	result, err := e.uploader.Upload(ctx, key, storage.ContentTypeJSON, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHistoryExportFailed, err)
	}

	e.logger.Info("history exported",
		slog.String("user_id", userID),
		slog.String("key", result.Key),
		slog.Int("entries", len(entries)))
	return &HistoryExport{
		ExportID:   exportID,
		Key:        result.Key,
		URL:        result.Location,
		Entries:    len(entries),
		ExportedAt: exportedAt,
	}, nil
}

func (e *historyExporter) DeleteExport(ctx context.Context, userID, exportID string) error {
	if e.uploader == nil {
		return ErrStorageNotConfigured
	}
	if _, err := uuid.Parse(exportID); err != nil {
		return fmt.Errorf("%w: invalid export id", ErrValidationFailed)
	}
	if strings.TrimSpace(userID) == "" || strings.Contains(userID, "/") {
		return fmt.Errorf("%w: invalid user_id", ErrValidationFailed)
	}
	if err := e.uploader.Delete(ctx, historyExportKey(userID, exportID)); err != nil {
		return fmt.Errorf("failed to delete history export: %w", err)
	}
	return nil
}
