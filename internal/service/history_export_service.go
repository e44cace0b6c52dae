package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/reentry-case-api/internal/models"
	appErrors "github.com/noah-isme/reentry-case-api/pkg/errors"
	"github.com/noah-isme/reentry-case-api/pkg/export"
)

// HistoryExportFormat selects the rendered file type.
type HistoryExportFormat string

const (
	HistoryExportCSV HistoryExportFormat = "csv"
	HistoryExportPDF HistoryExportFormat = "pdf"
)

const (
	historyColDate        = "Date"
	historyColType        = "Type"
	historyColDescription = "Description"
	historyColDetails     = "Details"
	historyColRecordedBy  = "Recorded By"
)

var historyExportHeaders = []string{historyColDate, historyColType, historyColDescription, historyColDetails, historyColRecordedBy}

type participantReader interface {
	GetParticipantByID(ctx context.Context, id string) (*models.Participant, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// HistoryExport is a rendered history document.
type HistoryExport struct {
	Filename    string
	ContentType string
	Data        []byte
}

// HistoryExportService renders a participant's history log as CSV or PDF.
type HistoryExportService struct {
	participants participantReader
	csv          csvRenderer
	pdf          pdfRenderer
	logger       *zap.Logger
	now          func() time.Time
}

// NewHistoryExportService constructs the service with the default renderers when none are given.
func NewHistoryExportService(participants participantReader, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *HistoryExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = &export.PDFExporter{ColumnWeights: map[string]float64{historyColDescription: 3, historyColDetails: 3}}
	}
	return &HistoryExportService{
		participants: participants,
		csv:          csv,
		pdf:          pdf,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Export renders the history of participant id in the requested format.
func (s *HistoryExportService) Export(ctx context.Context, id string, format HistoryExportFormat) (*HistoryExport, error) {
	if format == "" {
		format = HistoryExportCSV
	}
	if format != HistoryExportCSV && format != HistoryExportPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	participant, err := s.participants.GetParticipantByID(ctx, id)
	if err != nil {
		return nil, err
	}

	dataset := buildHistoryDataset(participant)
	var (
		data        []byte
		contentType string
	)
	switch format {
	case HistoryExportPDF:
		data, err = s.pdf.Render(dataset, "History - "+participant.FullName())
		contentType = "application/pdf"
	default:
		data, err = s.csv.Render(dataset)
		contentType = "text/csv"
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render history export")
	}

	s.logger.Debug("history exported", zap.String("participant_id", id), zap.String("format", string(format)), zap.Int("entries", len(dataset.Rows)))
	return &HistoryExport{
		Filename:    fmt.Sprintf("history_%s_%s.%s", sanitizeFilename(participant.FullName()), s.now().Format("20060102_150405"), format),
		ContentType: contentType,
		Data:        data,
	}, nil
}

func buildHistoryDataset(p *models.Participant) export.Dataset {
	entries := sortHistory(p.History)
	rows := make([]map[string]string, 0, len(entries))
	for _, entry := range entries {
		by := entry.CreatedByName
		if by == "" {
			by = entry.CreatedBy
		}
		rows = append(rows, map[string]string{
			historyColDate:        entry.CreatedAt.UTC().Format(time.RFC3339),
			historyColType:        string(entry.Type),
			historyColDescription: entry.Description,
			historyColDetails:     strings.ReplaceAll(entry.Details, "\n", "; "),
			historyColRecordedBy:  by,
		})
	}
	return export.Dataset{Headers: historyExportHeaders, Rows: rows}
}

const maxFilenameRunes = 100

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(strings.TrimSpace(raw))
	if runes := []rune(result); len(runes) > maxFilenameRunes {
		return string(runes[:maxFilenameRunes])
	}
	return result
}
