package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/evoteli/models"
	"github.com/xuri/excelize/v2"
)

// ReportService renders history records as XLSX workbooks
type ReportService interface {
	AlertHistoryWorkbook(search *models.SavedSearch, alerts []*models.SearchAlert) ([]byte, error)
	SyncHistoryWorkbook(audience *models.Audience, records []*models.AudienceSyncRecord) ([]byte, error)
}

type ReportServiceImpl struct{}

func NewReportService() ReportService {
	return &ReportServiceImpl{}
}

func (s *ReportServiceImpl) AlertHistoryWorkbook(search *models.SavedSearch, alerts []*models.SearchAlert) ([]byte, error) {
	header := []string{"id", "sent_at", "property_count", "email_sent", "delivery_id", "error_message", "retry_count", "property_ids"}
	rows := make([][]string, 0, len(alerts))
	for _, a := range alerts {
		rows = append(rows, []string{
			a.ID.String(),
			formatTime(&a.SentAt),
			strconv.Itoa(a.PropertyCount),
			strconv.FormatBool(a.EmailSent),
			optString(a.DeliveryID),
			optString(a.ErrorMessage),
			strconv.Itoa(a.RetryCount),
			strings.Join(a.PropertyIDs, ","),
		})
	}
	return writeWorkbook(sheetName(search.Name, "alerts"), header, rows)
}

func (s *ReportServiceImpl) SyncHistoryWorkbook(audience *models.Audience, records []*models.AudienceSyncRecord) ([]byte, error) {
	header := []string{"id", "trigger", "status", "started_at", "completed_at", "properties_processed", "contacts_extracted", "contacts_uploaded", "contacts_matched", "error_message"}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.ID.String(),
			string(r.TriggeredBy),
			string(r.Status),
			formatTime(&r.StartedAt),
			formatTime(r.CompletedAt),
			strconv.Itoa(r.PropertiesProcessed),
			strconv.Itoa(r.ContactsExtracted),
			strconv.Itoa(r.ContactsUploaded),
			strconv.Itoa(r.ContactsMatched),
			optString(r.ErrorMessage),
		})
	}
	return writeWorkbook(sheetName(audience.Name, "syncs"), header, rows)
}

func writeWorkbook(name string, header []string, rows [][]string) ([]byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), name); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := xl.SetSheetRow(name, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := xl.SetSheetRow(name, cell, &rows[i]); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// sheetName strips the characters Excel rejects and keeps the 31 char limit
func sheetName(name, fallback string) string {
	replacer := strings.NewReplacer(":", "_", "\\", "_", "/", "_", "?", "_", "*", "_", "[", "_", "]", "_")
	safe := strings.TrimSpace(replacer.Replace(name))
	if safe == "" {
		safe = fallback
	}
	if r := []rune(safe); len(r) > 31 {
		safe = string(r[:31])
	}
	return safe
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func optString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
