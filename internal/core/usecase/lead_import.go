package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
)

const maxImportErrors = 20

var leadHeaderAliases = map[string]string{
	"leadid":                  "lead_id",
	"id":                      "lead_id",
	"leadname":                "name",
	"name":                    "name",
	"email":                   "email",
	"countrycode":             "country_code",
	"phone":                   "phone",
	"projectname":             "project_name",
	"project":                 "project_name",
	"unittype":                "unit_type",
	"minbudget":               "budget_min",
	"budgetmin":               "budget_min",
	"maxbudget":               "budget_max",
	"budgetmax":               "budget_max",
	"leadstatus":              "status",
	"status":                  "status",
	"lastconversationdate":    "last_conversation_date",
	"lastconversationsummary": "last_conversation_summary",
}

var leadDateLayouts = []string{"02-01-2006", "2006-01-02", "01-02-06", "2006-01-02 15:04:05", time.RFC3339}

type ImportLeadsUseCase struct {
	reader ports.SpreadsheetReader
	leads  ports.LeadRepository
}

func NewImportLeadsUseCase(reader ports.SpreadsheetReader, leads ports.LeadRepository) *ImportLeadsUseCase {
	return &ImportLeadsUseCase{reader: reader, leads: leads}
}

func (uc *ImportLeadsUseCase) ImportLeads(ctx context.Context, r io.Reader) (domain.LeadImportReport, error) {
	var report domain.LeadImportReport

	rows, err := uc.reader.Rows(r)
	if err != nil {
		return report, domain.WrapError(domain.ErrInvalidInput, "read spreadsheet", err)
	}
	if len(rows) == 0 {
		return report, domain.WrapError(domain.ErrInvalidInput, "read spreadsheet", errors.New("spreadsheet is empty"))
	}

	columns := mapLeadHeader(rows[0])
	if _, ok := columns["lead_id"]; !ok {
		return report, domain.WrapError(domain.ErrInvalidInput, "read spreadsheet", errors.New("missing Lead ID column"))
	}

	for i, row := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if isBlankRow(row) {
			continue
		}
		report.Rows++
		rowNumber := i + 2

		lead, err := parseLeadRow(columns, row)
		if err != nil {
			report.Skipped++
			addImportError(&report, fmt.Sprintf("row %d: %v", rowNumber, err))
			continue
		}
		if err := uc.leads.UpsertLead(ctx, lead); err != nil {
			report.Skipped++
			addImportError(&report, fmt.Sprintf("row %d (lead %s): %v", rowNumber, lead.LeadID, err))
			continue
		}
		report.Imported++
	}

	slog.Info("leads_imported", "rows", report.Rows, "imported", report.Imported, "skipped", report.Skipped)
	return report, nil
}

func mapLeadHeader(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, title := range header {
		key := strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
				return r
			case r >= 'A' && r <= 'Z':
				return r + ('a' - 'A')
			default:
				return -1
			}
		}, title)
		if field, ok := leadHeaderAliases[key]; ok {
			if _, seen := columns[field]; !seen {
				columns[field] = i
			}
		}
	}
	return columns
}

func parseLeadRow(columns map[string]int, row []string) (domain.Lead, error) {
	cell := func(field string) string {
		idx, ok := columns[field]
		if !ok || idx >= len(row) {
			return ""
		}
		value := strings.TrimSpace(row[idx])
		if strings.EqualFold(value, "nan") {
			return ""
		}
		return value
	}

	lead := domain.Lead{
		LeadID:                  cell("lead_id"),
		Name:                    cell("name"),
		Email:                   cell("email"),
		CountryCode:             cell("country_code"),
		Phone:                   parsePhone(cell("phone")),
		ProjectName:             cell("project_name"),
		UnitType:                cell("unit_type"),
		BudgetMin:               parseBudget(cell("budget_min")),
		BudgetMax:               parseBudget(cell("budget_max")),
		Status:                  parseLeadStatus(cell("status")),
		LastConversationDate:    parseLeadDate(cell("last_conversation_date")),
		LastConversationSummary: cell("last_conversation_summary"),
	}
	if lead.LeadID == "" {
		return domain.Lead{}, errors.New("missing lead id")
	}
	if lead.Email == "" {
		return domain.Lead{}, errors.New("missing email")
	}
	return lead, nil
}

func parseBudget(raw string) float64 {
	cleaned := strings.ReplaceAll(raw, ",", "")
	if cleaned == "" {
		return 0
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	return value
}

// parsePhone undoes spreadsheet float formatting such as "9.1987654321E+11".
func parsePhone(raw string) string {
	if raw == "" {
		return ""
	}
	if strings.ContainsAny(raw, "eE.") {
		if value, err := strconv.ParseFloat(raw, 64); err == nil && value == math.Trunc(value) {
			return strconv.FormatFloat(value, 'f', 0, 64)
		}
	}
	return raw
}

func parseLeadStatus(raw string) domain.LeadStatus {
	for _, status := range []domain.LeadStatus{
		domain.LeadNotConnected,
		domain.LeadConnected,
		domain.LeadVisitScheduled,
		domain.LeadVisitNoPurchase,
		domain.LeadPurchased,
		domain.LeadNotInterested,
	} {
		if strings.EqualFold(raw, string(status)) {
			return status
		}
	}
	return domain.LeadNotConnected
}

func parseLeadDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range leadDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func addImportError(report *domain.LeadImportReport, msg string) {
	if len(report.Errors) < maxImportErrors {
		report.Errors = append(report.Errors, msg)
	}
}
