package services

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"fintracker/models"

	"github.com/beevik/etree"
)

// ExportService выгружает записи владельца в XML
type ExportService struct {
	borrowings *BorrowingService
}

// NewExportService создает новый экземпляр ExportService
func NewExportService(borrowings *BorrowingService) *ExportService {
	return &ExportService{borrowings: borrowings}
}

// Export пишет в w XML-документ со всеми записями владельца, производными полями и сводкой
func (s *ExportService) Export(ctx context.Context, ownerID string, w io.Writer) error {
	records, err := s.borrowings.List(ctx, ownerID, ListOptions{})
	if err != nil {
		return err
	}

	doc := buildLedgerDocument(records, s.borrowings.Now())
	if _, err := doc.WriteTo(w); err != nil {
		return fmt.Errorf("ошибка при записи XML: %w", err)
	}
	return nil
}

func buildLedgerDocument(records []models.Borrowing, now time.Time) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("ledger")
	root.CreateAttr("generatedAt", now.UTC().Format(time.RFC3339))

	summary := Summarize(records, now)
	sum := root.CreateElement("summary")
	sum.CreateElement("owedByMe").SetText(summary.TotalOwedByOwner.StringFixed(2))
	sum.CreateElement("owedToMe").SetText(summary.TotalOwedToOwner.StringFixed(2))
	sum.CreateElement("overdueCount").SetText(strconv.Itoa(summary.OverdueCount))
	sum.CreateElement("overdueAmount").SetText(summary.OverdueAmount.StringFixed(2))
	sum.CreateElement("total").SetText(strconv.Itoa(summary.Total))

	list := root.CreateElement("borrowings")
	for i := range records {
		b := &records[i]

		el := list.CreateElement("borrowing")
		el.CreateAttr("id", b.ID)
		el.CreateAttr("type", string(b.Direction))
		el.CreateAttr("status", string(b.Status))

		cp := el.CreateElement("counterparty")
		cp.CreateElement("name").SetText(b.CounterpartyName)
		if b.CounterpartyContact != "" {
			cp.CreateElement("contact").SetText(b.CounterpartyContact)
		}

		el.CreateElement("amount").SetText(b.Principal.StringFixed(2))
		el.CreateElement("remaining").SetText(b.Remaining.StringFixed(2))
		if b.DueDate != nil {
			el.CreateElement("dueDate").SetText(b.DueDate.UTC().Format(time.RFC3339))
		}
		if b.Notes != "" {
			el.CreateElement("notes").SetText(b.Notes)
		}

		rem := el.CreateElement("reminder")
		rem.CreateAttr("enabled", strconv.FormatBool(b.ReminderEnabled))
		rem.CreateAttr("daysBefore", strconv.Itoa(b.ReminderDaysBefore))

		overdue := el.CreateElement("overdue")
		overdue.CreateAttr("days", strconv.Itoa(OverdueDays(b, now)))
		overdue.CreateAttr("severity", string(OverdueSeverity(b, now)))
		overdue.SetText(strconv.FormatBool(IsOverdue(b, now)))

		el.CreateElement("createdAt").SetText(b.CreatedAt.UTC().Format(time.RFC3339))
	}

	doc.Indent(2)
	return doc
}
