package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/garyjia/docflow/internal/domain/entity"
	"github.com/garyjia/docflow/internal/domain/workflow"
)

const daySheetName = "Day"

var daySheetColumns = []string{"ID", "Status", "Created By", "Approvals", "Details", "Updated At"}

// DaySheetFileName is the attachment name of the sheet for docType on day
func DaySheetFileName(docType workflow.DocumentType, day string) string {
	return fmt.Sprintf("%s_%s.xlsx", docType, day)
}

// RenderDaySheet renders the documents of one batch day as an xlsx workbook
func RenderDaySheet(docType workflow.DocumentType, day string, docs []*entity.Document) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", daySheetName)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	title := fmt.Sprintf("%s %s", strings.ReplaceAll(string(docType), "_", " "), day)
	if err := f.SetCellValue(daySheetName, "A1", title); err != nil {
		return nil, fmt.Errorf("write title: %w", err)
	}

	header := make([]interface{}, len(daySheetColumns))
	for i, c := range daySheetColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(daySheetName, "A2", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if err := f.SetCellStyle(daySheetName, "A2", "F2", headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	sorted := make([]*entity.Document, len(docs))
	copy(sorted, docs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for i, doc := range sorted {
		cell, err := excelize.CoordinatesToCellName(1, i+3)
		if err != nil {
			return nil, err
		}
		row := []interface{}{
			doc.ID,
			string(doc.Status),
			doc.CreatedBy,
			approvals(doc),
			details(doc),
			doc.UpdatedAt.Format("2006-01-02 15:04:05"),
		}
		if err := f.SetSheetRow(daySheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %s: %w", doc.ID, err)
		}
	}

	f.SetColWidth(daySheetName, "A", "C", 18)
	f.SetColWidth(daySheetName, "D", "E", 40)
	f.SetColWidth(daySheetName, "F", "F", 20)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func approvals(doc *entity.Document) string {
	parts := make([]string, 0, len(doc.ApprovalStamps))
	for _, s := range doc.ApprovalStamps {
		parts = append(parts, fmt.Sprintf("%s (%s)", s.ActorName, s.Role))
	}
	return strings.Join(parts, ", ")
}

func details(doc *entity.Document) string {
	keys := make([]string, 0, len(doc.Payload))
	for k := range doc.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, doc.Payload[k]))
	}
	return strings.Join(parts, "; ")
}
