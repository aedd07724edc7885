package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jung-kurt/gofpdf/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"taskgraph/internal/domain"
)

var reportColumns = []struct {
	title string
	width float64
}{
	{"Task", 45},
	{"Priority", 22},
	{"Status", 18},
	{"Depends on", 95},
}

// PDFService renders a task graph as a printable report.
type PDFService struct {
	printer *message.Printer
}

func NewPDFService() *PDFService {
	return &PDFService{printer: message.NewPrinter(language.English)}
}

func (s *PDFService) GenerateReport(result domain.TranscriptResult, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure report directory: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(fmt.Sprintf("Task graph %s", shortHash(result.Hash)), false)
	pdf.SetAuthor("taskgraph", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "Task graph")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Transcript: %s", result.Hash))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Processed: %s", result.CreatedAt.UTC().Format("2006-01-02 15:04 MST")))
	pdf.Ln(6)

	cyclic := cyclicIDs(result.Tasks)
	pdf.Cell(0, 6, s.printer.Sprintf("%d tasks, %d on a dependency cycle", len(result.Tasks), len(cyclic)))
	pdf.Ln(6)
	pdf.Cell(0, 6, s.priorityLine(result.Tasks))
	pdf.Ln(10)

	s.writeTable(pdf, tr, result.Tasks)
	pdf.Ln(8)
	s.writeDescriptions(pdf, tr, result.Tasks)

	if len(cyclic) > 0 {
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "B", 14)
		pdf.Cell(0, 8, "Cycles")
		pdf.Ln(10)
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, tr("These tasks depend on each other in a loop and cannot be scheduled: "+strings.Join(cyclic, ", ")), "", "L", false)
	}

	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	return nil
}

func (s *PDFService) writeTable(pdf *gofpdf.Fpdf, tr func(string) string, tasks []domain.Task) {
	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetFillColor(230, 230, 230)
	for _, col := range reportColumns {
		pdf.CellFormat(col.width, 7, col.title, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	if len(tasks) == 0 {
		pdf.CellFormat(0, 7, "(no tasks)", "1", 1, "L", false, 0, "")
		return
	}

	for _, task := range tasks {
		deps := "-"
		if len(task.Dependencies) > 0 {
			deps = strings.Join(task.Dependencies, ", ")
		}
		if task.Status == domain.StatusError {
			pdf.SetTextColor(180, 30, 30)
		}
		cells := []string{task.ID, string(task.Priority), string(task.Status), deps}
		for i, col := range reportColumns {
			pdf.CellFormat(col.width, 7, tr(fit(pdf, cells[i], col.width)), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetTextColor(0, 0, 0)
	}
}

func (s *PDFService) writeDescriptions(pdf *gofpdf.Fpdf, tr func(string) string, tasks []domain.Task) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 8, "Details")
	pdf.Ln(10)

	for _, task := range tasks {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.MultiCell(0, 6, tr(task.ID), "", "L", false)
		pdf.SetFont("Helvetica", "", 11)
		description := strings.TrimSpace(task.Description)
		if description == "" {
			description = "(no description)"
		}
		pdf.MultiCell(0, 6, tr(description), "", "L", false)
		pdf.Ln(2)
	}
}

func (s *PDFService) priorityLine(tasks []domain.Task) string {
	counts := map[domain.Priority]int{}
	for _, t := range tasks {
		counts[t.Priority]++
	}
	return s.printer.Sprintf("High: %d, medium: %d, low: %d",
		counts[domain.PriorityHigh], counts[domain.PriorityMedium], counts[domain.PriorityLow])
}

func cyclicIDs(tasks []domain.Task) []string {
	var ids []string
	for _, t := range tasks {
		if t.Status == domain.StatusError {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// fit truncates text so it stays inside a table cell.
func fit(pdf *gofpdf.Fpdf, text string, width float64) string {
	limit := width - 2
	if pdf.GetStringWidth(text) <= limit {
		return text
	}
	runes := []rune(text)
	for len(runes) > 0 && pdf.GetStringWidth(string(runes)+"...") > limit {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
