// Package export выгружает готовую историю в PDF.
package export

import (
	"fmt"
	"io"
	"strings"

	"serial-novel/internal/models"

	"github.com/jung-kurt/gofpdf"
)

const (
	fontFamily = "Helvetica"
	lineHeight = 6.0
)

// normalizeBody превращает литеральные "\n", оставшиеся после модели, в переносы строк.
func normalizeBody(body string) string {
	body = strings.ReplaceAll(body, `\r\n`, "\n")
	body = strings.ReplaceAll(body, `\n`, "\n")
	return strings.ReplaceAll(body, "\r\n", "\n")
}

// WritePDF пишет титульную страницу и по разделу на каждый эпизод.
// Эпизоды выводятся в переданном порядке.
func WritePDF(w io.Writer, info *models.StoryInfo, episodes []*models.EpisodeRecord) error {
	if info == nil {
		return fmt.Errorf("%w: story info is required", models.ErrInvalidInput)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(info.Title, true)
	pdf.SetCreator("serial-novel", false)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont(fontFamily, "I", 8)
		pdf.CellFormat(0, 8, fmt.Sprintf("%d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont(fontFamily, "B", 24)
	pdf.Ln(50)
	pdf.MultiCell(0, 12, tr(info.Title), "", "C", false)
	pdf.Ln(8)
	pdf.SetFont(fontFamily, "", 12)
	meta := []string{
		fmt.Sprintf("%d episodes", info.TotalEpisodes),
		info.Tone,
		info.Style,
		info.Trope,
		info.RegionalSetting,
	}
	for _, line := range meta {
		if strings.TrimSpace(line) == "" {
			continue
		}
		pdf.MultiCell(0, lineHeight+1, tr(line), "", "C", false)
	}

	for i, ep := range episodes {
		if ep == nil {
			continue
		}
		pdf.AddPage()
		pdf.SetFont(fontFamily, "B", 16)
		pdf.MultiCell(0, 9, tr(fmt.Sprintf("Episode %d: %s", i+1, ep.Title)), "", "L", false)
		pdf.Ln(3)
		pdf.SetFont(fontFamily, "", 11)
		for _, para := range strings.Split(normalizeBody(ep.Body), "\n") {
			if strings.TrimSpace(para) == "" {
				pdf.Ln(lineHeight / 2)
				continue
			}
			pdf.MultiCell(0, lineHeight, tr(para), "", "J", false)
		}
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("failed to render pdf: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}
