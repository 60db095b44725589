package sources

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func buildDocx(t *testing.T) []byte {
	t.Helper()
	const documentXML = `<?xml version="1.0"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		`<w:p><w:r><w:t>Quarterly plan</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Budget is</w:t></w:r><w:r><w:tab/><w:t>approved.</w:t></w:r></w:p>` +
		`</w:body></w:document>`
	const contentTypesXML = `<?xml version="1.0"?>` +
		`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
		`<Default Extension="xml" ContentType="application/xml"/></Types>`
	const emptyRelsXML = `<?xml version="1.0"?>` +
		`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`
	return buildZip(t, map[string]string{
		"[Content_Types].xml":          contentTypesXML,
		"word/document.xml":            documentXML,
		"word/_rels/document.xml.rels": emptyRelsXML,
		"word/media/scan1.png":         "not really a png",
	})
}

func slideXML(text string) string {
	return `<?xml version="1.0"?>` +
		`<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">` +
		`<p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
}

func TestOfficeFormat(t *testing.T) {
	docxData := buildDocx(t)

	if got := officeFormat("", nil, "report.docx"); got != "docx" {
		t.Errorf("by extension = %q, want docx", got)
	}
	if got := officeFormat("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", nil, ""); got != "xlsx" {
		t.Errorf("by mime = %q, want xlsx", got)
	}
	if got := officeFormat("", docxData, ""); got != "docx" {
		t.Errorf("by zip probe = %q, want docx", got)
	}
	if got := officeFormat("", []byte("not a zip"), "file.unknown"); got != "" {
		t.Errorf("plain bytes = %q, want empty", got)
	}
}

func TestOfficeSource_Docx(t *testing.T) {
	data := buildDocx(t)
	reg := NewRegistry()

	// No hint: detection must come from the container probe.
	src, kind, ok := reg.Detect("", data, "")
	if !ok || src.Name() != "office" || kind != "office" {
		t.Fatalf("Detect = %v %q %v, want office", src, kind, ok)
	}

	res, err := reg.Extract(context.Background(), "", data, "plan.docx")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "Quarterly plan\nBudget is\tapproved."
	if res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
	if len(res.Attachments) != 1 || res.Attachments[0] != "scan1.png" {
		t.Errorf("Attachments = %v, want embedded media", res.Attachments)
	}
}

func TestOfficeSource_Xlsx(t *testing.T) {
	f := excelize.NewFile()
	for cell, value := range map[string]any{"A1": "Item", "B1": "Cost", "A2": "Laptop", "B2": 1200} {
		if err := f.SetCellValue("Sheet1", cell, value); err != nil {
			t.Fatalf("SetCellValue: %v", err)
		}
	}
	if _, err := f.NewSheet("Notes"); err != nil {
		t.Fatalf("NewSheet: %v", err)
	}
	if err := f.SetCellValue("Notes", "A1", "Reviewed in March"); err != nil {
		t.Fatalf("SetCellValue: %v", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}

	res, err := NewRegistry().Extract(context.Background(), "", buf.Bytes(), "budget.xlsx")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, want := range []string{
		"--- Sheet: Sheet1 ---",
		"Item\tCost",
		"Laptop\t1200",
		"--- Sheet: Notes ---",
		"Reviewed in March",
	} {
		if !strings.Contains(res.Text, want) {
			t.Errorf("Text missing %q:\n%s", want, res.Text)
		}
	}
	if res.SourceMeta["sheets"] != "2" {
		t.Errorf("sheets = %q, want 2", res.SourceMeta["sheets"])
	}
}

func TestOfficeSource_PptxSlideOrder(t *testing.T) {
	data := buildZip(t, map[string]string{
		"ppt/presentation.xml":   `<p:presentation xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"/>`,
		"ppt/slides/slide2.xml":  slideXML("Q2 milestones"),
		"ppt/slides/slide10.xml": slideXML("Closing notes"),
		"ppt/slides/slide1.xml":  slideXML("Roadmap overview"),
	})

	res, err := NewRegistry().Extract(context.Background(), "", data, "deck.pptx")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	// Numeric order, not lexical: slide10 comes last.
	want := "Roadmap overview\n\nQ2 milestones\n\nClosing notes"
	if res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
	if res.SourceMeta["slides"] != "3" {
		t.Errorf("slides = %q, want 3", res.SourceMeta["slides"])
	}
}

func TestOfficeXMLText(t *testing.T) {
	raw := `<w:document xmlns:w="x"><w:body>` +
		`<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:tab/><w:t>world</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Second</w:t><w:br/><w:t>line</w:t></w:r></w:p>` +
		`</w:body></w:document>`
	want := "Hello\tworld\nSecond\nline\n"
	if got := officeXMLText(raw); got != want {
		t.Errorf("officeXMLText = %q, want %q", got, want)
	}
}
