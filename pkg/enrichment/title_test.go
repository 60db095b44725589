package enrichment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		filename string
		subject  string
		want     string
	}{
		{
			name:    "subject wins over everything",
			text:    "# Heading\n\nBody text here.",
			subject: "Re: Fwd: AW: Budget Review",
			want:    "Budget Review",
		},
		{
			name: "first markdown heading",
			text: "intro\n\n# Quarterly Report\n\nBody.",
			want: "Quarterly Report",
		},
		{
			name: "h2 counts as heading",
			text: "## Meeting Notes\n\nBody.",
			want: "Meeting Notes",
		},
		{
			name: "h3 falls through to the first-line rung",
			text: "### Small Section\nMore text follows here.",
			want: "### Small Section",
		},
		{
			name: "heading inside code fence skipped",
			text: "```\n# not a heading\n```\n# Real Heading\nBody.",
			want: "Real Heading",
		},
		{
			name: "first short line",
			text: "Handover notes for the cluster migration\n\nDetails follow.",
			want: "Handover notes for the cluster migration",
		},
		{
			name:     "two-word first line falls through to filename",
			text:     "Short line\n\nBody.",
			filename: "meeting-notes.md",
			want:     "Meeting Notes",
		},
		{
			name:     "overlong first line falls through to filename",
			text:     "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty twentyone",
			filename: "backup_plan.txt",
			want:     "Backup Plan",
		},
		{
			name: "nothing works",
			text: "x y\n",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.text, tt.filename, tt.subject))
		})
	}
}

func TestFilenameTitle(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"20250114-quarterly_report-12345.pdf", "Quarterly Report"},
		{"2025-01-14_invoice.pdf", "Invoice"},
		{"meeting-notes.md", "Meeting Notes"},
		{"API_design.md", "API Design"},
		{"scan-0042.png", "Scan"},
		{"/inbox/2025-06-01 trip-photos.jpg", "Trip Photos"},
		{"übergabe_protokoll.txt", "Übergabe Protokoll"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, filenameTitle(tt.filename))
		})
	}
}
