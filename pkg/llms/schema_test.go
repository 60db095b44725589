package llms

import (
	"strings"
	"testing"
)

type sampleExtraction struct {
	Title  string   `json:"title" jsonschema:"required,description=Document title"`
	Score  float64  `json:"score,omitempty" jsonschema:"minimum=0,maximum=1"`
	Topics []string `json:"topics,omitempty" jsonschema:"description=Vocabulary paths"`
}

func TestSchemaFor(t *testing.T) {
	schema, err := SchemaFor[sampleExtraction]("extraction")
	if err != nil {
		t.Fatalf("SchemaFor() error = %v", err)
	}

	if schema.Name != "extraction" {
		t.Errorf("Name = %q, want extraction", schema.Name)
	}
	if schema.Definition["type"] != "object" {
		t.Errorf("type = %v, want object", schema.Definition["type"])
	}
	if _, ok := schema.Definition["$schema"]; ok {
		t.Error("$schema should be stripped from the definition")
	}

	props, ok := schema.Definition["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties missing or wrong type: %T", schema.Definition["properties"])
	}
	for _, field := range []string{"title", "score", "topics"} {
		if _, ok := props[field]; !ok {
			t.Errorf("properties missing %q", field)
		}
	}

	required, ok := schema.Definition["required"].([]any)
	if !ok {
		t.Fatalf("required missing or wrong type: %T", schema.Definition["required"])
	}
	foundTitle := false
	for _, r := range required {
		if r == "title" {
			foundTitle = true
		}
	}
	if !foundTitle {
		t.Errorf("required = %v, want to contain title", required)
	}
}

func TestSchemaInstruction(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
		},
	}

	instruction := schemaInstruction(schema)

	if !strings.Contains(instruction, "valid JSON matching this exact schema") {
		t.Errorf("instruction missing schema preamble: %q", instruction)
	}
	if !strings.Contains(instruction, `"title"`) {
		t.Errorf("instruction missing schema body: %q", instruction)
	}
	if !strings.Contains(instruction, "Output ONLY valid JSON") {
		t.Errorf("instruction missing output constraint: %q", instruction)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "bare object",
			input: `{"title": "Invoice"}`,
			want:  `{"title": "Invoice"}`,
		},
		{
			name:  "prose wrapped",
			input: `Here is the extraction you asked for: {"title": "Invoice"} Let me know if you need more.`,
			want:  `{"title": "Invoice"}`,
		},
		{
			name:  "markdown fence",
			input: "```json\n{\"title\": \"Invoice\"}\n```",
			want:  `{"title": "Invoice"}`,
		},
		{
			name:  "nested objects",
			input: `{"meta": {"title": "Invoice", "tags": {"a": 1}}}`,
			want:  `{"meta": {"title": "Invoice", "tags": {"a": 1}}}`,
		},
		{
			name:  "braces inside strings",
			input: `{"note": "use {placeholders} like {this}", "n": 1}`,
			want:  `{"note": "use {placeholders} like {this}", "n": 1}`,
		},
		{
			name:  "escaped quote inside string",
			input: `{"note": "she said \"hi {there}\"", "n": 2}`,
			want:  `{"note": "she said \"hi {there}\"", "n": 2}`,
		},
		{
			name:  "first of several objects",
			input: `{"a": 1} trailing {"b": 2}`,
			want:  `{"a": 1}`,
		},
		{
			name:    "no object",
			input:   "I cannot produce JSON for this request.",
			wantErr: true,
		},
		{
			name:    "unbalanced",
			input:   `{"title": "Invoice"`,
			wantErr: true,
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ExtractJSON() = %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}
