package drafting

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/brfsskit/sqldraft/internal/dataset"
)

// MaxSampleRows caps how many sample rows are rendered into a prompt.
const MaxSampleRows = 6

// DefaultDialect names the SQL dialect the model is asked to write.
const DefaultDialect = "DuckDB"

const (
	noSampleRows = "Sample rows not provided."
	noTables     = "None loaded yet."
	noReferences = "No info files attached. If available, rely on sample rows and table names."
)

const promptTemplate = `You are an expert data analyst writing %[1]s SQL only.

Dataset summary:
Available tables (one per year): %[2]s
%[3]s
Cross-year queries require you to explicitly reference multiple tables (e.g., UNION ALL over brfss_2018 and brfss_2019, adding a survey_year column).
Sample rows (from the first loaded table):
%[4]s

User request: %[5]s

Return your response in exactly this format:
SQL:
<%[1]s SQL only, no markdown fences>

EXPLANATION:
<1-2 sentences describing what the query returns>`

// PromptInput carries the rendered sections of a drafting prompt.
type PromptInput struct {
	Dialect       string
	Tables        string
	ReferenceNote string
	SampleText    string
	UserPrompt    string
}

// BuildPrompt assembles the instruction prompt in its fixed section order.
func BuildPrompt(in PromptInput) string {
	dialect := in.Dialect
	if dialect == "" {
		dialect = DefaultDialect
	}
	return fmt.Sprintf(promptTemplate, dialect, in.Tables, in.ReferenceNote, in.SampleText, in.UserPrompt)
}

// RenderSampleRows renders up to MaxSampleRows rows as numbered JSON lines.
func RenderSampleRows(rows []dataset.Row) string {
	if len(rows) == 0 {
		return noSampleRows
	}
	if len(rows) > MaxSampleRows {
		rows = rows[:MaxSampleRows]
	}
	lines := make([]string, 0, len(rows))
	for i, row := range rows {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, encodeRow(row)))
	}
	return strings.Join(lines, "\n")
}

func encodeRow(row dataset.Row) string {
	normalized := make(map[string]any, len(row))
	for k, v := range row {
		normalized[k] = textSafe(v)
	}
	b, err := json.Marshal(normalized)
	if err != nil {
		// Every value is JSON-safe after textSafe; keep the row visible anyway.
		return fmt.Sprintf("%v", row)
	}
	return string(b)
}

// textSafe converts values that encoding/json rejects or renders lossily
// into their decimal string form.
func textSafe(v any) any {
	switch x := v.(type) {
	case *big.Int:
		if x == nil {
			return nil
		}
		return x.String()
	case *big.Float:
		if x == nil {
			return nil
		}
		return x.Text('g', -1)
	case *big.Rat:
		if x == nil {
			return nil
		}
		return x.RatString()
	case []byte:
		return string(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Sprint(x)
		}
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Sprint(x)
		}
	case time.Time:
		return x.Format(time.RFC3339)
	}
	return v
}

// RenderTables lists the table names of years in ascending order.
func RenderTables(years []dataset.Year) string {
	sorted := dataset.SortYears(years)
	if len(sorted) == 0 {
		return noTables
	}
	names := make([]string, len(sorted))
	for i, y := range sorted {
		names[i] = y.TableName()
	}
	return strings.Join(names, ", ")
}

// RenderReferenceNote describes which reference documents are attached.
func RenderReferenceNote(attached []dataset.Year) string {
	sorted := dataset.SortYears(attached)
	if len(sorted) == 0 {
		return noReferences
	}
	names := make([]string, len(sorted))
	for i, y := range sorted {
		names[i] = y.ReferenceName()
	}
	return fmt.Sprintf("Info files attached for: %s. Use these for column descriptions and value meanings.", strings.Join(names, ", "))
}
