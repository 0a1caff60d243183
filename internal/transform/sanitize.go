package transform

import (
	"context"
	"strings"

	"github.com/acme-corp/meeting-archiver/internal/document"
	"github.com/acme-corp/meeting-archiver/internal/ingestion"
)

// punctuation maps typographic characters to their ASCII counterparts.
// Line breaks (\r\n or \n) collapse to one space.
var punctuation = strings.NewReplacer(
	"\r\n", " ",
	"\n", " ",
	"\u2013", "-",
	"\u2014", "-",
	"\u2018", "'",
	"\u2019", "'",
	"\u201C", `"`,
	"\u201D", `"`,
)

// SanitizeString normalizes one free-text value: no line breaks, no
// typographic dashes or quotes, no surrounding whitespace.
func SanitizeString(s string) string {
	return strings.TrimSpace(punctuation.Replace(s))
}

// Sanitize applies SanitizeString to every string in v. Keys, numbers,
// booleans and nulls are untouched, and the shape of v is preserved.
func Sanitize(v document.Value) document.Value {
	return document.MapStrings(v, SanitizeString)
}

// SanitizeTransform sanitizes a record's summary.
func SanitizeTransform() TransformFunc {
	return func(ctx context.Context, rec ingestion.SummaryRecord) (ingestion.SummaryRecord, error) {
		rec.Summary = Sanitize(rec.Summary)
		return rec, nil
	}
}
