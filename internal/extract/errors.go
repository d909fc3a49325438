package extract

import "fmt"

// ExtractionError reports that no usable HTML could be produced for a
// URL, either because every source failed or because the content was
// too short to plausibly be a product page.
type ExtractionError struct {
	URL    string
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %s", e.URL, e.Reason)
}

// ParsingError reports a field that matched an element but whose text
// could not be converted to the field's type.
type ParsingError struct {
	Field Field
	Raw   string
}

func (e *ParsingError) Error() string {
	return fmt.Sprintf("cannot parse %s from %q", e.Field, e.Raw)
}

// ValidationError reports an extracted value or record that violates a
// constraint, such as a record with neither name nor price.
type ValidationError struct {
	Field  Field
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
