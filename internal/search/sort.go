package search

import (
	"strings"

	bsearch "github.com/blevesearch/bleve/v2/search"

	"github.com/Aman-CERP/apptindex/internal/document"
)

// SortSpec orders results by one attribute.
type SortSpec struct {
	Attribute string `json:"attribute"`
	Ascending bool   `json:"ascending"`
}

// sortOrder resolves spec to an index sort. Attributes ending in the date
// or integer suffix compare as numbers; anything else compares as a
// string. A nil or blank spec leaves the index default order.
func sortOrder(spec *SortSpec) bsearch.SortOrder {
	if spec == nil || spec.Attribute == "" {
		return nil
	}

	typ := bsearch.SortFieldAsString
	if strings.HasSuffix(spec.Attribute, document.FieldDateSuffix) ||
		strings.HasSuffix(spec.Attribute, document.FieldIntSuffix) {
		typ = bsearch.SortFieldAsNumber
	}

	return bsearch.SortOrder{&bsearch.SortField{
		Field:   spec.Attribute,
		Desc:    !spec.Ascending,
		Type:    typ,
		Mode:    bsearch.SortFieldDefault,
		Missing: bsearch.SortFieldMissingLast,
	}}
}
