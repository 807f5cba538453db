package store

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/Aman-CERP/apptindex/internal/document"
)

// newIndexMapping builds the fixed appointment schema: numeric fields for
// ids, counts and ms-epoch dates, keyword fields for everything matched
// exactly. All fields are stored so hits can be decoded without a lookup.
func newIndexMapping() *mapping.IndexMappingImpl {
	docMapping := bleve.NewDocumentStaticMapping()

	for _, name := range document.NumericFields {
		fm := bleve.NewNumericFieldMapping()
		fm.Store = true
		fm.DocValues = true
		docMapping.AddFieldMappingsAt(name, fm)
	}

	for _, name := range document.KeywordFields {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = keyword.Name
		fm.Store = true
		fm.DocValues = true
		fm.IncludeInAll = false
		fm.IncludeTermVectors = false
		docMapping.AddFieldMappingsAt(name, fm)
	}

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = keyword.Name
	indexMapping.StoreDynamic = false
	indexMapping.IndexDynamic = false
	return indexMapping
}
