// Package graph is the Memgraph adapter. All Cypher goes through this
// package and every node label and relationship type in a query must use
// the constants below; raw string labels are a lint violation enforced
// by TestNoRawLabelsInQueries.
package graph

// Node labels. Case is exact and load-bearing: Memgraph labels are
// case-sensitive and a mismatched label silently matches nothing.
const (
	LabelFile      = "File"
	LabelDirectory = "Directory"
	LabelProject   = "PROJECT"
	LabelEntity    = "Entity"
	LabelConcept   = "Concept"
	LabelTheme     = "Theme"
)

// Relationship types.
const (
	RelContains   = "CONTAINS"
	RelBelongsTo  = "BELONGS_TO"
	RelHasConcept = "HAS_CONCEPT"
	RelHasTheme   = "HAS_THEME"
	RelImports    = "IMPORTS"
	RelDefines    = "DEFINES"
	RelCalls      = "CALLS"
)

// CanonicalLabels is the closed set of node labels permitted in queries.
var CanonicalLabels = []string{
	LabelFile, LabelDirectory, LabelProject, LabelEntity, LabelConcept, LabelTheme,
}

// CanonicalRelationships is the closed set of relationship types
// permitted in queries.
var CanonicalRelationships = []string{
	RelContains, RelBelongsTo, RelHasConcept, RelHasTheme, RelImports, RelDefines, RelCalls,
}
