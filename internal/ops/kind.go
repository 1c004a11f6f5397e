// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ops defines the typed catalogue of external operations a stage may
// invoke, the capability filter that narrows the full set to one stage's
// subset, and the adapters that implement each operation.
package ops

import "fmt"

// Kind identifies one external operation.
type Kind int

const (
	KindQuery Kind = iota + 1
	KindGraphsGet
	KindGraphLabels
	KindWebSearch
	KindScholarSearch
	KindFetch
	KindDocumentsInsertText
	KindDocumentsPipelineStatus
	KindGraphUpdateEntity
	KindDocumentsDeleteEntity
	KindGraphUpdateRelation
	KindDocumentsDeleteRelation
	KindGraphEntityExists
	KindListDirectory
	KindReadTextFile
	KindLoadReport
	KindHumanApproval
)

var kindNames = map[Kind]string{
	KindQuery:                   "query",
	KindGraphsGet:               "graphs_get",
	KindGraphLabels:             "graph_labels",
	KindWebSearch:               "web_search",
	KindScholarSearch:           "scholar_search",
	KindFetch:                   "fetch",
	KindDocumentsInsertText:     "documents_insert_text",
	KindDocumentsPipelineStatus: "documents_pipeline_status",
	KindGraphUpdateEntity:       "graph_update_entity",
	KindDocumentsDeleteEntity:   "documents_delete_entity",
	KindGraphUpdateRelation:     "graph_update_relation",
	KindDocumentsDeleteRelation: "documents_delete_relation",
	KindGraphEntityExists:       "graph_entity_exists",
	KindListDirectory:           "list_directory",
	KindReadTextFile:            "read_text_file",
	KindLoadReport:              "load_report",
	KindHumanApproval:           "human_approval",
}

// kindAliases accepts names used by older prompt files.
var kindAliases = map[string]Kind{
	"google_search":      KindWebSearch,
	"load_latest_report": KindLoadReport,
}

var mutating = map[Kind]bool{
	KindGraphUpdateEntity:       true,
	KindDocumentsDeleteEntity:   true,
	KindGraphUpdateRelation:     true,
	KindDocumentsDeleteRelation: true,
}

// String returns the operation name the model sees.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Mutating reports whether the operation changes the knowledge graph.
func (k Kind) Mutating() bool {
	return mutating[k]
}

// ParseKind maps an operation name (or a known alias) to its Kind.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	k, ok := kindAliases[name]
	return k, ok
}

// ParseKinds maps names to kinds and returns the names it did not recognise.
func ParseKinds(names ...string) ([]Kind, []string) {
	var kinds []Kind
	var unknown []string
	for _, n := range names {
		if k, ok := ParseKind(n); ok {
			kinds = append(kinds, k)
		} else {
			unknown = append(unknown, n)
		}
	}
	return kinds, unknown
}
