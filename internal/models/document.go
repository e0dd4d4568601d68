package models

import "time"

// Section is one linkable chunk of a document.
type Section struct {
	Link string `json:"link"`
	Text string `json:"text"`
}

// Document is the unit a connector emits for indexing.
type Document struct {
	ID                 string            `json:"id"`
	Source             DocumentSource    `json:"source"`
	SemanticIdentifier string            `json:"semantic_identifier"`
	Sections           []Section         `json:"sections"`
	Metadata           map[string]string `json:"metadata"`
	UpdatedAt          *time.Time        `json:"doc_updated_at"`
}
