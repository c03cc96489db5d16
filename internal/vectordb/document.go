package vectordb

// Document is one searchable entity description.
type Document struct {
	// ID is the entity id.
	ID       string
	Content  string
	Metadata DocumentMetadata
}

// DocumentMetadata holds structured information about an indexed entity.
type DocumentMetadata struct {
	Name   string
	Domain string
	AreaID string
}

// SearchResult pairs a document with its similarity score.
type SearchResult struct {
	Document   Document
	Similarity float32
}

// SearchFilter narrows search results by metadata fields.
type SearchFilter struct {
	Domain *string
	AreaID *string
}
