package rag

import "strings"

// Sentinel content values returned by the document retriever. These are
// first-class protocol strings: downstream formatting matches them verbatim
// and must never re-invoke retrieval in the same turn.
const (
	SentinelNoDocs           = "NO_DOCS_UPLOADED"
	SentinelNoIndex          = "NO_INDEX_EXISTS_FOR_THREAD_REUPLOAD_DOCUMENT"
	SentinelNoRelevantPrefix = "NO_RELEVANT_CHUNKS:"
)

// Fixed user-facing replies for each sentinel.
const (
	ReplyNoDocs     = "There are no documents uploaded yet. Please upload a file first, then ask about it."
	ReplyNoIndex    = "No indexed documents exist yet. Please re-upload a document, then ask about it."
	ReplyNoRelevant = "I couldn't find anything about that in the uploaded documents."
)

// SentinelReply maps retriever sentinel content to its fixed reply. The
// second return is false for normal document content.
func SentinelReply(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	switch {
	case trimmed == SentinelNoDocs:
		return ReplyNoDocs, true
	case trimmed == SentinelNoIndex:
		return ReplyNoIndex, true
	case strings.HasPrefix(trimmed, SentinelNoRelevantPrefix):
		return ReplyNoRelevant, true
	}
	return "", false
}
