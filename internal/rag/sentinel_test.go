package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelReply(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		want     string
		sentinel bool
	}{
		{"no docs", "NO_DOCS_UPLOADED", ReplyNoDocs, true},
		{"no index", "NO_INDEX_EXISTS_FOR_THREAD_REUPLOAD_DOCUMENT", ReplyNoIndex, true},
		{"no relevant chunks", "NO_RELEVANT_CHUNKS: quarterly report", ReplyNoRelevant, true},
		{"whitespace tolerated", "  NO_DOCS_UPLOADED  ", ReplyNoDocs, true},
		{"normal content", "The report covers Q3 revenue.", "", false},
		{"sentinel embedded mid-text is content", "prefix NO_DOCS_UPLOADED", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, ok := SentinelReply(tt.content)
			assert.Equal(t, tt.sentinel, ok)
			assert.Equal(t, tt.want, reply)
		})
	}
}
