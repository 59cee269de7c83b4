package models

import "time"

// LibraryEntry is a curated technique the agent chose to remember,
// indexed by content embedding.
type LibraryEntry struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Category   string            `json:"category,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	UsageCount int               `json:"usage_count"`
	LastUsedAt *time.Time        `json:"last_used_at,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// AddLibraryEntryRequest contains fields for inserting a library entry.
type AddLibraryEntryRequest struct {
	Title            string
	Content          string
	Category         string
	Tags             []string
	Metadata         map[string]string
	ContentEmbedding []float32
}

// ScoredEntry pairs a library entry with a cosine-similarity score.
type ScoredEntry struct {
	Entry *LibraryEntry `json:"entry"`
	Score float64       `json:"score"`
}

// LibraryStats summarises the technique library.
type LibraryStats struct {
	EntryCount int            `json:"entry_count"`
	ByCategory map[string]int `json:"by_category"`
	TopTags    []TagCount     `json:"top_tags"`
}

// TagCount is one tag with its frequency across library entries.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}
