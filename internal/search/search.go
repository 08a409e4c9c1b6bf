package search

import (
	"context"

	"ideabot/api/internal/store"
)

// Result is a single idea hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	TeamID     string `json:"teamId"`
	Idea       string `json:"idea"`
	Snippet    string `json:"snippet"`
	Title      string `json:"title,omitempty"`
	ArticleURL string `json:"articleURL,omitempty"`
	User       string `json:"user"`
	Likes      int    `json:"likes"`
	CreateTs   int64  `json:"createTs"`
}

// Query describes a search request. TeamID is required; ideas never cross workspaces.
type Query struct {
	TeamID string
	Text   string
	Limit  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Loader returns every idea in the backing store, for rebuilding the index.
type Loader interface {
	LoadAll(ctx context.Context) ([]IdeaRecord, error)
}

// IdeaRecord is the data we index for an idea.
type IdeaRecord struct {
	ID         string `json:"id"`
	TeamID     string `json:"teamId"`
	Idea       string `json:"idea"`
	ArticleURL string `json:"articleURL,omitempty"`
	Title      string `json:"title,omitempty"`
	User       string `json:"user"`
	Likes      int    `json:"likes"`
	CreateTs   int64  `json:"createTs"`
}

func RecordFromIdea(teamID string, idea store.Idea) IdeaRecord {
	return IdeaRecord{
		ID:         idea.ID,
		TeamID:     teamID,
		Idea:       idea.Idea,
		ArticleURL: idea.ArticleURL,
		Title:      idea.Meta.Title,
		User:       idea.User,
		Likes:      idea.Likes.Count(),
		CreateTs:   idea.CreateTs,
	}
}

func defaultLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
