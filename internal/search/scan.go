package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"ideabot/api/internal/store"
)

// Scan searches by reading a workspace's ideas straight from the store and
// matching on substrings. It works with any store backend.
type Scan struct {
	store store.Gateway
}

func NewScan(g store.Gateway) *Scan {
	return &Scan{store: g}
}

func (s *Scan) Healthy() bool {
	return true
}

func (s *Scan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}

	records, err := s.team(ctx, q.TeamID)
	if err != nil {
		return nil, 0, err
	}

	var results []Result
	for _, r := range records {
		haystack := strings.ToLower(r.Idea + "\n" + r.Title + "\n" + r.User)
		if !strings.Contains(haystack, needle) {
			continue
		}
		results = append(results, Result{
			ID:         r.ID,
			TeamID:     r.TeamID,
			Idea:       r.Idea,
			Snippet:    r.Idea,
			Title:      r.Title,
			ArticleURL: r.ArticleURL,
			User:       r.User,
			Likes:      r.Likes,
			CreateTs:   r.CreateTs,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].CreateTs > results[j].CreateTs })

	total := len(results)
	if limit := defaultLimit(q.Limit); len(results) > limit {
		results = results[:limit]
	}
	return results, total, nil
}

func (s *Scan) LoadAll(ctx context.Context) ([]IdeaRecord, error) {
	teams, err := s.store.ReadChildren(ctx, "/ideas")
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	records := make([]IdeaRecord, 0)
	for teamID, raw := range teams {
		var ideas map[string]store.Idea
		if err := json.Unmarshal(raw, &ideas); err != nil {
			return nil, fmt.Errorf("decode ideas for %s: %w", teamID, err)
		}
		for id, idea := range ideas {
			idea.ID = id
			records = append(records, RecordFromIdea(teamID, idea))
		}
	}
	return records, nil
}

func (s *Scan) team(ctx context.Context, teamID string) ([]IdeaRecord, error) {
	children, err := s.store.ReadChildren(ctx, store.IdeasPath(teamID))
	if err != nil {
		return nil, fmt.Errorf("list ideas: %w", err)
	}
	records := make([]IdeaRecord, 0, len(children))
	for id, raw := range children {
		var idea store.Idea
		if err := json.Unmarshal(raw, &idea); err != nil {
			return nil, fmt.Errorf("decode idea %s: %w", id, err)
		}
		idea.ID = id
		records = append(records, RecordFromIdea(teamID, idea))
	}
	return records, nil
}
