package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runGatewayContract exercises behavior both backends must share.
func runGatewayContract(t *testing.T, newGateway func(t *testing.T) Gateway) {
	t.Run("read missing path", func(t *testing.T) {
		g := newGateway(t)
		_, err := g.Read(context.Background(), "/slack/T404")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update overwrites credential fields", func(t *testing.T) {
		g := newGateway(t)
		ctx := context.Background()
		path := CredentialPath("T1")

		require.NoError(t, g.Update(ctx, path, WorkspaceCredential{TeamID: "T1", Token: "xoxp-old", UserID: "U1", TeamName: "Acme"}))
		require.NoError(t, g.Update(ctx, path, WorkspaceCredential{TeamID: "T1", Token: "xoxp-new", UserID: "U9", TeamName: "Acme"}))

		var cred WorkspaceCredential
		require.NoError(t, ReadJSON(ctx, g, path, &cred))
		assert.Equal(t, WorkspaceCredential{TeamID: "T1", Token: "xoxp-new", UserID: "U9", TeamName: "Acme"}, cred)

		teams, err := g.ReadChildren(ctx, "/slack")
		require.NoError(t, err)
		assert.Len(t, teams, 1)
	})

	t.Run("add generates distinct ids", func(t *testing.T) {
		g := newGateway(t)
		ctx := context.Background()

		first, err := g.Add(ctx, IdeasPath("T1"), Idea{Idea: "one", User: "ann", UID: "U1", CreateTs: 1})
		require.NoError(t, err)
		second, err := g.Add(ctx, IdeasPath("T1"), Idea{Idea: "two", User: "bob", UID: "U2", CreateTs: 2})
		require.NoError(t, err)
		assert.NotEqual(t, first, second)

		ideas, err := g.ReadChildren(ctx, IdeasPath("T1"))
		require.NoError(t, err)
		assert.Len(t, ideas, 2)

		var idea Idea
		require.NoError(t, ReadJSON(ctx, g, IdeaPath("T1", second), &idea))
		assert.Equal(t, "two", idea.Idea)
		assert.Empty(t, idea.Likes)
		assert.Equal(t, LinkMeta{}, idea.Meta)
	})

	t.Run("likes merge without losing fields", func(t *testing.T) {
		g := newGateway(t)
		ctx := context.Background()

		id, err := g.Add(ctx, IdeasPath("T1"), Idea{Idea: "merge", Meta: LinkMeta{Title: "t"}, User: "ann", UID: "U1", CreateTs: 5})
		require.NoError(t, err)

		likes := LikesPath("T1", id)
		require.NoError(t, g.Update(ctx, likes, map[string]bool{"U2": true}))
		require.NoError(t, g.Update(ctx, likes, map[string]bool{"U2": true}))
		require.NoError(t, g.Update(ctx, likes, map[string]bool{"U3": true}))

		var idea Idea
		require.NoError(t, ReadJSON(ctx, g, IdeaPath("T1", id), &idea))
		assert.Equal(t, LikeSet{"U2": true, "U3": true}, idea.Likes)
		assert.Equal(t, "merge", idea.Idea)
		assert.Equal(t, "t", idea.Meta.Title)
		assert.Equal(t, int64(5), idea.CreateTs)
	})

	t.Run("concurrent likes by distinct users all persist", func(t *testing.T) {
		g := newGateway(t)
		ctx := context.Background()

		id, err := g.Add(ctx, IdeasPath("T1"), Idea{Idea: "race", User: "ann", UID: "U1", CreateTs: 1})
		require.NoError(t, err)

		const users = 20
		var wg sync.WaitGroup
		errs := make(chan error, users*2)
		for i := 0; i < users; i++ {
			userID := fmt.Sprintf("U%02d", i)
			for j := 0; j < 2; j++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					errs <- g.Update(ctx, LikesPath("T1", id), map[string]bool{userID: true})
				}()
			}
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		var idea Idea
		require.NoError(t, ReadJSON(ctx, g, IdeaPath("T1", id), &idea))
		assert.Equal(t, users, idea.Likes.Count())
	})

	t.Run("remove deletes subtree", func(t *testing.T) {
		g := newGateway(t)
		ctx := context.Background()

		id, err := g.Add(ctx, IdeasPath("T1"), Idea{Idea: "bye", User: "ann", UID: "U1", CreateTs: 1})
		require.NoError(t, err)
		require.NoError(t, g.Update(ctx, LikesPath("T1", id), map[string]bool{"U2": true}))

		require.NoError(t, g.Remove(ctx, IdeaPath("T1", id)))

		_, err = g.Read(ctx, IdeaPath("T1", id))
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = g.Read(ctx, LikesPath("T1", id))
		assert.ErrorIs(t, err, ErrNotFound)

		ideas, err := g.ReadChildren(ctx, IdeasPath("T1"))
		require.NoError(t, err)
		assert.Empty(t, ideas)

		assert.Error(t, g.Remove(ctx, "/"))
	})
}
