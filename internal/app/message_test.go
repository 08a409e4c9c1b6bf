package app

import (
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ideabot/api/internal/store"
)

func TestIdeaMessageForViewerWhoHasNotLiked(t *testing.T) {
	idea := store.Idea{ID: "I1", Idea: "use go", User: "ann", Likes: store.LikeSet{"U3": true}}

	msg := ideaMessage(idea, broadcastTarget{TeamID: "T1", ChannelID: "C1", UserID: "U2", UserName: "bob"})

	assert.Equal(t, "C1", msg.Channel)
	assert.Equal(t, "@bob shared", msg.Text)
	require.Len(t, msg.Attachments, 1)
	attachment := msg.Attachments[0]
	assert.Equal(t, "idea_action", attachment.CallbackID)
	assert.Equal(t, "#36a64f", attachment.Color)
	assert.Equal(t, "use go", attachment.Pretext)
	assert.Equal(t, "@ann shared", attachment.AuthorName)
	assert.Empty(t, attachment.TitleLink)

	require.Len(t, attachment.Actions, 1)
	button := attachment.Actions[0]
	assert.Equal(t, "like", button.Name)
	assert.Equal(t, slack.ActionType("button"), button.Type)
	assert.Equal(t, "Like", button.Text)
	assert.Equal(t, "primary", button.Style)
	assert.JSONEq(t, `{"id":"I1","team_id":"T1"}`, button.Value)
}

func TestIdeaMessageForViewerWhoLiked(t *testing.T) {
	idea := store.Idea{ID: "I1", Idea: "use go", User: "ann", Likes: store.LikeSet{"U2": true, "U3": true}}

	button := ideaMessage(idea, broadcastTarget{TeamID: "T1", UserID: "U2"}).Attachments[0].Actions[0]

	assert.Equal(t, "2 Likes", button.Text)
	assert.Equal(t, "", button.Style)
}

func TestIdeaMessageWithArticle(t *testing.T) {
	idea := store.Idea{
		ID:         "I1",
		Idea:       "read this",
		User:       "ann",
		ArticleURL: "https://example.com/post",
		Meta:       store.LinkMeta{Description: "A post", Image: "https://example.com/cover.png", SiteName: "Example"},
	}

	attachment := ideaMessage(idea, broadcastTarget{TeamID: "T1", ResponseURL: "https://hooks.slack.test/1"}).Attachments[0]

	assert.Equal(t, "https://example.com/post", attachment.Title)
	assert.Equal(t, "https://example.com/post", attachment.TitleLink)
	assert.Equal(t, "A post", attachment.Text)
	assert.Equal(t, "https://example.com/cover.png", attachment.ThumbURL)
	assert.Equal(t, "Example", attachment.Footer)
}

func TestIdeaDialog(t *testing.T) {
	dialog := ideaDialog("ship it")

	assert.Equal(t, "submit_idea", dialog.CallbackID)
	assert.Equal(t, "Share an idea", dialog.Title)
	assert.Equal(t, "Share", dialog.SubmitLabel)
	assert.True(t, dialog.NotifyOnCancel)
	require.Len(t, dialog.Elements, 2)

	idea := dialog.Elements[0].(*slack.TextInputElement)
	assert.Equal(t, "idea", idea.Name)
	assert.Equal(t, "Idea", idea.Label)
	assert.Equal(t, "ship it", idea.Value)
	assert.Equal(t, "Describe your idea here", idea.Placeholder)
	assert.False(t, idea.Optional)

	article := dialog.Elements[1].(*slack.TextInputElement)
	assert.Equal(t, "articleURL", article.Name)
	assert.Equal(t, "Article / Image URL", article.Label)
	assert.True(t, article.Optional)
	assert.Equal(t, "https://xyz.com/abc", article.Placeholder)
}

func TestParseLikePointer(t *testing.T) {
	ptr, err := parseLikePointer(`{"id":"I1","team_id":"T1"}`)
	require.NoError(t, err)
	assert.Equal(t, likePointer{ID: "I1", TeamID: "T1"}, ptr)

	ptr, err = parseLikePointer(`{"id":"I1","teamId":"T2"}`)
	require.NoError(t, err)
	assert.Equal(t, likePointer{ID: "I1", TeamID: "T2"}, ptr)

	_, err = parseLikePointer(`{"id":"","team_id":"T1"}`)
	assert.ErrorIs(t, err, ErrValidation)
}
