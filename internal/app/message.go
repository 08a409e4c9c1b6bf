package app

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"ideabot/api/internal/slackapi"
	"ideabot/api/internal/store"
)

// likePointer is the button value that leads a like action back to its idea.
// Field names are fixed by buttons already posted in workspaces.
type likePointer struct {
	ID     string `json:"id"`
	TeamID string `json:"team_id"`
}

func (p likePointer) encode() string {
	raw, _ := json.Marshal(p)
	return string(raw)
}

func parseLikePointer(value string) (likePointer, error) {
	var decoded struct {
		likePointer
		CamelTeamID string `json:"teamId"`
	}
	if err := json.Unmarshal([]byte(value), &decoded); err != nil {
		return likePointer{}, validationError("Invalid like action value.")
	}
	ptr := decoded.likePointer
	if ptr.TeamID == "" {
		ptr.TeamID = decoded.CamelTeamID
	}
	if !store.ValidKey(ptr.ID) || !store.ValidKey(ptr.TeamID) {
		return likePointer{}, validationError("Invalid like action value.")
	}
	return ptr, nil
}

// broadcastTarget is where an idea message goes and who it is rendered for.
type broadcastTarget struct {
	TeamID      string
	ChannelID   string
	UserID      string
	UserName    string
	ResponseURL string
}

func ideaDialog(text string) slack.Dialog {
	idea := slack.NewTextAreaInput("idea", "Idea", text)
	idea.Placeholder = "Describe your idea here"

	article := slack.NewTextInput("articleURL", "Article / Image URL", "")
	article.Optional = true
	article.Placeholder = "https://xyz.com/abc"

	return slack.Dialog{
		CallbackID:     callbackSubmitIdea,
		Title:          "Share an idea",
		SubmitLabel:    "Share",
		NotifyOnCancel: true,
		Elements:       []slack.DialogElement{idea, article},
	}
}

// ideaMessage renders idea with a like button. A viewer who already liked it
// sees the like count on a plain button; everyone else sees "Like".
func ideaMessage(idea store.Idea, target broadcastTarget) slackapi.Message {
	label, style := "Like", "primary"
	if idea.Likes.Has(target.UserID) {
		label, style = fmt.Sprintf("%d Likes", idea.Likes.Count()), ""
	}

	attachment := slack.Attachment{
		CallbackID: callbackIdeaAction,
		Color:      "#36a64f",
		Fallback:   idea.Idea,
		Pretext:    idea.Idea,
		AuthorName: "@" + idea.User + " shared",
		Actions: []slack.AttachmentAction{{
			Name:  actionLike,
			Text:  label,
			Type:  "button",
			Style: style,
			Value: likePointer{ID: idea.ID, TeamID: target.TeamID}.encode(),
		}},
	}
	if idea.ArticleURL != "" {
		attachment.Title = firstNonEmpty(idea.Meta.Title, idea.ArticleURL)
		attachment.TitleLink = idea.ArticleURL
		attachment.Text = idea.Meta.Description
		attachment.ThumbURL = idea.Meta.Image
		attachment.Footer = idea.Meta.SiteName
	}

	return slackapi.Message{
		Channel:     target.ChannelID,
		Text:        "@" + target.UserName + " shared",
		Attachments: []slack.Attachment{attachment},
		ResponseURL: target.ResponseURL,
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
