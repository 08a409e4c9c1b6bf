package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"golang.org/x/oauth2"

	"ideabot/api/internal/config"
	"ideabot/api/internal/events"
	"ideabot/api/internal/linkmeta"
	"ideabot/api/internal/search"
	"ideabot/api/internal/slackapi"
	"ideabot/api/internal/store"
)

const publishTimeout = 5 * time.Second

type chatClient interface {
	PostMessage(ctx context.Context, token string, msg slackapi.Message) error
	OpenDialog(ctx context.Context, token, triggerID string, dialog slack.Dialog) error
	ExchangeCode(ctx context.Context, code string) (*slackapi.OAuthAccess, error)
}

type Service struct {
	cfg    config.Config
	store  store.Gateway
	chat   chatClient
	links  linkmeta.Fetcher
	search *search.Service
	events events.Publisher
	now    func() time.Time
}

type Option func(*Service)

func WithSearch(searchService *search.Service) Option {
	return func(s *Service) { s.search = searchService }
}

func WithEvents(publisher events.Publisher) Option {
	return func(s *Service) { s.events = publisher }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(cfg config.Config, gateway store.Gateway, chat chatClient, links linkmeta.Fetcher, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		store:  gateway,
		chat:   chat,
		links:  links,
		events: events.Nop{},
		now:    time.Now,
	}
	if s.links == nil {
		s.links = linkmeta.Disabled{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CompleteInstall exchanges an OAuth code and stores the workspace token.
// Reinstalling overwrites the existing credential.
func (s *Service) CompleteInstall(ctx context.Context, code string) error {
	if strings.TrimSpace(code) == "" {
		return validationError("Invalid code")
	}

	access, err := s.chat.ExchangeCode(ctx, code)
	if err != nil {
		var apiErr *slackapi.APIError
		if errors.As(err, &apiErr) {
			return upstreamError("Operation failed with an error: "+apiErr.Code, err)
		}
		return upstreamError(err.Error(), err)
	}
	if !store.ValidKey(access.TeamID) {
		return upstreamError("Operation failed with an error: missing team_id", nil)
	}

	credential := store.WorkspaceCredential{
		TeamID:   access.TeamID,
		Token:    access.AccessToken,
		UserID:   access.UserID,
		TeamName: access.TeamName,
	}
	if err := s.store.Update(ctx, store.CredentialPath(access.TeamID), credential); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}

	zerolog.Ctx(ctx).Info().Str("team_id", access.TeamID).Str("team_name", access.TeamName).Msg("workspace installed")
	return nil
}

// InstallRedirectURL is the Slack authorize page that starts an install.
func (s *Service) InstallRedirectURL(state string) string {
	oauthCfg := oauth2.Config{
		ClientID:     s.cfg.SlackClientID,
		ClientSecret: s.cfg.SlackClientSecret,
		RedirectURL:  s.cfg.SlackRedirectURL,
		Scopes:       s.cfg.SlackScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  s.cfg.SlackAuthorizeURL,
			TokenURL: s.cfg.SlackAPIURL + "oauth.access",
		},
	}
	return oauthCfg.AuthCodeURL(state)
}

// OpenIdeaDialog answers the slash command with the idea form, prefilled with
// whatever followed the command.
func (s *Service) OpenIdeaDialog(ctx context.Context, cmd slack.SlashCommand) error {
	dialog := ideaDialog(cmd.Text)

	credential, err := s.credential(ctx, cmd.TeamID)
	if err != nil {
		return err
	}

	if err := s.chat.OpenDialog(ctx, credential.Token, cmd.TriggerID, dialog); err != nil {
		return upstreamError(err.Error(), err)
	}
	return nil
}

// SubmitIdea stores a dialog submission as a new idea and posts it to the
// channel it came from.
func (s *Service) SubmitIdea(ctx context.Context, payload interactionPayload) error {
	if payload.Submission == nil {
		return validationError("Invalid request, missing submission.")
	}

	idea := store.Idea{
		Idea:       payload.submissionString("idea"),
		ArticleURL: strings.TrimSpace(payload.submissionString("articleURL")),
		CreateTs:   s.now().UnixMilli(),
		User:       payload.User.Name,
		UID:        payload.User.ID,
	}
	if idea.ArticleURL != "" {
		idea.Meta = s.linkMeta(ctx, idea.ArticleURL)
	}

	if _, err := s.credential(ctx, payload.Team.ID); err != nil {
		return err
	}

	id, err := s.store.Add(ctx, store.IdeasPath(payload.Team.ID), idea)
	if err != nil {
		return fmt.Errorf("save idea: %w", err)
	}
	idea.ID = id

	zerolog.Ctx(ctx).Info().Str("team_id", payload.Team.ID).Str("idea_id", id).Str("user_id", idea.UID).Msg("idea submitted")
	s.indexIdea(payload.Team.ID, idea)

	err = s.BroadcastIdea(ctx, idea, broadcastTarget{
		TeamID:    payload.Team.ID,
		ChannelID: payload.Channel.ID,
		UserID:    payload.User.ID,
		UserName:  payload.User.Name,
	})
	s.publish(ctx, events.RoutingIdeaCreated, events.IdeaEvent{
		TeamID:   payload.Team.ID,
		IdeaID:   id,
		UserID:   idea.UID,
		Idea:     idea.Idea,
		Occurred: s.now(),
	})
	return err
}

// linkMeta never fails: a link that cannot be previewed still shows the URL
// as its image.
func (s *Service) linkMeta(ctx context.Context, articleURL string) store.LinkMeta {
	fetched, err := s.links.Fetch(ctx, articleURL)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("url", articleURL).Msg("link preview failed")
	}
	meta := store.LinkMeta{
		Title:       fetched.Title,
		Description: fetched.Description,
		Image:       fetched.Image,
		SiteName:    fetched.SiteName,
	}
	if meta.Image == "" {
		meta.Image = articleURL
	}
	return meta
}

// ToggleLike records the acting user's like and redraws the message in place.
// Likes only accumulate; pressing again leaves the set unchanged.
func (s *Service) ToggleLike(ctx context.Context, payload interactionPayload, action slack.AttachmentAction) error {
	ptr, err := parseLikePointer(action.Value)
	if err != nil {
		return err
	}
	if !store.ValidKey(payload.User.ID) {
		return validationError("Invalid request, missing user.")
	}

	if _, err := s.readIdea(ctx, ptr); err != nil {
		return err
	}
	if err := s.store.Update(ctx, store.LikesPath(ptr.TeamID, ptr.ID), map[string]bool{payload.User.ID: true}); err != nil {
		return fmt.Errorf("save like: %w", err)
	}
	idea, err := s.readIdea(ctx, ptr)
	if err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().Str("team_id", ptr.TeamID).Str("idea_id", ptr.ID).Str("user_id", payload.User.ID).Int("likes", idea.Likes.Count()).Msg("idea liked")
	s.indexIdea(ptr.TeamID, idea)

	teamID := payload.Team.ID
	if teamID == "" {
		teamID = ptr.TeamID
	}
	err = s.BroadcastIdea(ctx, idea, broadcastTarget{
		TeamID:      teamID,
		ChannelID:   payload.Channel.ID,
		UserID:      payload.User.ID,
		UserName:    payload.User.Name,
		ResponseURL: payload.ResponseURL,
	})
	s.publish(ctx, events.RoutingIdeaLiked, events.IdeaEvent{
		TeamID:   ptr.TeamID,
		IdeaID:   ptr.ID,
		UserID:   payload.User.ID,
		Likes:    idea.Likes.Count(),
		Occurred: s.now(),
	})
	return err
}

// BroadcastIdea posts idea with the workspace token, replacing the original
// message when the target carries a response URL.
func (s *Service) BroadcastIdea(ctx context.Context, idea store.Idea, target broadcastTarget) error {
	credential, err := s.credential(ctx, target.TeamID)
	if err != nil {
		return err
	}
	if err := s.chat.PostMessage(ctx, credential.Token, ideaMessage(idea, target)); err != nil {
		return upstreamError(err.Error(), err)
	}
	return nil
}

// ListIdeas returns a workspace's ideas, newest first.
func (s *Service) ListIdeas(ctx context.Context, teamID string) ([]store.Idea, error) {
	if !store.ValidKey(teamID) {
		return nil, validationError("team_id is required")
	}
	children, err := s.store.ReadChildren(ctx, store.IdeasPath(teamID))
	if err != nil {
		return nil, fmt.Errorf("list ideas: %w", err)
	}

	ideas := make([]store.Idea, 0, len(children))
	for id, raw := range children {
		var idea store.Idea
		if err := json.Unmarshal(raw, &idea); err != nil {
			return nil, fmt.Errorf("decode idea %s: %w", id, err)
		}
		idea.ID = id
		ideas = append(ideas, idea)
	}
	sort.Slice(ideas, func(i, j int) bool {
		if ideas[i].CreateTs != ideas[j].CreateTs {
			return ideas[i].CreateTs > ideas[j].CreateTs
		}
		return ideas[i].ID > ideas[j].ID
	})
	return ideas, nil
}

func (s *Service) SearchIdeas(ctx context.Context, q search.Query) (search.Response, error) {
	if !store.ValidKey(q.TeamID) {
		return search.Response{}, validationError("team_id is required")
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}

func (s *Service) credential(ctx context.Context, teamID string) (store.WorkspaceCredential, error) {
	if !store.ValidKey(teamID) {
		return store.WorkspaceCredential{}, notInstalledError(s.cfg.InstallPageURL())
	}
	var credential store.WorkspaceCredential
	err := store.ReadJSON(ctx, s.store, store.CredentialPath(teamID), &credential)
	if errors.Is(err, store.ErrNotFound) {
		return store.WorkspaceCredential{}, notInstalledError(s.cfg.InstallPageURL())
	}
	if err != nil {
		return store.WorkspaceCredential{}, fmt.Errorf("read credential: %w", err)
	}
	return credential, nil
}

func (s *Service) readIdea(ctx context.Context, ptr likePointer) (store.Idea, error) {
	var idea store.Idea
	err := store.ReadJSON(ctx, s.store, store.IdeaPath(ptr.TeamID, ptr.ID), &idea)
	if errors.Is(err, store.ErrNotFound) {
		return store.Idea{}, notFoundError("Idea not found.", err)
	}
	if err != nil {
		return store.Idea{}, fmt.Errorf("read idea: %w", err)
	}
	idea.ID = ptr.ID
	return idea, nil
}

func (s *Service) indexIdea(teamID string, idea store.Idea) {
	if s.search != nil {
		s.search.IndexIdea(search.RecordFromIdea(teamID, idea))
	}
}

// publish runs after the chat broadcast and gives up after publishTimeout; a
// broker outage or flow control never fails or delays an idea workflow.
func (s *Service) publish(ctx context.Context, routingKey string, event events.IdeaEvent) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := events.PublishJSON(ctx, s.events, routingKey, event); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("routing_key", routingKey).Msg("publish event")
	}
}
