package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/slack-go/slack"
)

const (
	callbackSubmitIdea = "submit_idea"
	callbackIdeaAction = "idea_action"
	actionLike         = "like"

	maxInteractionBody = 1 << 20
)

// interaction is the closed set of shapes Slack posts to the interaction endpoint.
type interaction interface {
	kind() string
}

type slashCommand struct {
	command slack.SlashCommand
}

type ideaSubmission struct {
	payload interactionPayload
}

type dialogCancellation struct {
	payload interactionPayload
}

type likeAction struct {
	payload interactionPayload
	action  slack.AttachmentAction
}

// passThrough is anything this router does not own.
type passThrough struct{}

func (slashCommand) kind() string       { return "slash_command" }
func (ideaSubmission) kind() string     { return "idea_submission" }
func (dialogCancellation) kind() string { return "dialog_cancellation" }
func (likeAction) kind() string         { return "like_action" }
func (passThrough) kind() string        { return "pass_through" }

type payloadRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// interactionPayload is the JSON carried in the "payload" form field of
// dialog submissions and interactive message actions.
type interactionPayload struct {
	Type        string                   `json:"type"`
	CallbackID  string                   `json:"callback_id"`
	Submission  map[string]any           `json:"submission"`
	Actions     []slack.AttachmentAction `json:"actions"`
	Team        payloadRef               `json:"team"`
	Channel     payloadRef               `json:"channel"`
	User        payloadRef               `json:"user"`
	ResponseURL string                   `json:"response_url"`
	TriggerID   string                   `json:"trigger_id"`
}

// submissionString returns the submitted text for field, treating null and
// missing alike.
func (p interactionPayload) submissionString(field string) string {
	value, ok := p.Submission[field]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// classify decides which workflow owns a request. A registered slash command
// wins; otherwise the decoded payload's callback id and first action decide.
// Malformed payload JSON is the only error.
func classify(values url.Values, registeredCommand string) (interaction, error) {
	if command := values.Get("command"); command != "" {
		if command != registeredCommand {
			return passThrough{}, nil
		}
		return slashCommand{command: slashCommandFromValues(values)}, nil
	}

	raw := values.Get("payload")
	if raw == "" {
		return passThrough{}, nil
	}

	var payload interactionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, validationError("Invalid request, malformed payload.")
	}

	switch normalizeCallbackID(payload.CallbackID) {
	case callbackSubmitIdea:
		if payload.Type == "dialog_cancellation" {
			return dialogCancellation{payload: payload}, nil
		}
		return ideaSubmission{payload: payload}, nil
	case callbackIdeaAction:
		if len(payload.Actions) == 0 || payload.Actions[0].Name != actionLike {
			return passThrough{}, nil
		}
		return likeAction{payload: payload, action: payload.Actions[0]}, nil
	default:
		return passThrough{}, nil
	}
}

// normalizeCallbackID accepts the slash-prefixed ids carried by messages and
// dialogs created by earlier releases.
func normalizeCallbackID(callbackID string) string {
	return strings.TrimPrefix(callbackID, "/")
}

func slashCommandFromValues(values url.Values) slack.SlashCommand {
	return slack.SlashCommand{
		Token:       values.Get("token"),
		TeamID:      values.Get("team_id"),
		TeamDomain:  values.Get("team_domain"),
		ChannelID:   values.Get("channel_id"),
		ChannelName: values.Get("channel_name"),
		UserID:      values.Get("user_id"),
		UserName:    values.Get("user_name"),
		Command:     values.Get("command"),
		Text:        values.Get("text"),
		ResponseURL: values.Get("response_url"),
		TriggerID:   values.Get("trigger_id"),
		APIAppID:    values.Get("api_app_id"),
	}
}

// readInteraction reads a form or JSON body into values and rewinds the body
// so a pass-through handler can read it again.
func readInteraction(r *http.Request) (url.Values, error) {
	if r.Body == nil {
		return url.Values{}, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInteractionBody+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, validationError("Invalid request body.")
	}
	if len(body) > maxInteractionBody {
		return nil, validationError("Invalid request, body too large.")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		return jsonValues(body)
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, validationError("Invalid request body.")
	}
	return values, nil
}

func jsonValues(body []byte) (url.Values, error) {
	values := url.Values{}
	if len(bytes.TrimSpace(body)) == 0 {
		return values, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, validationError("Invalid request body.")
	}
	for key, raw := range fields {
		if isNullJSON(raw) {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			values.Set(key, s)
			continue
		}
		values.Set(key, string(raw))
	}
	return values, nil
}

func isNullJSON(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
