package store

// WorkspaceCredential is written at /slack/{teamId} when a workspace installs the app.
type WorkspaceCredential struct {
	TeamID   string `json:"team_id"`
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	TeamName string `json:"team_name"`
}

type LinkMeta struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
}

// LikeSet maps user ids to true. Unliking removes the key rather than storing false.
type LikeSet map[string]bool

func (l LikeSet) Has(userID string) bool {
	return l[userID]
}

func (l LikeSet) Count() int {
	n := 0
	for _, liked := range l {
		if liked {
			n++
		}
	}
	return n
}

type Idea struct {
	ID         string   `json:"id,omitempty"`
	Idea       string   `json:"idea"`
	ArticleURL string   `json:"articleURL,omitempty"`
	Meta       LinkMeta `json:"meta"`
	CreateTs   int64    `json:"createTs"`
	User       string   `json:"user"`
	UID        string   `json:"uid"`
	Likes      LikeSet  `json:"likes,omitempty"`
}
