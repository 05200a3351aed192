package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PushEvent is the subset of a GitHub push payload this service consumes.
type PushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		CloneURL string `json:"clone_url"`
	} `json:"repository"`
	HeadCommit struct {
		ID string `json:"id"`
	} `json:"head_commit"`
	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`
}

// ErrMissingField tags validation failures the ingress maps to 400 responses.
var ErrMissingField = errors.New("missing required field")

// Push is the validated form handed to the ingress.
type Push struct {
	RepoURL   string
	CommitSHA string
	Pusher    string
	Branch    string
}

// ParsePush decodes and validates a push payload. The commit SHA falls back
// to head_commit.id when "after" is absent; the pusher defaults to "Unknown";
// the branch is the last segment of the ref.
func ParsePush(body []byte) (Push, error) {
	var ev PushEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return Push{}, fmt.Errorf("decode push payload: %w", err)
	}

	sha := ev.After
	if sha == "" {
		sha = ev.HeadCommit.ID
	}
	if ev.Repository.CloneURL == "" {
		return Push{}, fmt.Errorf("repository.clone_url: %w", ErrMissingField)
	}
	if sha == "" {
		return Push{}, fmt.Errorf("after/head_commit.id: %w", ErrMissingField)
	}

	pusher := ev.Pusher.Name
	if pusher == "" {
		pusher = "Unknown"
	}
	ref := ev.Ref
	if ref == "" {
		ref = "refs/heads/main"
	}
	parts := strings.Split(ref, "/")

	return Push{
		RepoURL:   ev.Repository.CloneURL,
		CommitSHA: sha,
		Pusher:    pusher,
		Branch:    parts[len(parts)-1],
	}, nil
}
