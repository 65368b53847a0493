package publisher

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// publishFingerprint is the request shape that identifies a publish. Retry support is volatile
// and left out; the session id and the latest version id are in.
type publishFingerprint struct {
	Operation   string    `json:"operation"`
	TargetID    uuid.UUID `json:"target_id"`
	ServiceName string    `json:"service_name"`
	SDL         string    `json:"sdl"`
	URL         string    `json:"url"`
	Metadata    string    `json:"metadata"`
	Author      string    `json:"author"`
	Commit      string    `json:"commit"`
	Force       bool      `json:"force"`
	ContextID   string    `json:"context_id"`
	GitHub      *GitHub   `json:"github,omitempty"`
	SessionID   string    `json:"session_id"`
	LatestID    string    `json:"latest_id"`
}

func publishChecksum(targetID uuid.UUID, in PublishInput, latestID *uuid.UUID) string {
	fp := publishFingerprint{
		Operation:   "publish",
		TargetID:    targetID,
		ServiceName: strings.ToLower(strings.TrimSpace(in.Service.Name)),
		SDL:         in.Service.SDL,
		URL:         strings.TrimSpace(in.Service.URL),
		Metadata:    in.Service.Metadata,
		Author:      strings.TrimSpace(in.Author),
		Commit:      strings.TrimSpace(in.Commit),
		Force:       in.Force,
		ContextID:   in.ContextID,
		GitHub:      in.GitHub,
		SessionID:   in.Actor.SessionID,
	}
	if latestID != nil {
		fp.LatestID = latestID.String()
	}
	raw, _ := json.Marshal(fp)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
