package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

type Mention struct {
	UserID        string `json:"user_id,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	MentionedText string `json:"mentioned_text,omitempty"`
}

type Attachment struct {
	ID          string `json:"id,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	ContentURL  string `json:"content_url,omitempty"`
	Name        string `json:"name,omitempty"`
}

type NormalizedMessage struct {
	MessageID       string                 `json:"message_id"`
	CreatedDateTime time.Time              `json:"created_datetime"`
	TeamID          string                 `json:"team_id,omitempty"`
	ChannelID       string                 `json:"channel_id,omitempty"`
	SenderID        string                 `json:"sender_id,omitempty"`
	SenderName      string                 `json:"sender_name,omitempty"`
	BodyText        string                 `json:"body_text"`
	Mentions        []Mention              `json:"mentions"`
	Attachments     []Attachment           `json:"attachments"`
	Raw             map[string]interface{} `json:"raw_json"`
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	teamIDPattern     = regexp.MustCompile(`groupId=([^&]+)`)
	channelIDPattern  = regexp.MustCompile(`/l/message/([^/]+)/`)
)

// StripHTML reduces an HTML body to plain text: tags removed, the common
// named entities decoded, whitespace runs collapsed.
func StripHTML(html string) string {
	if html == "" {
		return ""
	}

	text := tagPattern.ReplaceAllString(html, "")

	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&quot;", `"`)
	text = strings.ReplaceAll(text, "&#39;", "'")

	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}

// ExtractChannelIDs pulls the team and channel identifiers out of a message
// deep-link URL. The URL scheme is undocumented and may change, so this is
// best effort: no match leaves the corresponding ID empty.
func ExtractChannelIDs(webURL string) (teamID, channelID string) {
	if webURL == "" {
		return "", ""
	}

	if m := teamIDPattern.FindStringSubmatch(webURL); m != nil {
		teamID = m[1]
	}
	if m := channelIDPattern.FindStringSubmatch(webURL); m != nil {
		// Channel IDs carry a trailing @thread qualifier.
		channelID, _, _ = strings.Cut(m[1], "@")
	}
	return teamID, channelID
}

// Message converts a raw fetched message into the canonical record. Missing
// id or createdDateTime is a hard failure; everything else is best effort.
func Message(raw map[string]interface{}) (*NormalizedMessage, error) {
	messageID, _ := raw["id"].(string)
	if messageID == "" {
		return nil, errors.New("message id is required")
	}

	createdStr, _ := raw["createdDateTime"].(string)
	if createdStr == "" {
		return nil, errors.New("createdDateTime is required")
	}
	created, err := parseTimestamp(createdStr)
	if err != nil {
		return nil, fmt.Errorf("parse createdDateTime: %w", err)
	}

	webURL, _ := raw["webUrl"].(string)
	teamID, channelID := ExtractChannelIDs(webURL)

	senderUser := nestedMap(nestedMap(raw, "from"), "user")
	senderID, _ := senderUser["id"].(string)
	senderName, _ := senderUser["displayName"].(string)

	bodyContent, _ := nestedMap(raw, "body")["content"].(string)

	msg := &NormalizedMessage{
		MessageID:       messageID,
		CreatedDateTime: created,
		TeamID:          teamID,
		ChannelID:       channelID,
		SenderID:        senderID,
		SenderName:      senderName,
		BodyText:        StripHTML(bodyContent),
		Mentions:        []Mention{},
		Attachments:     []Attachment{},
		Raw:             raw,
	}

	if mentions, ok := raw["mentions"].([]interface{}); ok {
		for _, item := range mentions {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			mentionedUser := nestedMap(nestedMap(entry, "mentioned"), "user")
			mention := Mention{}
			mention.UserID, _ = mentionedUser["id"].(string)
			mention.DisplayName, _ = mentionedUser["displayName"].(string)
			mention.MentionedText, _ = entry["mentionText"].(string)
			msg.Mentions = append(msg.Mentions, mention)
		}
	}

	if attachments, ok := raw["attachments"].([]interface{}); ok {
		for _, item := range attachments {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			att := Attachment{}
			att.ID, _ = entry["id"].(string)
			att.ContentType, _ = entry["contentType"].(string)
			att.ContentURL, _ = entry["contentUrl"].(string)
			att.Name, _ = entry["name"].(string)
			msg.Attachments = append(msg.Attachments, att)
		}
	}

	return msg, nil
}

func parseTimestamp(value string) (time.Time, error) {
	// The platform emits ISO-8601 with a Z suffix; normalize to an explicit
	// UTC offset before parsing.
	value = strings.Replace(value, "Z", "+00:00", 1)
	return time.Parse("2006-01-02T15:04:05.999999999Z07:00", value)
}

func nestedMap(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	child, _ := m[key].(map[string]interface{})
	return child
}
