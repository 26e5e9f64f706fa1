package normalize

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Basic HTML",
			input:    "<p>Hello <strong>world</strong>!</p>",
			expected: "Hello world!",
		},
		{
			name:     "Entities",
			input:    "&lt;div&gt; Test &amp; Example &quot;quoted&quot;",
			expected: `<div> Test & Example "quoted"`,
		},
		{
			name:     "Collapses whitespace",
			input:    "<p>Too    many   spaces</p>",
			expected: "Too many spaces",
		},
		{
			name:     "Non-breaking space and apostrophe",
			input:    "it&#39;s&nbsp;here",
			expected: "it's here",
		},
		{
			name:     "Empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StripHTML(tt.input)
			if got != tt.expected {
				t.Errorf("StripHTML(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestExtractChannelIDs(t *testing.T) {
	tests := []struct {
		name        string
		webURL      string
		wantTeam    string
		wantChannel string
	}{
		{
			name:        "Full deep link",
			webURL:      "https://teams.microsoft.com/l/message/19:chan@thread.tacv2/1234?groupId=team-123&tenantId=t1",
			wantTeam:    "team-123",
			wantChannel: "19:chan",
		},
		{
			name:        "Percent-encoded channel segment",
			webURL:      "https://teams.microsoft.com/l/message/19%3Achannel-id%40thread.tacv2/1234567890?groupId=team-id-123",
			wantTeam:    "team-id-123",
			wantChannel: "19%3Achannel-id%40thread.tacv2",
		},
		{
			name:     "Group only",
			webURL:   "https://teams.microsoft.com/thread?groupId=g",
			wantTeam: "g",
		},
		{
			name:   "No identifiers",
			webURL: "https://teams.microsoft.com/somewhere/else",
		},
		{
			name:   "Empty",
			webURL: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			team, channel := ExtractChannelIDs(tt.webURL)
			if team != tt.wantTeam {
				t.Errorf("team = %q, want %q", team, tt.wantTeam)
			}
			if channel != tt.wantChannel {
				t.Errorf("channel = %q, want %q", channel, tt.wantChannel)
			}
		})
	}
}

func rawMessage(t *testing.T, src string) map[string]interface{} {
	t.Helper()
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(src), &raw); err != nil {
		t.Fatalf("Invalid fixture: %v", err)
	}
	return raw
}

func TestMessage_Basic(t *testing.T) {
	raw := rawMessage(t, `{
		"id": "1234567890",
		"createdDateTime": "2025-11-22T10:30:00Z",
		"from": {"user": {"id": "user-123", "displayName": "John Doe"}},
		"body": {"contentType": "html", "content": "<p>Hello team!</p>"},
		"webUrl": "https://teams.microsoft.com/l/message/19%3Achannel-id%40thread.tacv2/1234567890?groupId=team-id-123",
		"mentions": [],
		"attachments": []
	}`)

	msg, err := Message(raw)
	if err != nil {
		t.Fatalf("Message failed: %v", err)
	}

	if msg.MessageID != "1234567890" {
		t.Errorf("MessageID = %s", msg.MessageID)
	}
	if !msg.CreatedDateTime.Equal(time.Date(2025, 11, 22, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("CreatedDateTime = %v", msg.CreatedDateTime)
	}
	if msg.SenderID != "user-123" || msg.SenderName != "John Doe" {
		t.Errorf("Sender = %s / %s", msg.SenderID, msg.SenderName)
	}
	if msg.BodyText != "Hello team!" {
		t.Errorf("BodyText = %q", msg.BodyText)
	}
	if msg.TeamID != "team-id-123" {
		t.Errorf("TeamID = %s", msg.TeamID)
	}
	if len(msg.Mentions) != 0 || len(msg.Attachments) != 0 {
		t.Errorf("Expected empty mentions/attachments")
	}
}

func TestMessage_Mentions(t *testing.T) {
	raw := rawMessage(t, `{
		"id": "msg-001",
		"createdDateTime": "2025-11-22T15:45:00Z",
		"body": {"content": "<p><at>@John Doe</at> can you help?</p>"},
		"mentions": [{
			"id": 0,
			"mentionText": "@John Doe",
			"mentioned": {"user": {"id": "user-789", "displayName": "John Doe"}}
		}]
	}`)

	msg, err := Message(raw)
	if err != nil {
		t.Fatalf("Message failed: %v", err)
	}
	if len(msg.Mentions) != 1 {
		t.Fatalf("Expected 1 mention, got %d", len(msg.Mentions))
	}
	m := msg.Mentions[0]
	if m.UserID != "user-789" || m.DisplayName != "John Doe" || m.MentionedText != "@John Doe" {
		t.Errorf("Mention = %+v", m)
	}
}

func TestMessage_Attachments(t *testing.T) {
	raw := rawMessage(t, `{
		"id": "msg-002",
		"createdDateTime": "2025-11-22T11:00:00Z",
		"attachments": [
			{"id": "att-1", "contentType": "reference", "contentUrl": "https://files.example.com/doc.pdf", "name": "doc.pdf"},
			{"id": "att-2"}
		]
	}`)

	msg, err := Message(raw)
	if err != nil {
		t.Fatalf("Message failed: %v", err)
	}
	if len(msg.Attachments) != 2 {
		t.Fatalf("Expected 2 attachments, got %d", len(msg.Attachments))
	}
	if msg.Attachments[0].Name != "doc.pdf" {
		t.Errorf("Attachment name = %s", msg.Attachments[0].Name)
	}
	// Missing sub-fields stay empty rather than failing the record.
	if msg.Attachments[1].ContentType != "" {
		t.Errorf("Expected empty content type, got %s", msg.Attachments[1].ContentType)
	}
}

func TestMessage_RequiredFields(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"Missing id", `{"createdDateTime": "2025-11-22T10:30:00Z"}`},
		{"Missing createdDateTime", `{"id": "msg-1"}`},
		{"Unparseable createdDateTime", `{"id": "msg-1", "createdDateTime": "yesterday"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Message(rawMessage(t, tt.src))
			if err == nil {
				t.Error("Expected error")
			}
			if msg != nil {
				t.Error("Expected no partial record")
			}
		})
	}
}

func TestMessage_FractionalTimestamp(t *testing.T) {
	raw := rawMessage(t, `{"id": "msg-3", "createdDateTime": "2025-11-22T10:30:00.1234567Z"}`)

	msg, err := Message(raw)
	if err != nil {
		t.Fatalf("Message failed: %v", err)
	}
	if msg.CreatedDateTime.Year() != 2025 {
		t.Errorf("CreatedDateTime = %v", msg.CreatedDateTime)
	}
}
