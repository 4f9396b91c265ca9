package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BotAccount is a registered bot credential. The token itself is the key in
// the bots table and is not repeated inside the record.
type BotAccount struct {
	Name    string    `json:"name"`
	AddedAt time.Time `json:"added_at"`
}

// User is a platform user observed by any of the bot sessions. Records are
// created on first contact and never mutated afterwards.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Device is a managed device record. The device id is the key in the devices
// table and is supplied by the operator, not generated.
type Device struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	AddedAt     time.Time `json:"added_at"`
}

// ScheduledTask is a daily wall-clock dispatch rule: send Message to ChatID
// through the bot owning BotToken at Hour:Minute.
//
// Tasks are addressed by position in the scheduled_tasks sequence for
// compatibility with the admin surface; ID is a stable identifier assigned
// when a task is created so live scheduler rules survive sequence reshuffles.
type ScheduledTask struct {
	ID        string    `json:"id,omitempty"`
	BotToken  string    `json:"bot_token" validate:"required"`
	ChatID    int64     `json:"chat_id"   validate:"required"`
	Message   string    `json:"message"   validate:"required"`
	Hour      int       `json:"hour"      validate:"min=0,max=23"`
	Minute    int       `json:"minute"    validate:"min=0,max=59"`
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalJSON accepts both the native document shape and the legacy admin
// format, which stored chat_id, hour, and minute as strings and created_at
// as a zone-less timestamp.
func (t *ScheduledTask) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID        string          `json:"id"`
		BotToken  string          `json:"bot_token"`
		ChatID    json.RawMessage `json:"chat_id"`
		Message   string          `json:"message"`
		Hour      json.RawMessage `json:"hour"`
		Minute    json.RawMessage `json:"minute"`
		CreatedAt json.RawMessage `json:"created_at"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	chatID, err := lenientInt64(aux.ChatID)
	if err != nil {
		return fmt.Errorf("decode chat_id: %w", err)
	}
	hour, err := lenientInt64(aux.Hour)
	if err != nil {
		return fmt.Errorf("decode hour: %w", err)
	}
	minute, err := lenientInt64(aux.Minute)
	if err != nil {
		return fmt.Errorf("decode minute: %w", err)
	}
	createdAt, err := lenientTime(aux.CreatedAt)
	if err != nil {
		return fmt.Errorf("decode created_at: %w", err)
	}

	t.ID = aux.ID
	t.BotToken = aux.BotToken
	t.ChatID = chatID
	t.Message = aux.Message
	t.Hour = int(hour)
	t.Minute = int(minute)
	t.CreatedAt = createdAt
	return nil
}

// lenientInt64 decodes a JSON number or a numeric string. Absent or null
// values decode to zero.
func lenientInt64(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		if s == "" {
			return 0, nil
		}
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// lenientTime decodes an RFC 3339 timestamp or the zone-less form the legacy
// admin wrote; the latter is taken as local time.
func lenientTime(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, err
	}
	if s == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	ts, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

// MessageRecord is an archived message entry. The messages table is reserved:
// the engine only guarantees that it round-trips through the store intact.
type MessageRecord struct {
	MessageID int64     `json:"message_id"`
	UserID    int64     `json:"user_id"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

// KeywordRule maps one keyword to the chats a matching message is forwarded to.
type KeywordRule struct {
	Keyword string
	Targets []int64
}

// KeywordTable is an ordered keyword -> targets mapping. It serializes as a
// plain JSON object, but unlike a Go map it keeps the key order of the
// document: the router scans rules in table order and the first match wins,
// so iteration order is part of the routing contract.
type KeywordTable struct {
	rules []KeywordRule
}

// NewKeywordTable builds a table from rules in the given order.
func NewKeywordTable(rules ...KeywordRule) *KeywordTable {
	t := &KeywordTable{}
	for _, r := range rules {
		t.Set(r.Keyword, r.Targets)
	}
	return t
}

// Len reports the number of rules in the table.
func (t *KeywordTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rules)
}

// Rules returns the rules in table order. The returned slice is a copy.
func (t *KeywordTable) Rules() []KeywordRule {
	if t == nil {
		return nil
	}
	out := make([]KeywordRule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Get returns the targets for a keyword, if present.
func (t *KeywordTable) Get(keyword string) ([]int64, bool) {
	if t == nil {
		return nil, false
	}
	for _, r := range t.rules {
		if r.Keyword == keyword {
			return r.Targets, true
		}
	}
	return nil, false
}

// Set replaces the targets of an existing keyword in place, or appends a new
// rule at the end of the table.
func (t *KeywordTable) Set(keyword string, targets []int64) {
	for i, r := range t.rules {
		if r.Keyword == keyword {
			t.rules[i].Targets = targets
			return
		}
	}
	t.rules = append(t.rules, KeywordRule{Keyword: keyword, Targets: targets})
}

// Delete removes a keyword rule. Reports whether the keyword was present.
func (t *KeywordTable) Delete(keyword string) bool {
	for i, r := range t.rules {
		if r.Keyword == keyword {
			t.rules = append(t.rules[:i], t.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Match scans rules in table order and returns the first rule whose keyword
// is a substring of text. First match in table order wins even when a later
// keyword would be a longer match.
func (t *KeywordTable) Match(text string) (KeywordRule, bool) {
	if t == nil {
		return KeywordRule{}, false
	}
	for _, r := range t.rules {
		if r.Keyword != "" && strings.Contains(text, r.Keyword) {
			return r, true
		}
	}
	return KeywordRule{}, false
}

// MarshalJSON encodes the table as a JSON object preserving rule order.
func (t KeywordTable) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, r := range t.rules {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(r.Keyword)
		if err != nil {
			return nil, fmt.Errorf("encode keyword %q: %w", r.Keyword, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		targets := r.Targets
		if targets == nil {
			targets = []int64{}
		}
		val, err := json.Marshal(targets)
		if err != nil {
			return nil, fmt.Errorf("encode targets for %q: %w", r.Keyword, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into rules, keeping document key order.
func (t *KeywordTable) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode keyword table: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("decode keyword table: expected object, got %v", tok)
	}

	var rules []KeywordRule
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode keyword table key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("decode keyword table: non-string key %v", keyTok)
		}
		var targets []int64
		if err := dec.Decode(&targets); err != nil {
			return fmt.Errorf("decode targets for keyword %q: %w", key, err)
		}
		rules = append(rules, KeywordRule{Keyword: key, Targets: targets})
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode keyword table: %w", err)
	}

	t.rules = rules
	return nil
}
