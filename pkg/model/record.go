package model

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type RecordID string

// NewRecordID generates a new unique RecordID
func NewRecordID() RecordID {
	return RecordID(uuid.New().String())
}

func (x RecordID) String() string {
	return string(x)
}

// MemoryKind is a closed set of record categories
type MemoryKind string

const (
	KindTask         MemoryKind = "task"
	KindPlan         MemoryKind = "plan"
	KindConversation MemoryKind = "conversation"
	KindContext      MemoryKind = "context"
	KindEmbedding    MemoryKind = "embedding"
)

// MemoryKinds returns all valid kinds in declaration order
func MemoryKinds() []MemoryKind {
	return []MemoryKind{KindTask, KindPlan, KindConversation, KindContext, KindEmbedding}
}

func (x MemoryKind) Validate() error {
	if !slices.Contains(MemoryKinds(), x) {
		return goerr.Wrap(ErrInvalidKind, "unknown memory kind", goerr.V("kind", x))
	}
	return nil
}

// ParseMemoryKind converts a case-insensitive string to MemoryKind
func ParseMemoryKind(s string) (MemoryKind, error) {
	kind := MemoryKind(strings.ToLower(strings.TrimSpace(s)))
	if err := kind.Validate(); err != nil {
		return "", err
	}
	return kind, nil
}

// DefaultSessionID is assigned to session-scoped records stored without a session
const DefaultSessionID = "default"

// Record is the unit of storage shared by the short-term and long-term stores.
// TTL zero means the record is permanent.
type Record struct {
	ID        RecordID           `json:"id" firestore:"id"`
	Content   string             `json:"content" firestore:"content"`
	Kind      MemoryKind         `json:"memory_type" firestore:"memory_type"`
	Embedding firestore.Vector32 `json:"embedding,omitempty" firestore:"embedding,omitempty"`
	Metadata  map[string]any     `json:"metadata,omitempty" firestore:"metadata,omitempty"`
	CreatedAt time.Time          `json:"created_at" firestore:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" firestore:"updated_at"`
	TTL       time.Duration      `json:"-" firestore:"-"`
	SessionID string             `json:"session_id,omitempty" firestore:"session_id"`
	UserID    string             `json:"user_id,omitempty" firestore:"user_id,omitempty"`
}

// NewRecord creates a record with a fresh ID and creation time
func NewRecord(content string, kind MemoryKind) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:        NewRecordID(),
		Content:   content,
		Kind:      kind,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsEphemeral reports whether the record carries a time-to-live
func (x *Record) IsEphemeral() bool {
	return x.TTL > 0
}

// ExpiresAt returns the expiry time. ok is false for permanent records.
func (x *Record) ExpiresAt() (time.Time, bool) {
	if !x.IsEphemeral() {
		return time.Time{}, false
	}
	return x.CreatedAt.Add(x.TTL), true
}

// Expired reports whether now is past created_at + ttl
func (x *Record) Expired(now time.Time) bool {
	at, ok := x.ExpiresAt()
	return ok && now.After(at)
}

// TTLSeconds returns the TTL rounded up to whole seconds, 0 for permanent records
func (x *Record) TTLSeconds() int64 {
	if x.TTL <= 0 {
		return 0
	}
	return int64((x.TTL + time.Second - 1) / time.Second)
}

// MetaString returns a metadata value as string or def if absent or not a string
func (x *Record) MetaString(key, def string) string {
	if v, ok := x.Metadata[key].(string); ok && v != "" {
		return v
	}
	return def
}

func (x *Record) Clone() *Record {
	if x == nil {
		return nil
	}
	c := *x
	if x.Embedding != nil {
		c.Embedding = slices.Clone(x.Embedding)
	}
	if x.Metadata != nil {
		c.Metadata = maps.Clone(x.Metadata)
	}
	return &c
}

type recordAlias Record

// MarshalJSON writes ttl in seconds
func (x Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		recordAlias
		TTL int64 `json:"ttl,omitempty"`
	}{recordAlias(x), x.TTLSeconds()})
}

// UnmarshalJSON reads ttl in seconds
func (x *Record) UnmarshalJSON(data []byte) error {
	v := struct {
		*recordAlias
		TTL int64 `json:"ttl,omitempty"`
	}{recordAlias: (*recordAlias)(x)}
	if err := json.Unmarshal(data, &v); err != nil {
		return goerr.Wrap(err, "failed to unmarshal record")
	}
	x.TTL = time.Duration(v.TTL) * time.Second
	return nil
}
