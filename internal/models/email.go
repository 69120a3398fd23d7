package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Folder is the single mailbox folder a message lives in.
type Folder string

const (
	FolderInbox     Folder = "inbox"
	FolderSent      Folder = "sent"
	FolderDrafts    Folder = "drafts"
	FolderSpam      Folder = "spam"
	FolderTrash     Folder = "trash"
	FolderArchive   Folder = "archive"
	FolderScheduled Folder = "scheduled"
)

// Folders lists every legal folder in display order.
var Folders = []Folder{
	FolderInbox,
	FolderSent,
	FolderDrafts,
	FolderSpam,
	FolderTrash,
	FolderArchive,
	FolderScheduled,
}

// ParseFolder validates a folder name coming from a client or a payload.
func ParseFolder(name string) (Folder, error) {
	f := Folder(strings.ToLower(strings.TrimSpace(name)))
	if !slices.Contains(Folders, f) {
		return "", fmt.Errorf("invalid folder %q", name)
	}
	return f, nil
}

// Status is the delivery status of a message.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusBounced   Status = "bounced"
)

// Participant is one address on a message, with an optional display name.
type Participant struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// String renders the participant in "Name <addr>" form.
func (p Participant) String() string {
	if p.Name == "" {
		return p.Address
	}
	return fmt.Sprintf("%s <%s>", p.Name, p.Address)
}

// NewParticipant builds a participant, deriving the name from the local part when empty.
func NewParticipant(address, name string) Participant {
	address = strings.TrimSpace(address)
	name = strings.TrimSpace(name)
	if name == "" {
		if at := strings.Index(address, "@"); at > 0 {
			name = address[:at]
		}
	}
	return Participant{Address: address, Name: name}
}

// Attachment describes a file attached to a message.
// ContentURL stays nil until the binary has been durably stored.
type Attachment struct {
	Filename   string  `json:"filename"`
	MimeType   string  `json:"mime_type"`
	SizeBytes  int64   `json:"size_bytes"`
	ContentURL *string `json:"content_url"`
}

// Message is the canonical mail record owned by exactly one user.
type Message struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id"`
	ProviderMessageID *string       `json:"provider_message_id,omitempty"`
	From              Participant   `json:"from"`
	To                []Participant `json:"to"`
	CC                []Participant `json:"cc"`
	BCC               []Participant `json:"bcc"`
	Subject           string        `json:"subject"`
	TextBody          string        `json:"text_body"`
	HTMLBody          string        `json:"html_body"`
	Folder            Folder        `json:"folder"`
	Status            Status        `json:"status"`
	Labels            []string      `json:"labels"`
	Categories        []string      `json:"categories"`
	IsRead            bool          `json:"is_read"`
	IsImportant       bool          `json:"is_important"`
	IsStarred         bool          `json:"is_starred"`
	InReplyTo         string        `json:"in_reply_to,omitempty"`
	References        []string      `json:"references"`
	Attachments       []Attachment  `json:"attachments"`
	SpamScore         *float64      `json:"spam_score,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	SentAt            *time.Time    `json:"sent_at,omitempty"`
	ReceivedAt        *time.Time    `json:"received_at,omitempty"`
	ReadAt            *time.Time    `json:"read_at,omitempty"`
	DeletedAt         *time.Time    `json:"deleted_at,omitempty"`
	ScheduledSendAt   *time.Time    `json:"scheduled_send_at,omitempty"`
	SnoozeUntil       *time.Time    `json:"snooze_until,omitempty"`
}

// MoveTo reassigns the folder and keeps DeletedAt coupled to the trash folder.
func (m *Message) MoveTo(folder Folder, now time.Time) {
	if folder == FolderTrash {
		if m.DeletedAt == nil {
			t := now
			m.DeletedAt = &t
		}
	} else {
		m.DeletedAt = nil
	}
	m.Folder = folder
}

// SetRead updates IsRead and ReadAt together.
func (m *Message) SetRead(read bool, now time.Time) {
	m.IsRead = read
	if read {
		if m.ReadAt == nil {
			t := now
			m.ReadAt = &t
		}
		return
	}
	m.ReadAt = nil
}

// MarkSent transitions the message into sent. SentAt is only ever set once.
func (m *Message) MarkSent(providerMessageID string, now time.Time) {
	m.Status = StatusSent
	m.Folder = FolderSent
	m.DeletedAt = nil
	m.ScheduledSendAt = nil
	if providerMessageID != "" {
		id := providerMessageID
		m.ProviderMessageID = &id
	}
	if m.SentAt == nil {
		t := now
		m.SentAt = &t
	}
}

// AddLabel adds a label, idempotently, and resyncs categories.
func (m *Message) AddLabel(label string) {
	if !slices.Contains(m.Labels, label) {
		m.Labels = append(m.Labels, label)
	}
	m.Categories = CategoriesOf(m.Labels)
}

// RemoveLabel removes a label, idempotently, and resyncs categories.
func (m *Message) RemoveLabel(label string) {
	m.Labels = slices.DeleteFunc(m.Labels, func(l string) bool { return l == label })
	m.Categories = CategoriesOf(m.Labels)
}

// AppendReferences appends ids to References without duplicating existing entries.
func (m *Message) AppendReferences(ids ...string) {
	for _, id := range ids {
		if id == "" || slices.Contains(m.References, id) {
			continue
		}
		m.References = append(m.References, id)
	}
}

// HasAttachment reports whether an attachment with the filename is present.
func (m *Message) HasAttachment(filename string) bool {
	return slices.ContainsFunc(m.Attachments, func(a Attachment) bool { return a.Filename == filename })
}

// MergeAttachments appends attachments whose filename is not present yet.
func (m *Message) MergeAttachments(atts []Attachment) {
	for _, a := range atts {
		if !m.HasAttachment(a.Filename) {
			m.Attachments = append(m.Attachments, a)
		}
	}
}

// Clone returns a copy that shares no slices with m.
func (m *Message) Clone() *Message {
	c := *m
	c.To = slices.Clone(m.To)
	c.CC = slices.Clone(m.CC)
	c.BCC = slices.Clone(m.BCC)
	c.Labels = slices.Clone(m.Labels)
	c.Categories = slices.Clone(m.Categories)
	c.References = slices.Clone(m.References)
	c.Attachments = slices.Clone(m.Attachments)
	return &c
}

var statuses = []Status{StatusDraft, StatusScheduled, StatusSent, StatusDelivered, StatusFailed, StatusBounced}

// CheckInvariants reports the first row constraint the message violates. The checks
// match the CHECK constraints on the messages table.
func (m *Message) CheckInvariants() error {
	if !slices.Contains(Folders, m.Folder) {
		return fmt.Errorf("invalid folder %q", m.Folder)
	}
	if !slices.Contains(statuses, m.Status) {
		return fmt.Errorf("invalid status %q", m.Status)
	}
	if (m.Folder == FolderTrash) != (m.DeletedAt != nil) {
		return fmt.Errorf("folder %q with deleted_at set=%t", m.Folder, m.DeletedAt != nil)
	}
	if m.Status == StatusSent && m.SentAt == nil {
		return fmt.Errorf("status sent without sent_at")
	}
	if m.Status == StatusScheduled && (m.Folder != FolderScheduled || m.ScheduledSendAt == nil) {
		return fmt.Errorf("status scheduled in folder %q with scheduled_send_at set=%t", m.Folder, m.ScheduledSendAt != nil)
	}
	for _, c := range m.Categories {
		if !slices.Contains(m.Labels, c) {
			return fmt.Errorf("category %q without matching label", c)
		}
	}
	return nil
}
