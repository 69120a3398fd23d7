package models

// PaginationInfo describes one page of a listing.
type PaginationInfo struct {
	TotalCount int `json:"total_count"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
}

// MessagesResponse is the list-by-folder / list-by-category response.
type MessagesResponse struct {
	Messages   []*Message     `json:"messages"`
	Pagination PaginationInfo `json:"pagination"`
}

// MailStats aggregates counts across a mailbox.
type MailStats struct {
	Total            int            `json:"total"`
	Unread           int            `json:"unread"`
	Starred          int            `json:"starred"`
	Important        int            `json:"important"`
	Folders          map[Folder]int `json:"folders"`
	UnreadByFolder   map[Folder]int `json:"unread_by_folder"`
	Categories       map[string]int `json:"categories"`
	UnreadByCategory map[string]int `json:"unread_by_category"`
}

// NewMailStats returns stats with every folder and category present at zero.
func NewMailStats() *MailStats {
	s := &MailStats{
		Folders:          make(map[Folder]int, len(Folders)),
		UnreadByFolder:   make(map[Folder]int, len(Folders)),
		Categories:       make(map[string]int, len(Categories)),
		UnreadByCategory: make(map[string]int, len(Categories)),
	}
	for _, f := range Folders {
		s.Folders[f] = 0
		s.UnreadByFolder[f] = 0
	}
	for _, c := range Categories {
		s.Categories[string(c)] = 0
		s.UnreadByCategory[string(c)] = 0
	}
	return s
}

// WebhookResponse is the body returned to the provider. It is always sent with 200.
type WebhookResponse struct {
	Message string `json:"message"`
	MailID  string `json:"mailId,omitempty"`
	Error   string `json:"error,omitempty"`
}
