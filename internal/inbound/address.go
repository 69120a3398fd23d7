package inbound

import (
	"net/mail"
	"strings"

	"github.com/vdavid/vrelay/internal/models"
)

// UnknownSender is used when no sender field yields an address.
const UnknownSender = "unknown@unknown.invalid"

var (
	recipientKeys = []string{"recipient", "To", "to", "X-Recipient", "X-Original-To"}
	senderKeys    = []string{"sender", "from", "From", "Return-Path", "X-Sender"}
	ccKeys        = []string{"cc", "Cc", "CC"}
	bccKeys       = []string{"bcc", "Bcc", "BCC"}
)

// extractAddress pulls a bare address out of "Name <addr>", "token addr token" or "addr" forms.
// It returns "" when no address-like value is present.
func extractAddress(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if i := strings.LastIndex(v, "<"); i >= 0 {
		if j := strings.Index(v[i:], ">"); j > 1 {
			return cleanAddress(v[i+1 : i+j])
		}
	}
	if strings.ContainsAny(v, " \t") {
		for _, tok := range strings.Fields(v) {
			if strings.Contains(tok, "@") {
				return cleanAddress(tok)
			}
		}
		return ""
	}
	return cleanAddress(v)
}

func cleanAddress(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(strings.TrimPrefix(v, "mailto:"), "MAILTO:")
	v = strings.Trim(v, `<>"'(),;`)
	if !strings.Contains(v, "@") || strings.HasPrefix(v, "@") || strings.HasSuffix(v, "@") {
		return ""
	}
	return v
}

// splitAddressList splits on commas and semicolons that are outside quotes and angle brackets.
func splitAddressList(v string) []string {
	var out []string
	var cur strings.Builder
	inQuote, inAngle := false, false
	for _, r := range v {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == '<' && !inQuote:
			inAngle = true
		case r == '>' && !inQuote:
			inAngle = false
		case (r == ',' || r == ';') && !inQuote && !inAngle:
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// parseParticipant reads one address entry, keeping the display name when present.
func parseParticipant(v string) (models.Participant, bool) {
	if a, err := mail.ParseAddress(v); err == nil {
		return models.NewParticipant(a.Address, a.Name), true
	}
	addr := extractAddress(v)
	if addr == "" {
		return models.Participant{}, false
	}
	name := ""
	if i := strings.Index(v, "<"); i > 0 {
		name = strings.Trim(strings.TrimSpace(v[:i]), `"'`)
	}
	return models.NewParticipant(addr, name), true
}

// parseParticipants parses a comma-separated address list, skipping unparseable entries.
func parseParticipants(v string) []models.Participant {
	out := []models.Participant{}
	for _, entry := range splitAddressList(v) {
		if p, ok := parseParticipant(entry); ok {
			out = append(out, p)
		}
	}
	return out
}

// resolveRecipients returns the addresses from the first recipient field that yields any.
func resolveRecipients(p *Payload) []string {
	for _, key := range recipientKeys {
		v := p.Get(key)
		if v == "" {
			continue
		}
		var addrs []string
		for _, entry := range splitAddressList(v) {
			if a := extractAddress(entry); a != "" {
				addrs = append(addrs, strings.ToLower(a))
			}
		}
		if len(addrs) > 0 {
			return addrs
		}
	}
	return nil
}

// resolveSender returns the first sender field that yields an address, or UnknownSender.
func resolveSender(p *Payload) models.Participant {
	for _, key := range senderKeys {
		v := p.Get(key)
		if v == "" {
			continue
		}
		entries := splitAddressList(v)
		if len(entries) == 0 {
			continue
		}
		if participant, ok := parseParticipant(entries[0]); ok {
			return participant
		}
	}
	return models.NewParticipant(UnknownSender, "")
}
