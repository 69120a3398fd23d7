// Package autolabel assigns best-effort categories to inbound mail from keyword and sender-domain tables.
package autolabel

import (
	"slices"
	"strings"
	"unicode"

	"github.com/vdavid/vrelay/internal/models"
	"golang.org/x/text/unicode/norm"
)

type rule struct {
	category models.Category
	domains  []string
	keywords []string
}

var rules = []rule{
	{
		category: models.CategorySocial,
		domains:  []string{"facebook.com", "facebookmail.com", "twitter.com", "x.com", "linkedin.com", "instagram.com", "tiktok.com", "pinterest.com", "reddit.com", "discord.com"},
		keywords: []string{"friend request", "tagged you", "mentioned you", "new follower", "connection request", "commented on", "liked your"},
	},
	{
		category: models.CategoryUpdates,
		domains:  []string{"github.com", "gitlab.com", "atlassian.net", "google.com", "apple.com", "microsoft.com"},
		keywords: []string{"receipt", "invoice", "statement", "your order has shipped", "security alert", "password reset", "verification code", "account update", "confirm your"},
	},
	{
		category: models.CategoryForums,
		domains:  []string{"googlegroups.com", "groups.io", "discourse.org", "stackexchange.com", "stackoverflow.com"},
		keywords: []string{"mailing list", "digest", "new reply", "new topic", "unsubscribe from this group", "forum"},
	},
	{
		category: models.CategoryShopping,
		domains:  []string{"amazon.com", "ebay.com", "etsy.com", "aliexpress.com", "shopify.com", "walmart.com"},
		keywords: []string{"order confirmation", "your cart", "shipped", "delivery", "tracking number", "order #"},
	},
	{
		category: models.CategoryPromotions,
		domains:  []string{"mailchimp.com", "mcsv.net", "sendgrid.net", "klaviyo.com", "constantcontact.com"},
		keywords: []string{"% off", "sale", "discount", "coupon", "limited time", "special offer", "promo code", "free shipping", "newsletter"},
	},
}

// Classifier matches text against the category tables.
type Classifier struct {
	enabled bool
}

// NewClassifier returns a classifier. A disabled classifier never assigns categories.
func NewClassifier(enabled bool) *Classifier {
	return &Classifier{enabled: enabled}
}

// Enabled reports whether classification is switched on.
func (c *Classifier) Enabled() bool {
	return c != nil && c.enabled
}

// Classify returns every category whose keywords appear in the subject or body,
// or whose domain list contains the sender's domain. Order follows models.Categories.
func (c *Classifier) Classify(subject, body, senderAddress string) []string {
	if !c.Enabled() {
		return nil
	}

	text := normalize(subject + "\n" + body)
	domain := senderDomain(senderAddress)

	var out []string
	for _, r := range rules {
		if matchesDomain(domain, r.domains) || slices.ContainsFunc(r.keywords, func(k string) bool { return containsPhrase(text, k) }) {
			out = append(out, string(r.category))
		}
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}

func senderDomain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	return normalize(strings.TrimSpace(address[at+1:]))
}

// matchesDomain accepts exact matches and subdomains.
func matchesDomain(domain string, domains []string) bool {
	if domain == "" {
		return false
	}
	for _, d := range domains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

// containsPhrase finds the phrase on word boundaries so "sale" does not match "wholesale".
func containsPhrase(text, phrase string) bool {
	for i := 0; ; {
		idx := strings.Index(text[i:], phrase)
		if idx < 0 {
			return false
		}
		start := i + idx
		end := start + len(phrase)
		if boundaryBefore(text, start, phrase) && boundaryAfter(text, end, phrase) {
			return true
		}
		i = start + 1
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func boundaryBefore(text string, start int, phrase string) bool {
	if start == 0 || !isWordRune(rune(phrase[0])) {
		return true
	}
	return !isWordRune(lastRune(text[:start]))
}

func boundaryAfter(text string, end int, phrase string) bool {
	if end >= len(text) || !isWordRune(rune(phrase[len(phrase)-1])) {
		return true
	}
	return !isWordRune(firstRune(text[end:]))
}

func lastRune(s string) rune {
	r := []rune(s)
	return r[len(r)-1]
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}
