package inbound

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/vdavid/vrelay/internal/htmlstrip"
)

// NoSubject replaces a missing subject.
const NoSubject = "(No Subject)"

// SpamScoreThreshold is the provider score above which mail is filed as spam.
const SpamScoreThreshold = 5.0

// maxTimestampSkew is how far past the receive time a provider timestamp may lie.
const maxTimestampSkew = 24 * time.Hour

var (
	subjectKeys   = []string{"subject", "Subject"}
	textKeys      = []string{"body-plain", "stripped-text", "text", "content"}
	htmlKeys      = []string{"body-html", "stripped-html", "html"}
	idKeys        = []string{"Message-Id", "message-id", "Message-ID", "messageId"}
	inReplyToKeys = []string{"In-Reply-To", "in-reply-to", "inReplyTo"}
	referenceKeys = []string{"References", "references"}
	spamScoreKeys = []string{"X-Mailgun-Sscore", "spam-score", "X-Spam-Score"}
	spamFlagKeys  = []string{"X-Mailgun-Sflag", "spam-flag", "X-Spam-Flag"}
	timestampKeys = []string{"timestamp"}
)

func resolveSubject(p *Payload) string {
	if s := p.First(subjectKeys...); s != "" {
		return s
	}
	return NoSubject
}

// resolveBodies returns the text and HTML bodies. HTML falls back to the text body;
// text is derived from HTML when only HTML is present.
func resolveBodies(p *Payload) (text, html string) {
	text = firstRaw(p, textKeys...)
	html = firstRaw(p, htmlKeys...)
	if html == "" {
		html = text
	}
	if text == "" && html != "" {
		text = htmlstrip.Text(html)
	}
	return text, html
}

// firstRaw is First without trimming, since body whitespace is meaningful.
func firstRaw(p *Payload, keys ...string) string {
	for _, k := range keys {
		if v := p.Fields[k]; len(v) > 0 && strings.TrimSpace(v[0]) != "" {
			return v[0]
		}
	}
	return ""
}

// resolveTimestamp reads provider epoch seconds, falling back to now for values at or
// before the epoch, more than a day ahead of now, or unparseable.
func resolveTimestamp(p *Payload, now time.Time) time.Time {
	v := p.First(timestampKeys...)
	if v == "" {
		return now
	}
	limit := now.Add(maxTimestampSkew).Unix()
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs <= 0 || secs > limit {
			return now
		}
		return time.Unix(secs, 0).UTC()
	}
	f, err := strconv.ParseFloat(v, 64)
	// NaN fails every comparison, so check it explicitly.
	if err != nil || math.IsNaN(f) || f <= 0 || f > float64(limit) {
		return now
	}
	secs, frac := math.Modf(f)
	return time.Unix(int64(secs), int64(frac*float64(time.Second))).UTC()
}

// resolveMessageID returns the provider id, or a synthesized one when absent.
func resolveMessageID(p *Payload, now time.Time, domain string) (id string, synthesized bool) {
	if v := p.First(idKeys...); v != "" {
		return v, false
	}
	return SynthesizeMessageID(now, domain), true
}

// SynthesizeMessageID builds "<unix-nanos>.<random>@domain".
func SynthesizeMessageID(now time.Time, domain string) string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	if domain == "" {
		domain = "localhost"
	}
	return fmt.Sprintf("<%d.%s@%s>", now.UnixNano(), hex.EncodeToString(b), domain)
}

func resolveThreading(p *Payload) (inReplyTo string, references []string) {
	inReplyTo = p.First(inReplyToKeys...)
	references = strings.FieldsFunc(p.First(referenceKeys...), func(r rune) bool {
		return unicode.IsSpace(r) || r == ','
	})
	if references == nil {
		references = []string{}
	}
	return inReplyTo, references
}

// resolveSpam reads the provider score and flag. isSpam = flag "yes" or score above the threshold.
func resolveSpam(p *Payload) (score *float64, isSpam bool) {
	if v := p.First(spamScoreKeys...); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			score = &f
			if f > SpamScoreThreshold {
				isSpam = true
			}
		}
	}
	if strings.EqualFold(p.First(spamFlagKeys...), "yes") {
		isSpam = true
	}
	return score, isSpam
}
