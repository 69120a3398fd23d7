package inbound

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/vdavid/vrelay/internal/models"
	"github.com/vdavid/vrelay/internal/storage"
)

// candidate is an attachment found by one discovery rule.
// index is the provider's attachment-N position, or 0 when the rule has none.
type candidate struct {
	att   models.Attachment
	index int
}

// attachmentRule discovers attachment candidates from a payload.
type attachmentRule struct {
	name  string
	apply func(p *Payload) []candidate
}

// metadataRules run in this order; the first occurrence of a filename wins.
var metadataRules = []attachmentRule{
	{name: "indexed", apply: indexedAttachments},
	{name: "structured", apply: structuredAttachments},
	{name: "headers", apply: headerAttachments},
	{name: "generic", apply: genericAttachments},
}

var extensionMIME = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".odt":  "application/vnd.oasis.opendocument.text",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".html": "text/html",
	".htm":  "text/html",
	".json": "application/json",
	".xml":  "application/xml",
	".rtf":  "application/rtf",
	".zip":  "application/zip",
	".gz":   "application/gzip",
	".tar":  "application/x-tar",
	".rar":  "application/vnd.rar",
	".7z":   "application/x-7z-compressed",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".svg":  "image/svg+xml",
	".heic": "image/heic",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".ics":  "text/calendar",
	".vcf":  "text/vcard",
	".eml":  "message/rfc822",
}

// MimeTypeFor infers a MIME type from the file extension.
func MimeTypeFor(filename string) string {
	if t, ok := extensionMIME[strings.ToLower(path.Ext(filename))]; ok {
		return t
	}
	return "application/octet-stream"
}

var (
	indexedKeyPattern = regexp.MustCompile(`(?i)^attachment[-_]?(\d+)$`)
	indexedAnyPattern = regexp.MustCompile(`(?i)^attachment[-_]?\d+([-_].*)?$`)
	filenamePattern   = regexp.MustCompile(`^[^/\\\s]+\.[A-Za-z0-9]{1,8}$`)
	dispositionRe     = regexp.MustCompile(`(?i)content-disposition:\s*attachment\s*;[^\n]*?filename\*?=\s*"?([^";\r\n]+)"?`)
	contentTypeNameRe = regexp.MustCompile(`(?i)content-type:\s*([\w.+-]+/[\w.+-]+)\s*;[^\n]*?\bname\*?=\s*"?([^";\r\n]+)"?`)
	genericKeyHints   = []string{"attachment", "file", "image", "document", "media", "photo"}
)

// attachmentIndex parses N out of "attachment-N", "attachment_N" or "attachmentN".
func attachmentIndex(key string) (int, bool) {
	m := indexedKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil && n > 0
}

func isURL(v string) bool {
	u, err := url.Parse(v)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func filenameFromURL(v string) string {
	u, err := url.Parse(v)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		return unescaped
	}
	return name
}

func newAttachment(filename, mimeType string, size int64, contentURL string) models.Attachment {
	if mimeType == "" {
		mimeType = MimeTypeFor(filename)
	}
	a := models.Attachment{Filename: filename, MimeType: mimeType, SizeBytes: size}
	if contentURL != "" {
		a.ContentURL = &contentURL
	}
	return a
}

// indexedValue reads attachment-N[-suffix] tolerating "-", "_" and no separator.
func indexedValue(p *Payload, n int, suffix string) string {
	for _, sep := range []string{"-", "_", ""} {
		key := "attachment" + sep + strconv.Itoa(n)
		if suffix != "" {
			key += sep + strings.ReplaceAll(suffix, "-", sep)
		}
		if v := p.GetFold(key); v != "" {
			return v
		}
	}
	return ""
}

// indexedAttachments implements the numeric attachment-count convention.
func indexedAttachments(p *Payload) []candidate {
	countStr := p.GetFold("attachment-count")
	if countStr == "" {
		countStr = p.GetFold("attachment_count")
	}
	if countStr == "" {
		countStr = p.GetFold("attachmentCount")
	}
	count, err := strconv.Atoi(countStr)
	if err != nil || count <= 0 {
		return nil
	}
	count = min(count, 100)

	var out []candidate
	for n := 1; n <= count; n++ {
		value := indexedValue(p, n, "")
		contentURL := indexedValue(p, n, "url")
		if isURL(value) {
			if contentURL == "" {
				contentURL = value
			}
			value = filenameFromURL(value)
		}
		filename := value
		if filename == "" {
			filename = indexedValue(p, n, "name")
		}
		if filename == "" && contentURL != "" {
			filename = filenameFromURL(contentURL)
		}
		if filename == "" {
			continue
		}
		size, _ := strconv.ParseInt(indexedValue(p, n, "size"), 10, 64)
		out = append(out, candidate{
			att:   newAttachment(filename, indexedValue(p, n, "content-type"), size, contentURL),
			index: n,
		})
	}
	return out
}

type structuredAttachment struct {
	Filename         string `json:"filename"`
	Name             string `json:"name"`
	ContentType      string `json:"contentType"`
	MimeType         string `json:"mimeType"`
	ContentTypeKebab string `json:"content-type"`
	Size             any    `json:"size"`
	URL              string `json:"url"`
}

// structuredAttachments reads a JSON array of attachment objects.
func structuredAttachments(p *Payload) []candidate {
	raw := p.GetFold("attachments")
	if raw == "" || !strings.HasPrefix(raw, "[") {
		return nil
	}
	var items []structuredAttachment
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}

	var out []candidate
	for _, it := range items {
		filename := it.Filename
		if filename == "" {
			filename = it.Name
		}
		if filename == "" && it.URL != "" {
			filename = filenameFromURL(it.URL)
		}
		if filename == "" {
			continue
		}
		mimeType := it.ContentType
		if mimeType == "" {
			mimeType = it.MimeType
		}
		if mimeType == "" {
			mimeType = it.ContentTypeKebab
		}
		out = append(out, candidate{att: newAttachment(filename, mimeType, sizeOf(it.Size), it.URL)})
	}
	return out
}

func sizeOf(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case string:
		size, _ := strconv.ParseInt(n, 10, 64)
		return size
	default:
		return 0
	}
}

var foldedHeaderRe = regexp.MustCompile(`\r?\n[ \t]+`)

// headerFilename strips RFC 2231 charset prefixes such as UTF-8''name.pdf.
func headerFilename(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.Index(v, "''"); i >= 0 {
		if unescaped, err := url.PathUnescape(v[i+2:]); err == nil {
			return unescaped
		}
		return v[i+2:]
	}
	return v
}

// headerAttachments scans every field for raw Content-Disposition and Content-Type headers.
// The field name is included so a field literally called "Content-Disposition" also matches.
// Raw MIME fields are left to parseRawMIME, which also stores the parts.
func headerAttachments(p *Payload) []candidate {
	var out []candidate
	for _, key := range p.Keys() {
		if slices.Contains(rawMIMEKeys, key) {
			continue
		}
		for _, v := range p.Fields[key] {
			if !strings.Contains(strings.ToLower(v), "name") {
				continue
			}
			text := foldedHeaderRe.ReplaceAllString(key+": "+v, " ")
			for _, m := range dispositionRe.FindAllStringSubmatch(text, -1) {
				if name := headerFilename(m[1]); name != "" {
					out = append(out, candidate{att: newAttachment(name, "", 0, "")})
				}
			}
			for _, m := range contentTypeNameRe.FindAllStringSubmatch(text, -1) {
				if name := headerFilename(m[2]); name != "" {
					out = append(out, candidate{att: newAttachment(name, strings.ToLower(m[1]), 0, "")})
				}
			}
		}
	}
	return out
}

// genericAttachments is the last-resort rule: a key hinting at a file whose value is a filename or URL.
func genericAttachments(p *Payload) []candidate {
	var out []candidate
	for _, key := range p.Keys() {
		lower := strings.ToLower(key)
		if indexedAnyPattern.MatchString(key) || lower == "attachments" || strings.Contains(lower, "count") {
			continue
		}
		hinted := false
		for _, h := range genericKeyHints {
			if strings.Contains(lower, h) {
				hinted = true
				break
			}
		}
		if !hinted {
			continue
		}
		v := p.Get(key)
		switch {
		case isURL(v):
			if name := filenameFromURL(v); filenamePattern.MatchString(name) {
				out = append(out, candidate{att: newAttachment(name, "", 0, v)})
			}
		case filenamePattern.MatchString(v):
			out = append(out, candidate{att: newAttachment(v, "", 0, "")})
		}
	}
	return out
}

// attachmentSet accumulates attachments with case-sensitive filename dedup.
type attachmentSet struct {
	items   []models.Attachment
	byName  map[string]int
	byIndex map[int]int
}

func newAttachmentSet() *attachmentSet {
	return &attachmentSet{byName: map[string]int{}, byIndex: map[int]int{}}
}

// add keeps the first occurrence of a filename and reports whether c was new.
func (s *attachmentSet) add(c candidate) bool {
	if pos, ok := s.byName[c.att.Filename]; ok {
		if c.index > 0 {
			if _, taken := s.byIndex[c.index]; !taken {
				s.byIndex[c.index] = pos
			}
		}
		return false
	}
	s.items = append(s.items, c.att)
	pos := len(s.items) - 1
	s.byName[c.att.Filename] = pos
	if c.index > 0 {
		s.byIndex[c.index] = pos
	}
	return true
}

// attachUpload records an uploaded binary's URL, matched by index first, then by filename.
func (s *attachmentSet) attachUpload(index int, file UploadedFile, contentURL string) {
	pos, ok := s.byIndex[index]
	if !ok {
		pos, ok = s.byName[file.Filename]
	}
	if !ok {
		s.add(candidate{
			att:   newAttachment(file.Filename, file.ContentType, int64(len(file.Data)), ""),
			index: index,
		})
		pos = s.byName[file.Filename]
	}
	if contentURL != "" {
		u := contentURL
		s.items[pos].ContentURL = &u
	}
	if s.items[pos].SizeBytes == 0 {
		s.items[pos].SizeBytes = int64(len(file.Data))
	}
}

// storeUploads uploads every inline binary part and index-matches it to discovered metadata.
// An upload that fails leaves the attachment in place with a nil URL.
func storeUploads(ctx context.Context, logger *slog.Logger, store storage.ObjectStore, set *attachmentSet, files []UploadedFile) {
	for i, file := range files {
		index, ok := attachmentIndex(file.FieldName)
		if !ok {
			index = i + 1
		}
		if file.Filename == "" {
			file.Filename = indexedFallbackName(index)
		}
		file.Filename = storage.SanitizeFilename(file.Filename)
		mimeType := file.ContentType
		if mimeType == "" || mimeType == "application/octet-stream" {
			mimeType = MimeTypeFor(file.Filename)
		}

		var contentURL string
		if store != nil {
			u, err := store.Store(ctx, file.Data, file.Filename, mimeType)
			if err != nil {
				logger.WarnContext(ctx, "Inbound: failed to store uploaded attachment",
					slog.String("filename", file.Filename), sloki.WrapError(err))
			} else {
				contentURL = u
			}
		}
		file.ContentType = mimeType
		set.attachUpload(index, file, contentURL)
	}
}

func indexedFallbackName(index int) string {
	return "attachment-" + strconv.Itoa(index)
}

var gmailAccountPath = regexp.MustCompile(`^/mail/u/(\d+)/?$`)

// webmailRewrites maps webmail-internal hosts to their download-capable form. A rewrite
// reports false when the URL is not an attachment link and must be left alone.
var webmailRewrites = map[string]func(u *url.URL) bool{
	// https://mail.google.com/mail/u/<n>?...&attid=<id>&view=att is served for download as
	// https://mail-attachment.googleusercontent.com/attachment/u/<n>/?...&disp=safe
	"mail.google.com": func(u *url.URL) bool {
		q := u.Query()
		if q.Get("view") != "att" || q.Get("attid") == "" {
			return false
		}
		account := "0"
		if m := gmailAccountPath.FindStringSubmatch(u.Path); m != nil {
			account = m[1]
		}
		u.Host = "mail-attachment.googleusercontent.com"
		u.Path = "/attachment/u/" + account + "/"
		u.Fragment = ""
		q.Set("disp", "safe")
		u.RawQuery = q.Encode()
		return true
	},
}

// RewriteWebmailURL converts a webmail-internal attachment URL into a fetchable one.
// Other URLs are returned unchanged.
func RewriteWebmailURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	rewrite, ok := webmailRewrites[strings.ToLower(u.Host)]
	if !ok || !rewrite(u) {
		return raw
	}
	return u.String()
}

// RewriteAttachmentURLs applies RewriteWebmailURL to every stored link and reports whether any changed.
func RewriteAttachmentURLs(atts []models.Attachment) bool {
	changed := false
	for i := range atts {
		if atts[i].ContentURL == nil {
			continue
		}
		if rewritten := RewriteWebmailURL(*atts[i].ContentURL); rewritten != *atts[i].ContentURL {
			atts[i].ContentURL = &rewritten
			changed = true
		}
	}
	return changed
}
