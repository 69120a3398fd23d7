package inbound

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// MaxUploadBytes caps the size of a webhook body, uploaded parts included.
const MaxUploadBytes = 32 << 20

// UploadedFile is a binary part sent inline with the webhook.
type UploadedFile struct {
	FieldName   string
	Filename    string
	ContentType string
	Data        []byte
}

// Payload is the untyped key-value body of a provider webhook.
type Payload struct {
	Fields map[string][]string
	Files  []UploadedFile
}

// NewPayload wraps plain string fields.
func NewPayload(fields map[string]string) *Payload {
	p := &Payload{Fields: make(map[string][]string, len(fields))}
	for k, v := range fields {
		p.Fields[k] = []string{v}
	}
	return p
}

// FromValues wraps url.Values, as produced by a form-encoded body.
func FromValues(values url.Values) *Payload {
	return &Payload{Fields: map[string][]string(values)}
}

// Get returns the first trimmed value for the exact key.
func (p *Payload) Get(key string) string {
	if p == nil {
		return ""
	}
	if v := p.Fields[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// First returns the first non-empty value among the keys, in order.
func (p *Payload) First(keys ...string) string {
	for _, k := range keys {
		if v := p.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// GetFold returns the first non-empty value for a key matched case-insensitively.
func (p *Payload) GetFold(key string) string {
	if v := p.Get(key); v != "" {
		return v
	}
	for _, k := range p.Keys() {
		if strings.EqualFold(k, key) {
			if v := p.Get(k); v != "" {
				return v
			}
		}
	}
	return ""
}

// Keys returns all field names in a stable order.
func (p *Payload) Keys() []string {
	if p == nil {
		return nil
	}
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ParseRequest reads a form-encoded, multipart or JSON webhook body.
func ParseRequest(w http.ResponseWriter, r *http.Request) (*Payload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}

	switch mediaType {
	case "application/json":
		return parseJSON(r.Body)
	case "multipart/form-data":
		return parseMultipart(r)
	default:
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("failed to parse form body: %w", err)
		}
		return FromValues(r.PostForm), nil
	}
}

func parseMultipart(r *http.Request) (*Payload, error) {
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		return nil, fmt.Errorf("failed to parse multipart body: %w", err)
	}
	p := FromValues(url.Values(r.MultipartForm.Value))

	fieldNames := make([]string, 0, len(r.MultipartForm.File))
	for name := range r.MultipartForm.File {
		fieldNames = append(fieldNames, name)
	}
	slices.SortFunc(fieldNames, compareFieldNames)

	for _, name := range fieldNames {
		for _, fh := range r.MultipartForm.File[name] {
			f, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open uploaded part %s: %w", name, err)
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read uploaded part %s: %w", name, err)
			}
			p.Files = append(p.Files, UploadedFile{
				FieldName:   name,
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}
	return p, nil
}

// compareFieldNames orders "attachment-2" before "attachment-10".
func compareFieldNames(a, b string) int {
	ia, oka := attachmentIndex(a)
	ib, okb := attachmentIndex(b)
	if oka && okb && ia != ib {
		return ia - ib
	}
	return strings.Compare(a, b)
}

func parseJSON(body io.Reader) (*Payload, error) {
	var raw map[string]any
	dec := json.NewDecoder(body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode JSON body: %w", err)
	}

	p := &Payload{Fields: make(map[string][]string, len(raw))}
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			p.Fields[k] = []string{val}
		case json.Number:
			p.Fields[k] = []string{val.String()}
		case bool:
			p.Fields[k] = []string{strconv.FormatBool(val)}
		case []any:
			if strs, ok := stringList(val); ok {
				p.Fields[k] = []string{strings.Join(strs, ", ")}
				continue
			}
			b, _ := json.Marshal(val)
			p.Fields[k] = []string{string(b)}
		default:
			b, _ := json.Marshal(val)
			p.Fields[k] = []string{string(b)}
		}
	}
	return p, nil
}

func stringList(items []any) ([]string, bool) {
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
