// Package extract turns ingested payloads (plain text, HTML, PDF, URLs) into
// plain text for the knowledge base.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Format is the detected payload format.
type Format string

const (
	FormatText Format = "text"
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ErrEmpty is returned when a payload yields no text.
var ErrEmpty = errors.New("no text extracted")

// Detect picks a format from a file name or content type, sniffing the
// payload when neither is conclusive.
func Detect(name, contentType string, data []byte) Format {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "pdf"):
		return FormatPDF
	case strings.Contains(ct, "html"):
		return FormatHTML
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return FormatPDF
	case ".html", ".htm":
		return FormatHTML
	case ".txt", ".md":
		return FormatText
	}
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return FormatPDF
	}
	if strings.HasPrefix(http.DetectContentType(data), "text/html") {
		return FormatHTML
	}
	return FormatText
}

// Text extracts plain text from data in the given format.
func Text(format Format, data []byte) (string, error) {
	var (
		out string
		err error
	)
	switch format {
	case FormatPDF:
		out, err = PDF(data)
	case FormatHTML:
		out, err = HTML(bytes.NewReader(data))
	default:
		out = strings.ToValidUTF8(string(data), "")
	}
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmpty
	}
	return out, nil
}

// PDF returns the plain text of a PDF document.
func PDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	rd, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rd); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	if !utf8.Valid(buf.Bytes()) {
		return strings.ToValidUTF8(buf.String(), ""), nil
	}
	return buf.String(), nil
}

// HTML returns the visible text of an HTML document, one block element per
// line. Script, style and head content is dropped.
func HTML(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var (
		b    strings.Builder
		skip int
	)
	newline := func() {
		s := b.String()
		if s != "" && !strings.HasSuffix(s, "\n") {
			b.WriteByte('\n')
		}
	}
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return collapseLines(b.String()), nil
			}
			return "", fmt.Errorf("parsing html: %w", z.Err())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if hidden(a) {
				skip++
			} else if block(a) {
				newline()
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if hidden(a) && skip > 0 {
				skip--
			} else if block(a) {
				newline()
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(z.Text())), " ")
			if text == "" {
				continue
			}
			s := b.String()
			if s != "" && !strings.HasSuffix(s, "\n") && !strings.HasSuffix(s, " ") {
				b.WriteByte(' ')
			}
			b.WriteString(text)
		}
	}
}

func hidden(a atom.Atom) bool {
	switch a {
	case atom.Script, atom.Style, atom.Head, atom.Noscript, atom.Template:
		return true
	}
	return false
}

func block(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Li, atom.Ul, atom.Ol, atom.Tr, atom.Table,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Section, atom.Article, atom.Header, atom.Footer, atom.Pre, atom.Blockquote:
		return true
	}
	return false
}

func collapseLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// Fetched is a downloaded payload.
type Fetched struct {
	Data        []byte
	ContentType string
}

// Fetcher downloads documents over HTTP with a size cap.
type Fetcher struct {
	Client   *http.Client
	MaxBytes int64
	Timeout  time.Duration
}

const (
	defaultMaxFetch     = 5 << 20
	defaultFetchTimeout = 10 * time.Second
)

// Fetch downloads url. Non-2xx responses are errors.
func (f Fetcher) Fetch(ctx context.Context, url string) (Fetched, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	limit := f.MaxBytes
	if limit <= 0 {
		limit = defaultMaxFetch
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Fetched{}, fmt.Errorf("invalid url: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Fetched{}, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Fetched{}, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return Fetched{}, fmt.Errorf("reading %s: %w", url, err)
	}
	return Fetched{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

// URL fetches url and extracts its text.
func (f Fetcher) URL(ctx context.Context, url string) (string, error) {
	got, err := f.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return Text(Detect(url, got.ContentType, got.Data), got.Data)
}
