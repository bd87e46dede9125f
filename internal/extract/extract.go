// Package extract turns fetched pages into plain-text documents and collects
// their outbound links.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"

	"github.com/JakeFAU/web-researcher/internal/clock/system"
	"github.com/JakeFAU/web-researcher/internal/crawler"
	"github.com/JakeFAU/web-researcher/internal/hash/sha256"
)

// boilerplate is removed before text extraction.
const boilerplate = "script, style, noscript, nav, header, footer, aside, form, svg, iframe, template"

// blocks get a trailing space so adjacent block text does not run together.
const blocks = "p, div, br, li, dd, dt, h1, h2, h3, h4, h5, h6, tr, td, th, section, article, blockquote, pre, main, table, ul, ol"

// Config bounds accepted text length in characters.
type Config struct {
	MinContentLength int
	MaxContentLength int
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithClock overrides the time source used for ExtractedAt.
func WithClock(clock crawler.Clock) Option {
	return func(e *Extractor) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithHasher overrides the document ID hasher.
func WithHasher(h crawler.Hasher) Option {
	return func(e *Extractor) {
		if h != nil {
			e.hasher = h
		}
	}
}

// Extractor implements crawler.Extractor for HTML, PDF and plain text.
type Extractor struct {
	cfg    Config
	clock  crawler.Clock
	hasher crawler.Hasher
}

// New validates cfg and builds an Extractor.
func New(cfg Config, opts ...Option) (*Extractor, error) {
	if cfg.MinContentLength < 0 {
		return nil, crawler.InvalidConfigf("min content length must be >= 0")
	}
	if cfg.MaxContentLength <= 0 {
		return nil, crawler.InvalidConfigf("max content length must be > 0")
	}
	if cfg.MinContentLength > cfg.MaxContentLength {
		return nil, crawler.InvalidConfigf("min content length %d exceeds max %d", cfg.MinContentLength, cfg.MaxContentLength)
	}
	e := &Extractor{cfg: cfg, clock: system.New(), hasher: sha256.New()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Extract converts page into a document. Links found on the page are
// returned even when the document itself is rejected.
func (e *Extractor) Extract(page crawler.RawPage) (crawler.Extraction, error) {
	key, err := crawler.NormalizeURL(page.URL)
	if err != nil {
		return crawler.Extraction{}, &crawler.RejectionError{Reason: crawler.RejectUnsupported, Detail: err.Error()}
	}

	var (
		title, text string
		links       []string
	)
	switch kind := classify(page); kind {
	case kindHTML:
		title, text, links, err = e.fromHTML(page)
	case kindPDF:
		text, err = fromPDF(page.Body)
	case kindText:
		text = collapse(strings.ToValidUTF8(string(page.Body), ""))
	default:
		err = &crawler.RejectionError{Reason: crawler.RejectUnsupported, Detail: page.ContentType}
	}
	extraction := crawler.Extraction{Links: links}
	if err != nil {
		return extraction, err
	}

	if n := utf8.RuneCountInString(text); n < e.cfg.MinContentLength {
		return extraction, &crawler.RejectionError{
			Reason: crawler.RejectTooShort,
			Detail: fmt.Sprintf("%d < %d characters", n, e.cfg.MinContentLength),
		}
	} else if n > e.cfg.MaxContentLength {
		return extraction, &crawler.RejectionError{
			Reason: crawler.RejectTooLong,
			Detail: fmt.Sprintf("%d > %d characters", n, e.cfg.MaxContentLength),
		}
	}

	id, err := e.hasher.Hash([]byte(key))
	if err != nil {
		return extraction, fmt.Errorf("document id: %w", err)
	}
	extraction.Document = crawler.Document{
		ID:          id,
		URL:         key,
		Title:       title,
		Text:        text,
		ExtractedAt: e.clock.Now(),
	}
	return extraction, nil
}

type kind int

const (
	kindUnsupported kind = iota
	kindHTML
	kindPDF
	kindText
)

func classify(page crawler.RawPage) kind {
	if bytes.HasPrefix(page.Body, []byte("%PDF-")) {
		return kindPDF
	}
	switch crawler.MediaType(page.ContentType) {
	case "text/html", "application/xhtml+xml":
		return kindHTML
	case "application/pdf":
		return kindPDF
	case "text/plain":
		return kindText
	case "":
		// Servers that omit Content-Type almost always serve markup.
		return kindHTML
	default:
		return kindUnsupported
	}
}

func (e *Extractor) fromHTML(page crawler.RawPage) (string, string, []string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return "", "", nil, &crawler.RejectionError{Reason: crawler.RejectUnsupported, Detail: err.Error()}
	}

	links := discoverLinks(doc, baseURL(doc, page))
	title := collapse(doc.Find("title").First().Text())

	doc.Find(boilerplate).Remove()
	doc.Find(blocks).AppendHtml(" ")
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	return title, collapse(root.Text()), links, nil
}

// baseURL resolves relative links: FinalURL, falling back to URL, adjusted
// by a <base href> element when present.
func baseURL(doc *goquery.Document, page crawler.RawPage) *url.URL {
	raw := page.FinalURL
	if raw == "" {
		raw = page.URL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	base.Host = strings.ToLower(base.Host)
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = resolved
		}
	}
	return base
}

func discoverLinks(doc *goquery.Document, base *url.URL) []string {
	if base == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		u, err := base.Parse(href)
		if err != nil {
			return
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		u.Fragment = ""
		u.RawFragment = ""
		link := u.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

func fromPDF(body []byte) (text string, err error) {
	// The PDF reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = &crawler.RejectionError{Reason: crawler.RejectUnsupported, Detail: fmt.Sprintf("unreadable pdf: %v", r)}
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", &crawler.RejectionError{Reason: crawler.RejectUnsupported, Detail: "unreadable pdf: " + err.Error()}
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", &crawler.RejectionError{Reason: crawler.RejectUnsupported, Detail: "unreadable pdf: " + err.Error()}
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", &crawler.RejectionError{Reason: crawler.RejectUnsupported, Detail: "unreadable pdf: " + err.Error()}
	}
	return collapse(strings.ToValidUTF8(string(raw), "")), nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var _ crawler.Extractor = (*Extractor)(nil)
