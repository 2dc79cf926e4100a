package push

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-outreach/core"
)

type ContentKind string

const (
	KindArticle    ContentKind = "article"
	KindCaseStudy  ContentKind = "case_study"
	KindWebinar    ContentKind = "webinar"
	KindWhitepaper ContentKind = "whitepaper"
)

// Content is a closed set of pushable records. The variant is picked by the
// caller; the client never infers it from field presence.
type Content interface {
	Kind() ContentKind
	ContentID() string
	sealed()
}

type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	Body        string    `json:"body"`
	URL         string    `json:"url,omitempty"`
	Author      string    `json:"author,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	PublishedAt time.Time `json:"published_at,omitzero"`
}

type CaseStudy struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Customer  string   `json:"customer"`
	Industry  string   `json:"industry,omitempty"`
	Challenge string   `json:"challenge,omitempty"`
	Solution  string   `json:"solution,omitempty"`
	Results   []string `json:"results,omitempty"`
	URL       string   `json:"url,omitempty"`
}

type Webinar struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	StartsAt        time.Time     `json:"starts_at"`
	Duration        time.Duration `json:"duration,omitempty"`
	Speakers        []string      `json:"speakers,omitempty"`
	RegistrationURL string        `json:"registration_url,omitempty"`
}

type Whitepaper struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Abstract    string `json:"abstract,omitempty"`
	DownloadURL string `json:"download_url"`
	Pages       int    `json:"pages,omitempty"`
	Gated       bool   `json:"gated,omitempty"`
}

func (Article) Kind() ContentKind    { return KindArticle }
func (CaseStudy) Kind() ContentKind  { return KindCaseStudy }
func (Webinar) Kind() ContentKind    { return KindWebinar }
func (Whitepaper) Kind() ContentKind { return KindWhitepaper }

func (c Article) ContentID() string    { return strings.TrimSpace(c.ID) }
func (c CaseStudy) ContentID() string  { return strings.TrimSpace(c.ID) }
func (c Webinar) ContentID() string    { return strings.TrimSpace(c.ID) }
func (c Whitepaper) ContentID() string { return strings.TrimSpace(c.ID) }

func (Article) sealed()    {}
func (CaseStudy) sealed()  {}
func (Webinar) sealed()    {}
func (Whitepaper) sealed() {}

// Payload is the document posted to the import endpoint.
type Payload struct {
	Type        ContentKind    `json:"type"`
	SourceID    string         `json:"source_id"`
	Title       string         `json:"title"`
	Body        string         `json:"body,omitempty"`
	URL         string         `json:"url,omitempty"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Transform maps a content variant onto the import payload.
func Transform(content Content) (Payload, error) {
	if content == nil {
		return Payload{}, contentError("content", "is required")
	}
	if content.ContentID() == "" {
		return Payload{}, contentError("id", "is required")
	}

	switch c := content.(type) {
	case Article:
		payload := Payload{
			Type:     KindArticle,
			SourceID: c.ContentID(),
			Title:    c.Title,
			Body:     c.Body,
			URL:      c.URL,
			Attributes: map[string]any{
				"summary": c.Summary,
				"author":  c.Author,
				"tags":    append([]string(nil), c.Tags...),
			},
		}
		if !c.PublishedAt.IsZero() {
			published := c.PublishedAt.UTC()
			payload.PublishedAt = &published
		}
		return payload, nil
	case CaseStudy:
		return Payload{
			Type:     KindCaseStudy,
			SourceID: c.ContentID(),
			Title:    c.Title,
			Body:     strings.TrimSpace(strings.Join([]string{c.Challenge, c.Solution}, "\n\n")),
			URL:      c.URL,
			Attributes: map[string]any{
				"customer": c.Customer,
				"industry": c.Industry,
				"results":  append([]string(nil), c.Results...),
			},
		}, nil
	case Webinar:
		if c.StartsAt.IsZero() {
			return Payload{}, contentError("starts_at", "is required")
		}
		starts := c.StartsAt.UTC()
		return Payload{
			Type:        KindWebinar,
			SourceID:    c.ContentID(),
			Title:       c.Title,
			Body:        c.Description,
			URL:         c.RegistrationURL,
			PublishedAt: &starts,
			Attributes: map[string]any{
				"starts_at":        starts.Format(time.RFC3339),
				"duration_minutes": int(c.Duration / time.Minute),
				"speakers":         append([]string(nil), c.Speakers...),
			},
		}, nil
	case Whitepaper:
		if strings.TrimSpace(c.DownloadURL) == "" {
			return Payload{}, contentError("download_url", "is required")
		}
		return Payload{
			Type:     KindWhitepaper,
			SourceID: c.ContentID(),
			Title:    c.Title,
			Body:     c.Abstract,
			URL:      c.DownloadURL,
			Attributes: map[string]any{
				"pages": c.Pages,
				"gated": c.Gated,
			},
		}, nil
	default:
		return Payload{}, contentError("kind", fmt.Sprintf("unsupported content kind %q", content.Kind()))
	}
}

// DecodeContent builds the variant named by kind from a raw document.
func DecodeContent(kind ContentKind, raw map[string]any) (Content, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, contentError("content", err.Error())
	}
	switch ContentKind(strings.TrimSpace(string(kind))) {
	case KindArticle:
		return decodeAs[Article](encoded)
	case KindCaseStudy:
		return decodeAs[CaseStudy](encoded)
	case KindWebinar:
		return decodeAs[Webinar](encoded)
	case KindWhitepaper:
		return decodeAs[Whitepaper](encoded)
	default:
		return nil, contentError("content_kind", fmt.Sprintf("unsupported content kind %q", kind))
	}
}

func decodeAs[T Content](encoded []byte) (Content, error) {
	var content T
	if err := json.Unmarshal(encoded, &content); err != nil {
		return nil, contentError("content", err.Error())
	}
	return content, nil
}

// EncodeContent is the inverse of DecodeContent.
func EncodeContent(content Content) (ContentKind, map[string]any, error) {
	if content == nil {
		return "", nil, contentError("content", "is required")
	}
	encoded, err := json.Marshal(content)
	if err != nil {
		return "", nil, contentError("content", err.Error())
	}
	out := map[string]any{}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return "", nil, contentError("content", err.Error())
	}
	return content.Kind(), out, nil
}

func contentError(field string, message string) error {
	return core.NewValidationError("push: invalid content", goerrors.FieldError{
		Field:   field,
		Message: message,
	})
}
