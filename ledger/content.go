package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Content is the type-tagged payload of a submission. The set of
// implementations is closed: AccountBookContent, JournalContent and LinkContent.
type Content interface {
	Kind() SubmissionType
	validate() error
}

// Amount is a money amount. It decodes from a JSON number or from a string
// holding one, as web forms send it.
type Amount float64

func (a *Amount) UnmarshalJSON(b []byte) error {
	text := strings.TrimSpace(string(b))
	if strings.HasPrefix(text, `"`) {
		var quoted string
		if err := json.Unmarshal(b, &quoted); err != nil {
			return err
		}
		text = strings.TrimSpace(quoted)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("amount %s is not a number", b)
	}
	*a = Amount(f)
	return nil
}

// AccountBookContent proves a day of expense tracking.
type AccountBookContent struct {
	Amount   Amount `json:"amount"`
	ImageRef string  `json:"image_ref,omitempty"`
}

// JournalContent proves a journaling entry published somewhere reachable.
type JournalContent struct {
	Link     string `json:"link"`
	Text     string `json:"text"`
	ImageRef string `json:"image_ref,omitempty"`
}

// LinkContent proves a piece of published content by its URL.
type LinkContent struct {
	Link string `json:"link"`
}

func (AccountBookContent) Kind() SubmissionType { return AccountBook }
func (JournalContent) Kind() SubmissionType     { return Journal }
func (LinkContent) Kind() SubmissionType        { return ContentLink }

func (c AccountBookContent) validate() error {
	amount := float64(c.Amount)
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return fmt.Errorf("%w: amount must be a positive number", ErrValidation)
	}
	return nil
}

func (c JournalContent) validate() error {
	if err := validateLink(c.Link); err != nil {
		return err
	}
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrValidation)
	}
	return nil
}

func (c LinkContent) validate() error { return validateLink(c.Link) }

func validateLink(link string) error {
	if strings.TrimSpace(link) == "" {
		return fmt.Errorf("%w: link is required", ErrValidation)
	}
	u, err := url.ParseRequestURI(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: link %q is not an http(s) URL", ErrValidation, link)
	}
	return nil
}

// DecodeContent parses raw JSON as the payload for t. Fields belonging to
// another type, unknown fields and trailing data are rejected.
func DecodeContent(t SubmissionType, raw []byte) (Content, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown submission type %q", ErrValidation, t)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: content is required", ErrValidation)
	}

	var c Content
	var err error
	switch t {
	case AccountBook:
		var v AccountBookContent
		err = decodeStrict(raw, &v)
		c = v
	case Journal:
		var v JournalContent
		err = decodeStrict(raw, &v)
		c = v
	case ContentLink:
		var v LinkContent
		err = decodeStrict(raw, &v)
		c = v
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s content: %v", ErrValidation, t, err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("unexpected data after content object")
	}
	return nil
}

// WithImageRef returns c with its image reference replaced by ref.
// Link-only content has no image slot.
func WithImageRef(c Content, ref string) (Content, error) {
	switch v := c.(type) {
	case AccountBookContent:
		v.ImageRef = ref
		return v, nil
	case JournalContent:
		v.ImageRef = ref
		return v, nil
	case nil:
		return nil, fmt.Errorf("%w: content is required", ErrValidation)
	default:
		return nil, fmt.Errorf("%w: %s submissions do not take an image", ErrValidation, c.Kind())
	}
}

func checkContent(t SubmissionType, c Content) error {
	if c == nil {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if c.Kind() != t {
		return fmt.Errorf("%w: %s content given for a %s submission", ErrValidation, c.Kind(), t)
	}
	return c.validate()
}

func encodeContent(c Content) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode content: %w", err)
	}
	return string(b), nil
}
