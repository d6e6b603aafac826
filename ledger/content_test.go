package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeContent(t *testing.T) {
	tests := []struct {
		name    string
		typ     SubmissionType
		raw     string
		want    Content
		wantErr bool
	}{
		{"account book", AccountBook, `{"amount": 15000}`, AccountBookContent{Amount: 15000}, false},
		{"account book with image", AccountBook, `{"amount": 3.5, "image_ref": "/static/a.png"}`, AccountBookContent{Amount: 3.5, ImageRef: "/static/a.png"}, false},
		{"account book zero amount", AccountBook, `{"amount": 0}`, nil, true},
		{"account book negative", AccountBook, `{"amount": -10}`, nil, true},
		{"account book amount as text", AccountBook, `{"amount": "15000"}`, AccountBookContent{Amount: 15000}, false},
		{"account book amount as padded text", AccountBook, `{"amount": " 12.5 "}`, AccountBookContent{Amount: 12.5}, false},
		{"account book amount not numeric", AccountBook, `{"amount": "lots"}`, nil, true},
		{"account book amount text NaN", AccountBook, `{"amount": "NaN"}`, nil, true},
		{"account book amount empty text", AccountBook, `{"amount": ""}`, nil, true},
		{"account book amount null", AccountBook, `{"amount": null}`, nil, true},
		{"account book with link", AccountBook, `{"amount": 10, "link": "https://x.io"}`, nil, true},
		{"journal", Journal, `{"link": "https://blog.example/p/1", "text": "day one"}`, JournalContent{Link: "https://blog.example/p/1", Text: "day one"}, false},
		{"journal missing text", Journal, `{"link": "https://blog.example/p/1"}`, nil, true},
		{"journal bad link", Journal, `{"link": "blog", "text": "x"}`, nil, true},
		{"journal ftp link", Journal, `{"link": "ftp://host/x", "text": "x"}`, nil, true},
		{"content", ContentLink, `{"link": "https://youtu.be/abc"}`, LinkContent{Link: "https://youtu.be/abc"}, false},
		{"content with image", ContentLink, `{"link": "https://youtu.be/abc", "image_ref": "x"}`, nil, true},
		{"content empty", ContentLink, ``, nil, true},
		{"trailing data", ContentLink, `{"link": "https://a.io"} {}`, nil, true},
		{"unknown type", SubmissionType("diet"), `{}`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeContent(tt.typ, []byte(tt.raw))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.typ, got.Kind())
		})
	}
}

func TestWithImageRef(t *testing.T) {
	c, err := WithImageRef(AccountBookContent{Amount: 1}, "/static/r.jpg")
	require.NoError(t, err)
	assert.Equal(t, AccountBookContent{Amount: 1, ImageRef: "/static/r.jpg"}, c)

	c, err = WithImageRef(JournalContent{Link: "https://a.io", Text: "t"}, "s3://x")
	require.NoError(t, err)
	assert.Equal(t, "s3://x", c.(JournalContent).ImageRef)

	_, err = WithImageRef(LinkContent{Link: "https://a.io"}, "x")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = WithImageRef(nil, "x")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCheckContentRejectsMismatchedType(t *testing.T) {
	err := checkContent(AccountBook, LinkContent{Link: "https://a.io"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.NoError(t, checkContent(ContentLink, LinkContent{Link: "https://a.io"}))
}

func TestParseSubmissionType(t *testing.T) {
	for _, in := range []string{"", "all", " all "} {
		got, err := ParseSubmissionType(in)
		require.NoError(t, err)
		assert.Equal(t, SubmissionType(""), got)
	}
	got, err := ParseSubmissionType("journal")
	require.NoError(t, err)
	assert.Equal(t, Journal, got)

	_, err = ParseSubmissionType("workout")
	assert.ErrorIs(t, err, ErrValidation)
}
