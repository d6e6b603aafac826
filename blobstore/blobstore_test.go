package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPut(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	store, err := NewLocal(dir, "/static/")
	require.NoError(t, err)

	ref, err := store.Put(context.Background(), "../../etc/receipt.PNG", "image/png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "/static/"))
	assert.True(t, strings.HasSuffix(ref, ".png"))

	data, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(ref, "/static/")))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	other, err := store.Put(context.Background(), "../../etc/receipt.PNG", "image/png", strings.NewReader("x"))
	require.NoError(t, err)
	assert.NotEqual(t, ref, other, "names never collide")
}

func TestLocalRejectsNonImages(t *testing.T) {
	store, err := NewLocal(t.TempDir(), "/static")
	require.NoError(t, err)
	_, err = store.Put(context.Background(), "x.sh", "text/x-shellscript", strings.NewReader("#!"))
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestObjectName(t *testing.T) {
	assert.True(t, strings.HasSuffix(objectName("a.jpeg"), ".jpeg"))
	assert.NotContains(t, objectName("a.ph p"), ".")
	assert.NotContains(t, objectName("noext"), ".")
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3Put(t *testing.T) {
	fake := &fakeS3{}
	store := &S3{client: fake, bucket: "proofs", region: "ap-northeast-2", prefix: "uploads"}

	ref, err := store.Put(context.Background(), "r.jpg", "image/jpeg", strings.NewReader("jpg"))
	require.NoError(t, err)
	assert.Equal(t, "proofs", aws.ToString(fake.input.Bucket))
	assert.Equal(t, "image/jpeg", aws.ToString(fake.input.ContentType))
	assert.True(t, strings.HasPrefix(aws.ToString(fake.input.Key), "uploads/"))
	assert.Equal(t, "jpg", fake.body)
	assert.Equal(t, "https://proofs.s3.ap-northeast-2.amazonaws.com/"+aws.ToString(fake.input.Key), ref)

	fake.err = errors.New("access denied")
	_, err = store.Put(context.Background(), "r.jpg", "image/jpeg", strings.NewReader("jpg"))
	assert.ErrorContains(t, err, "access denied")

	_, err = store.Put(context.Background(), "r.txt", "text/plain", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrNotImage)
}
