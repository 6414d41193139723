package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, src Source) ([]byte, int) {
	t.Helper()
	var out []byte
	pieces := 0
	for {
		piece, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out, pieces
		}
		require.NoError(t, err)
		out = append(out, piece...)
		pieces++
	}
}

func TestFromReader(t *testing.T) {
	content := strings.Repeat("0123456789", 100)

	out, pieces := drain(t, FromReader(strings.NewReader(content), 300))
	assert.Equal(t, content, string(out))
	assert.Equal(t, 4, pieces)
}

func TestFromReader_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FromReader(strings.NewReader("data"), 0).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromSlices(t *testing.T) {
	out, pieces := drain(t, FromSlices([]byte("ab"), []byte("cde"), []byte("f")))
	assert.Equal(t, "abcdef", string(out))
	assert.Equal(t, 3, pieces)
}

func TestFromFile(t *testing.T) {
	content := bytes.Repeat([]byte{7}, 5000)
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, content, 0644))

	src, err := FromFile(path, 1024)
	require.NoError(t, err)
	defer func() { require.NoError(t, src.Close()) }()

	assert.Equal(t, int64(5000), src.Size())
	out, _ := drain(t, src)
	assert.Equal(t, content, out)
}

func TestFromFile_Errors(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "missing"), 0)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = FromFile(t.TempDir(), 0)
	assert.Error(t, err)
}

type fakeS3 struct {
	objects map[string][]byte
	headErr error
}

func (f *fakeS3) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/zstd"),
	}, nil
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data := f.objects[aws.ToString(params.Key)]
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestFromS3(t *testing.T) {
	content := bytes.Repeat([]byte("cache"), 1000)
	client := &fakeS3{objects: map[string][]byte{"archives/cache.tzst": content}}

	obj, err := FromS3(context.Background(), client, "bucket", "archives/cache.tzst", 1024)
	require.NoError(t, err)
	defer func() { require.NoError(t, obj.Close()) }()

	assert.Equal(t, int64(len(content)), obj.Size())
	assert.Equal(t, "application/zstd", obj.ContentType())
	out, _ := drain(t, obj)
	assert.Equal(t, content, out)
}

func TestFromS3_NotFound(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}}

	_, err := FromS3(context.Background(), client, "bucket", "missing", 0)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestFromS3_OtherError(t *testing.T) {
	client := &fakeS3{headErr: errors.New("connection refused")}

	_, err := FromS3(context.Background(), client, "bucket", "key", 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrObjectNotFound)

	_, err = FromS3(context.Background(), client, "", "key", 0)
	assert.Error(t, err)
}
