package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKey(t *testing.T) {
	assert.NoError(t, validateKey("ledgers/p1.msgpack"))
	for _, bad := range []string{"", "/abs", "../escape", "a/../b", "a//b", `a\b`, "a/./b"} {
		assert.Error(t, validateKey(bad), bad)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	_, err = s.Load(ctx, "ledgers/p1.msgpack")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save(ctx, "ledgers/p1.msgpack", []byte("one")))
	require.NoError(t, s.Save(ctx, "ledgers/p1.msgpack", []byte("two")))
	require.NoError(t, s.Save(ctx, "ledgers/p2.msgpack", []byte("three")))
	require.NoError(t, s.Save(ctx, "other/x", []byte("x")))

	data, err := s.Load(ctx, "ledgers/p1.msgpack")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	keys, err := s.List(ctx, "ledgers/")
	require.NoError(t, err)
	assert.Equal(t, []string{"ledgers/p1.msgpack", "ledgers/p2.msgpack"}, keys)

	require.NoError(t, s.Delete(ctx, "ledgers/p1.msgpack"))
	require.NoError(t, s.Delete(ctx, "ledgers/p1.msgpack"))
	_, err = s.Load(ctx, "ledgers/p1.msgpack")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_LeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFileStore(root, zerolog.Nop())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Save(ctx, "ledgers/p1.msgpack", []byte(strings.Repeat("x", i))))
	}

	entries, err := os.ReadDir(filepath.Join(root, "ledgers"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "p1.msgpack", entries[0].Name())
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	assert.Error(t, s.Save(context.Background(), "../evil", []byte("x")))
}

// fakeS3 is an in-memory bucket
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pageSize int
	getErr   error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), pageSize: 2}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, *in.Key)
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
				break
			}
		}
	}
	end := start + f.pageSize
	out := &s3.ListObjectsV2Output{}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end])
	} else {
		end = len(keys)
		out.IsTruncated = aws.Bool(false)
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeS3) Upload(ctx context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[*in.Key] = data
	f.mu.Unlock()
	return &manager.UploadOutput{Key: in.Key}, nil
}

func TestS3Store_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := NewS3StoreWithClient(fake, fake, "bucket", "brokersync", zerolog.Nop())

	_, err := s.Load(ctx, "ledgers/p1.msgpack")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, k := range []string{"ledgers/a", "ledgers/b", "ledgers/c", "other/d"} {
		require.NoError(t, s.Save(ctx, k, []byte(k)))
	}
	assert.Contains(t, fake.objects, "brokersync/ledgers/a")

	data, err := s.Load(ctx, "ledgers/b")
	require.NoError(t, err)
	assert.Equal(t, "ledgers/b", string(data))

	keys, err := s.List(ctx, "ledgers/")
	require.NoError(t, err)
	assert.Equal(t, []string{"ledgers/a", "ledgers/b", "ledgers/c"}, keys)

	require.NoError(t, s.Delete(ctx, "ledgers/a"))
	_, err = s.Load(ctx, "ledgers/a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Store_LoadError(t *testing.T) {
	fake := newFakeS3()
	fake.getErr = errors.New("access denied")
	s := NewS3StoreWithClient(fake, fake, "bucket", "", zerolog.Nop())

	_, err := s.Load(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "access denied")
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{}, zerolog.Nop())
	assert.Error(t, err)
}
