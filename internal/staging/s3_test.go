package staging

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 keeps objects in memory.
type fakeS3 struct {
	objects map[string][]byte
	puts    []*s3.PutObjectInput
	putErr  error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, in)
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

var testDoc = []byte(`{"jobId":"01J","regionId":"r1","outputPrefix":"region=r1/job=01J","state":{"b":1,"a":2}}`)

func TestStage_Uncompressed(t *testing.T) {
	fake := newFakeS3()
	s := NewS3Stager(fake, Config{Bucket: "inputs", Prefix: "/jobs/"}, nil)

	loc, err := s.Stage(context.Background(), "region=r1/job=01J/input/metadata.json", testDoc)
	require.NoError(t, err)
	assert.Equal(t, "s3://inputs/jobs/region=r1/job=01J/input/metadata.json", loc)

	require.Len(t, fake.puts, 1)
	assert.Nil(t, fake.puts[0].ContentEncoding)
	assert.Equal(t, testDoc, fake.objects["inputs/jobs/region=r1/job=01J/input/metadata.json"])

	got, err := s.Fetch(context.Background(), loc)
	require.NoError(t, err)
	assert.Equal(t, testDoc, got)
}

func TestStage_CompressedRoundTrip(t *testing.T) {
	fake := newFakeS3()
	s := NewS3Stager(fake, Config{Bucket: "inputs", Compress: true}, nil)

	loc, err := s.Stage(context.Background(), "a/input/metadata.json", testDoc)
	require.NoError(t, err)
	assert.Equal(t, "s3://inputs/a/input/metadata.json.zst", loc)
	assert.Equal(t, loc, s.Location("a/input/metadata.json"))
	assert.Equal(t, "zstd", aws.ToString(fake.puts[0].ContentEncoding))
	assert.NotEqual(t, testDoc, fake.objects["inputs/a/input/metadata.json.zst"])

	got, err := s.Fetch(context.Background(), loc)
	require.NoError(t, err)
	assert.Equal(t, testDoc, got)
}

func TestStage_PutError(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("AccessDenied")
	s := NewS3Stager(fake, Config{Bucket: "inputs"}, nil)

	_, err := s.Stage(context.Background(), "k", testDoc)
	require.Error(t, err)
	assert.ErrorIs(t, err, fake.putErr)
	assert.Contains(t, err.Error(), "s3://inputs/k")
}

func TestParseLocation(t *testing.T) {
	bucket, key, err := ParseLocation("s3://b/some/key.json")
	require.NoError(t, err)
	assert.Equal(t, "b", bucket)
	assert.Equal(t, "some/key.json", key)

	for _, bad := range []string{"https://b/k", "s3://b", "s3:///k", "s3://b/"} {
		_, _, err := ParseLocation(bad)
		assert.Error(t, err, bad)
	}
}
