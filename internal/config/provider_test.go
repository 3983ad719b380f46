package config

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	values  map[string]string
	err     error
	batches [][]string
}

func (f *fakeSSM) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	f.batches = append(f.batches, in.Names)
	if f.err != nil {
		return nil, f.err
	}
	out := &ssm.GetParametersOutput{}
	for _, name := range in.Names {
		if v, ok := f.values[name]; ok {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(name), Value: aws.String(v)})
		} else {
			out.InvalidParameters = append(out.InvalidParameters, name)
		}
	}
	return out, nil
}

func TestSSMProvider_BatchesByTen(t *testing.T) {
	values := make(map[string]string)
	keys := make([]string, 0, 23)
	for i := range 23 {
		k := fmt.Sprintf("/dev/regionwatch/p%02d", i)
		values[k] = fmt.Sprintf("v%d", i)
		keys = append(keys, k)
	}
	client := &fakeSSM{values: values}
	p := newSSMProviderWithClient("us-east-1", client)

	got, err := p.GetParametersBatch(context.Background(), keys)
	require.NoError(t, err)
	assert.Len(t, got, 23)
	assert.Equal(t, "v22", got["/dev/regionwatch/p22"])
	require.Len(t, client.batches, 3)
	assert.Len(t, client.batches[2], 3)
}

func TestSSMProvider_InvalidParameter(t *testing.T) {
	p := newSSMProviderWithClient("us-east-1", &fakeSSM{values: map[string]string{}})

	_, err := p.GetParametersBatch(context.Background(), []string{"/missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/missing")
}

func TestSSMProvider_ClientError(t *testing.T) {
	boom := errors.New("AccessDenied")
	p := newSSMProviderWithClient("us-east-1", &fakeSSM{err: boom})

	_, err := p.GetParametersBatch(context.Background(), []string{"/a"})
	assert.ErrorIs(t, err, boom)
}

func TestSSMProvider_EmptyKeys(t *testing.T) {
	p := NewSSMProvider("us-east-1")
	got, err := p.GetParametersBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestEnvVarProvider(t *testing.T) {
	t.Setenv("REGIONWATCH_TEST_SECRET", "s3cret")
	var p SecretProvider = NewEnvVarProvider()

	got, err := p.GetParametersBatch(context.Background(), []string{"REGIONWATCH_TEST_SECRET", "REGIONWATCH_UNSET"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"REGIONWATCH_TEST_SECRET": "s3cret"}, got)
}
