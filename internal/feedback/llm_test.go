package feedback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLMClient struct {
	resp LLMResponse
	err  error
}

func (f *fakeLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	return f.resp, f.err
}

func TestFallbackLLMClient_PrimarySucceeds(t *testing.T) {
	primary := &fakeLLMClient{resp: LLMResponse{Text: "primary"}}
	fallback := &fakeLLMClient{resp: LLMResponse{Text: "fallback"}}
	c := NewFallbackLLMClient(primary, fallback, nil)

	resp, err := c.Complete(context.Background(), LLMRequest{})
	require.NoError(t, err)
	assert.Equal(t, "primary", resp.Text)
}

func TestFallbackLLMClient_PrimaryFailsFallbackSucceeds(t *testing.T) {
	primary := &fakeLLMClient{err: errors.New("primary down")}
	fallback := &fakeLLMClient{resp: LLMResponse{Text: "fallback"}}
	c := NewFallbackLLMClient(primary, fallback, nil)

	resp, err := c.Complete(context.Background(), LLMRequest{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", resp.Text)
}

func TestFallbackLLMClient_BothFail(t *testing.T) {
	primary := &fakeLLMClient{err: errors.New("primary down")}
	fallback := &fakeLLMClient{err: errors.New("fallback down")}
	c := NewFallbackLLMClient(primary, fallback, nil)

	_, err := c.Complete(context.Background(), LLMRequest{})
	assert.EqualError(t, err, "fallback down")
}

func TestFallbackLLMClient_NoFallbackConfigured(t *testing.T) {
	primary := &fakeLLMClient{err: errors.New("primary down")}
	c := NewFallbackLLMClient(primary, nil, nil)

	_, err := c.Complete(context.Background(), LLMRequest{})
	assert.EqualError(t, err, "primary down")
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSONObject(`{"a":1}`))
	assert.Equal(t, `{"a":1}`, extractJSONObject(`here is the result: {"a":1} thanks`))
	assert.Equal(t, "no braces here", extractJSONObject("no braces here"))
}

func TestSanitizeJSON(t *testing.T) {
	assert.Equal(t, `{"overall_score":0.8}`, sanitizeJSON("```json\n{\"overall_score\":0.8}\n```"))
}
