package moderation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJob(t *testing.T) {
	payload := `{"id":"j1","type":"image","url_media":"https://cdn/x.jpg","message_id":42,"chat_id":"c9"}`

	job, err := DecodeJob([]byte(payload + "\n"))
	require.NoError(t, err)
	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, TypeImage, job.Type)
	assert.Equal(t, "https://cdn/x.jpg", job.MediaURL)
	assert.Equal(t, "42", job.MessageID)
	assert.JSONEq(t, payload, string(job.Raw()))

	out, err := json.Marshal(job)
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(out))
}

func TestDecodeJobPrefersMediaURL(t *testing.T) {
	job, err := DecodeJob([]byte(`{"type":"video","media_url":"a","url_media":"b"}`))
	require.NoError(t, err)
	assert.Equal(t, "a", job.MediaURL)
}

func TestDecodeJobLooseFields(t *testing.T) {
	job, err := DecodeJob([]byte(`{"type":"gif","message_id":{"nested":true}}`))
	require.NoError(t, err)
	assert.Equal(t, "gif", job.Type)
	assert.Empty(t, job.MessageID)
	assert.Empty(t, job.MediaURL)
}

func TestDecodeJobRejectsNonObjects(t *testing.T) {
	for _, payload := range []string{`not json`, `null`, `[1,2]`, `"image"`, ``} {
		_, err := DecodeJob([]byte(payload))
		assert.Error(t, err, payload)
	}
}

func TestNewJob(t *testing.T) {
	job, err := NewJob("j2", TypeVideo, "https://cdn/v.mp4####t.jpg", "m7", map[string]any{"chat_id": "c1", "type": "ignored"})
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"id":"j2","type":"video","media_url":"https://cdn/v.mp4####t.jpg",
		"message_id":"m7","chat_id":"c1"
	}`, string(job.Raw()))

	back, err := DecodeJob(job.Raw())
	require.NoError(t, err)
	assert.Equal(t, job.MediaURL, back.MediaURL)
	assert.Equal(t, TypeVideo, back.Type)
}
