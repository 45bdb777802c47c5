package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veil-waf/veil-moderator/internal/moderation"
)

func TestFieldsSet(t *testing.T) {
	f := fields{}
	require.NoError(t, f.Set("chat_id=9"))
	require.NoError(t, f.Set("room=general"))
	require.NoError(t, f.Set(`meta={"pinned":true}`))
	require.NoError(t, f.Set("note="))

	assert.Equal(t, fields{
		"chat_id": float64(9),
		"room":    "general",
		"meta":    map[string]any{"pinned": true},
		"note":    "",
	}, f)

	assert.Error(t, f.Set("novalue"))
	assert.Error(t, f.Set("=x"))
}

func TestBuildPayloadWithExtraFields(t *testing.T) {
	payload, err := buildPayload(false, "j1", moderation.TypeVideo, "https://cdn/v.mp4", "42",
		fields{"chat_id": float64(9), "type": "overridden"})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id":"j1","type":"video","media_url":"https://cdn/v.mp4",
		"message_id":"42","chat_id":9
	}`, string(payload))

	job, err := moderation.DecodeJob(payload)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/v.mp4", job.MediaURL)
}

func TestBuildPayloadNeedsURL(t *testing.T) {
	_, err := buildPayload(false, "", moderation.TypeImage, "", "", nil)
	assert.Error(t, err)
}
