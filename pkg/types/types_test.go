package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		maxLen  int
		want    string
		wantErr bool
	}{
		{name: "plain", content: "hi", maxLen: 10, want: "hi"},
		{name: "trimmed", content: "  hello \n", maxLen: 10, want: "hello"},
		{name: "whitespace only", content: "   \t", maxLen: 10, wantErr: true},
		{name: "empty", content: "", maxLen: 10, wantErr: true},
		{name: "at limit", content: strings.Repeat("a", 10), maxLen: 10, want: strings.Repeat("a", 10)},
		{name: "over limit", content: strings.Repeat("a", 11), maxLen: 10, wantErr: true},
		{name: "runes not bytes", content: strings.Repeat("é", 10), maxLen: 10, want: strings.Repeat("é", 10)},
		{name: "default limit", content: strings.Repeat("a", DefaultMaxContentLength+1), maxLen: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeContent(tt.content, tt.maxLen)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSendMessagePayload_Validate(t *testing.T) {
	p := &SendMessagePayload{ChatID: "c1", Content: "  hi  "}
	require.NoError(t, p.Validate(100))
	assert.Equal(t, "hi", p.Content)

	missing := &SendMessagePayload{Content: "hi"}
	assert.ErrorIs(t, missing.Validate(100), ErrValidation)
}

func TestValidateStruct(t *testing.T) {
	err := ValidateStruct(&CreateChatRequest{Name: "group", ProjectID: "p1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "participants")

	assert.NoError(t, ValidateStruct(&CreateChatRequest{Name: "group", ProjectID: "p1", Participants: []string{"u1"}}))
	assert.ErrorIs(t, ValidateStruct(&RoomPayload{}), ErrValidation)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("send: %w", ErrValidation), CodeValidation},
		{fmt.Errorf("send: %w", ErrRateLimited), CodeRateLimited},
		{fmt.Errorf("chat c1: %w", ErrNotFound), CodeNotFound},
		{ErrNoOp, CodeNoOp},
		{fmt.Errorf("%w: disk full", ErrPersistence), CodePersistence},
		{ErrUnauthorized, CodeUnauthorized},
		{ErrForbidden, CodeForbidden},
		{errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, ErrorCode(tt.err), tt.err.Error())
	}
}

func TestPublicMessage_HidesInternals(t *testing.T) {
	err := fmt.Errorf("%w: database is locked", ErrPersistence)
	assert.Equal(t, "message could not be saved", PublicMessage(err))
	assert.Equal(t, "internal error", PublicMessage(errors.New("driver: bad conn")))
	assert.Equal(t, ErrNoOp.Error(), PublicMessage(ErrNoOp))
}

func TestMessage_WireShape(t *testing.T) {
	msg := &Message{
		ID:        "m1",
		ChatID:    "c1",
		Sender:    Identity{ID: "u1", Name: "Ada"},
		Content:   "hi",
		Status:    StatusSent,
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "m1", decoded["_id"])
	assert.Equal(t, map[string]interface{}{"_id": "u1", "name": "Ada"}, decoded["sender"])
	assert.NotContains(t, decoded, "readAt")
}

func TestChat_HasParticipant(t *testing.T) {
	c := &Chat{Participants: []string{"a", "b"}}
	assert.True(t, c.HasParticipant("b"))
	assert.False(t, c.HasParticipant("z"))
}
