package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalPair(t *testing.T) {
	a := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	b := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	low, high := CanonicalPair(a, b)
	assert.Equal(t, a, low)
	assert.Equal(t, b, high)

	// порядок аргументов не влияет на результат
	low2, high2 := CanonicalPair(b, a)
	assert.Equal(t, low, low2)
	assert.Equal(t, high, high2)

	// одинаковые идентификаторы не переставляются
	low3, high3 := CanonicalPair(a, a)
	assert.Equal(t, a, low3)
	assert.Equal(t, a, high3)
}

func TestParseThreadContext(t *testing.T) {
	id := uuid.New()

	ctx, err := ParseThreadContext(ThreadContextListing, &id)
	assert.NoError(t, err)
	assert.Equal(t, ThreadContextListing, ctx.ContextType())
	assert.Equal(t, id, *ctx.ContextID())

	ctx, err = ParseThreadContext(ThreadContextWanted, &id)
	assert.NoError(t, err)
	assert.Equal(t, ThreadContextWanted, ctx.ContextType())

	ctx, err = ParseThreadContext(ThreadContextDirect, nil)
	assert.NoError(t, err)
	assert.Nil(t, ctx.ContextID())

	_, err = ParseThreadContext(ThreadContextListing, nil)
	assert.Error(t, err, "listing без идентификатора недопустим")

	_, err = ParseThreadContext("group", nil)
	assert.Error(t, err)
}

func TestThreadParticipants(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	low, high := CanonicalPair(a, b)
	thread := Thread{UserLow: low, UserHigh: high}

	assert.True(t, thread.HasParticipant(a))
	assert.True(t, thread.HasParticipant(b))
	assert.False(t, thread.HasParticipant(uuid.New()))

	assert.Equal(t, b, thread.OtherParticipant(a))
	assert.Equal(t, a, thread.OtherParticipant(b))
}
