package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/pipeline-platform/internal/db/dbtest"
	"github.com/suPer8Hu/pipeline-platform/internal/models"
)

func TestJWTRoundTrip(t *testing.T) {
	tok, err := SignJWT(42, "secret", time.Hour)
	require.NoError(t, err)

	id, err := ParseJWT(tok, "secret")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	_, err = ParseJWT(tok, "other")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTExpired(t *testing.T) {
	tok, err := SignJWT(1, "secret", -time.Minute)
	require.NoError(t, err)
	_, err = ParseJWT(tok, "secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword(hash, "hunter3"))
}

func TestSubjectsLoad(t *testing.T) {
	db := dbtest.Open(t, models.All()...)
	ctx := context.Background()

	g1 := models.Group{Name: "research"}
	g2 := models.Group{Name: "ops"}
	require.NoError(t, db.Create(&g1).Error)
	require.NoError(t, db.Create(&g2).Error)
	u := models.User{Email: "a@example.com", Username: "alice", PasswordHash: "x", Groups: []models.Group{g1, g2}}
	require.NoError(t, db.Create(&u).Error)

	subj, err := NewSubjects(db).Load(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", subj.Username)
	assert.ElementsMatch(t, []uint64{g1.ID, g2.ID}, subj.Groups)
	assert.False(t, subj.IsSuperuser)

	_, err = NewSubjects(db).Load(ctx, 999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
