package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/pipeline-platform/internal/permission"
)

type fixedTitle string

func (f fixedTitle) GenerateTitle(context.Context, string) (string, error) { return string(f), nil }

func newTestManager(t *testing.T, f Factory) (*Manager, *Registry) {
	t.Helper()
	reg, repo := newTestRegistry(t, testLibrary(f), staticCatalog())
	return NewManager(repo, reg, fixedTitle("generated"), zerolog.Nop()), reg
}

func createInput(label string, public bool) CreateInput {
	return CreateInput{
		Factory: "prefix",
		Params:  map[string]any{"prefix": "p"},
		Common:  CommonInput{Label: label, Public: public},
	}
}

func TestCreatePrivate(t *testing.T) {
	m, reg := newTestManager(t, nil)
	ctx := context.Background()

	// warm the cache so visibility below proves invalidation
	_, err := reg.All(ctx, alice, false)
	require.NoError(t, err)

	p, err := m.Create(ctx, alice, createInput("Mine", false))
	require.NoError(t, err)
	assert.Equal(t, KindText, p.Input)
	assert.Equal(t, float64(1), p.Params["repeat"])
	assert.Equal(t, permission.All(), p.Triple().UserRights)

	def, err := reg.Resolve(ctx, p.Alias(), alice)
	require.NoError(t, err)
	assert.Equal(t, "Mine", def.Descriptor.Label)

	_, err = reg.Resolve(ctx, p.Alias(), bob)
	assert.ErrorIs(t, err, ErrPipelineNotFound)
	_, err = m.Get(ctx, bob, p.Alias())
	assert.ErrorIs(t, err, ErrPipelineNotFound)
}

func TestCreatePublicNeedsSuperuser(t *testing.T) {
	m, reg := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.Create(ctx, alice, createInput("Shared", true))
	assert.ErrorIs(t, err, ErrPermissionDenied)

	p, err := m.Create(ctx, root, createInput("Shared", true))
	require.NoError(t, err)
	assert.True(t, p.Triple().IsPublic())

	list, err := reg.Listing(ctx, bob)
	require.NoError(t, err)
	var found bool
	for _, l := range list {
		found = found || l.Alias == p.Alias()
	}
	assert.True(t, found)

	got, err := m.Get(ctx, bob, p.Alias())
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	_, err = m.Patch(ctx, bob, p.Alias(), Patch{Type: "attr", Data: map[string]any{"label": "x"}})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestCreateValidation(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	in := createInput("", false)
	in.Params = map[string]any{}
	in.Common.Output = "hologram"
	_, err := m.Create(ctx, alice, in)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors, 3)

	in = createInput("x", false)
	in.Params = map[string]any{"prefix": "bad"}
	_, err = m.Create(ctx, alice, in)
	assert.True(t, errors.As(err, &ve))

	in.Factory = "nope"
	_, err = m.Create(ctx, alice, in)
	assert.ErrorIs(t, err, ErrUnknownFactory)
}

func TestCreateAppliesPopulate(t *testing.T) {
	f := upperFactory{populate: func(p *DynamicPipeline) (map[string]any, map[string]any, error) {
		return map[string]any{"details": "fetched"}, map[string]any{"ready": false}, nil
	}}
	m, _ := newTestManager(t, f)

	in := createInput("Fetched", false)
	in.Common.AutoGenerateDescription = true
	p, err := m.Create(context.Background(), alice, in)
	require.NoError(t, err)
	assert.False(t, p.Ready)
	assert.Equal(t, "fetched", p.Params["details"])
	assert.Equal(t, "generated", p.Description)
}

func TestCreateSurvivesPopulateFailure(t *testing.T) {
	f := upperFactory{populate: func(*DynamicPipeline) (map[string]any, map[string]any, error) {
		return nil, nil, errors.New("backend down")
	}}
	m, reg := newTestManager(t, f)
	ctx := context.Background()

	p, err := m.Create(ctx, alice, createInput("Offline", false))
	require.NoError(t, err)
	_, err = reg.Resolve(ctx, p.Alias(), alice)
	assert.NoError(t, err)
}

func TestPatch(t *testing.T) {
	m, reg := newTestManager(t, nil)
	ctx := context.Background()
	p, err := m.Create(ctx, alice, createInput("Before", false))
	require.NoError(t, err)

	_, err = m.Patch(ctx, alice, p.Alias(), Patch{Type: "attr", Data: map[string]any{"label": "After", "ready": false}})
	require.NoError(t, err)
	def, err := reg.Resolve(ctx, p.Alias(), alice)
	require.NoError(t, err)
	assert.Equal(t, "After", def.Descriptor.Label)
	assert.False(t, def.Descriptor.Ready)

	got, err := m.Patch(ctx, alice, p.Alias(), Patch{Type: "params", Data: map[string]any{"repeat": 4}})
	require.NoError(t, err)
	assert.Equal(t, "p", got.Params["prefix"])
	assert.Equal(t, float64(4), got.Params["repeat"])

	_, err = m.Patch(ctx, alice, p.Alias(), Patch{Type: "params", Data: map[string]any{"prefix": "bad"}})
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = m.Patch(ctx, alice, p.Alias(), Patch{Type: "attr", Data: map[string]any{"colour": "red"}})
	assert.True(t, errors.As(err, &ve))

	_, err = m.Patch(ctx, alice, p.Alias(), Patch{Type: "other"})
	assert.True(t, errors.As(err, &ve))
}

func TestDeleteIsImmediate(t *testing.T) {
	m, reg := newTestManager(t, nil)
	ctx := context.Background()
	p, err := m.Create(ctx, alice, createInput("Short lived", false))
	require.NoError(t, err)
	_, err = reg.Resolve(ctx, p.Alias(), alice)
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, alice, p.Alias()))
	_, err = reg.Resolve(ctx, p.Alias(), alice)
	assert.ErrorIs(t, err, ErrPipelineNotFound)
	assert.ErrorIs(t, m.Delete(ctx, alice, p.Alias()), ErrPipelineNotFound)
}

func TestGroupRights(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()
	p, err := m.Create(ctx, alice, createInput("Team", false))
	require.NoError(t, err)

	carol := permission.Subject{ID: 3, Username: "carol", Groups: []uint64{10}}
	_, err = m.Get(ctx, carol, p.Alias())
	assert.ErrorIs(t, err, ErrPipelineNotFound)

	require.NoError(t, m.PatchAccess(ctx, alice, []AccessChange{{
		Alias:       p.Alias(),
		UserID:      u64(alice.ID),
		GroupID:     u64(10),
		UserRights:  permission.All(),
		GroupRights: permission.Rights{CanRead: true},
	}}))

	_, err = m.Get(ctx, carol, p.Alias())
	require.NoError(t, err)
	assert.ErrorIs(t, m.Delete(ctx, carol, p.Alias()), ErrPermissionDenied)
}

func TestPatchAccessAllOrNothing(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()
	mine, err := m.Create(ctx, alice, createInput("Mine", false))
	require.NoError(t, err)
	theirs, err := m.Create(ctx, bob, createInput("Theirs", false))
	require.NoError(t, err)

	err = m.PatchAccess(ctx, alice, []AccessChange{
		{Alias: mine.Alias(), UserID: u64(alice.ID), OtherRights: permission.Rights{CanRead: true}},
		{Alias: theirs.Alias(), UserID: u64(alice.ID), UserRights: permission.All()},
	})
	assert.ErrorIs(t, err, ErrPipelineNotFound)

	got, err := m.Get(ctx, alice, mine.Alias())
	require.NoError(t, err)
	assert.False(t, got.Triple().OtherRights.CanRead)
	assert.True(t, got.Triple().UserRights.CanUpdate)
}

func TestPatchAccessPublicNeedsSuperuser(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()
	p, err := m.Create(ctx, alice, createInput("Mine", false))
	require.NoError(t, err)

	err = m.PatchAccess(ctx, alice, []AccessChange{{Alias: p.Alias(), OtherRights: permission.Rights{CanRead: true}}})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	got, err := m.Get(ctx, alice, p.Alias())
	require.NoError(t, err)
	assert.False(t, got.Triple().IsPublic())

	require.NoError(t, m.PatchAccess(ctx, root, []AccessChange{{Alias: p.Alias(), OtherRights: permission.Rights{CanRead: true}}}))
	got, err = m.Get(ctx, bob, p.Alias())
	require.NoError(t, err)
	assert.True(t, got.Triple().IsPublic())
}
