// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/docstore/store"
	"github.com/cardinalhq/docstore/store/memory"
)

const testPartition = "org/org-1"

func profile(t *testing.T, id string, isDefault bool) store.Document {
	t.Helper()
	doc, err := ProfileDocument(id, StorageProfile{
		OrganizationID: "org-1",
		Bucket:         "bucket-" + id,
		Region:         "us-east-1",
		IsDefault:      isDefault,
	})
	require.NoError(t, err)
	return doc
}

// checkInvariant asserts the partition is healthy: every non-empty partition
// has exactly one default.
func checkInvariant(t *testing.T, g *Guard, partition string) {
	t.Helper()
	docs, err := g.List(context.Background(), partition)
	require.NoError(t, err)
	if len(docs) == 0 {
		return
	}
	ndefaults := 0
	for _, d := range docs {
		if IsDefault(d) {
			ndefaults++
		}
	}
	assert.Equal(t, 1, ndefaults, "partition must hold exactly one default")
}

func TestFirstCreateForcedDefault(t *testing.T) {
	ctx := context.Background()
	g := New(store.New(memory.New()), store.KindStorageProfile)

	// The caller did not ask for default; the guard forces it.
	created, err := g.Create(ctx, profile(t, "a", false))
	require.NoError(t, err)
	assert.True(t, IsDefault(created))
	checkInvariant(t, g, testPartition)
}

func TestLaterCreatesStayNonDefault(t *testing.T) {
	ctx := context.Background()
	g := New(store.New(memory.New()), store.KindStorageProfile)

	_, err := g.Create(ctx, profile(t, "a", true))
	require.NoError(t, err)

	second, err := g.Create(ctx, profile(t, "b", false))
	require.NoError(t, err)
	assert.False(t, IsDefault(second))

	def, err := g.Default(ctx, testPartition)
	require.NoError(t, err)
	assert.Equal(t, "a", def.ID)
	checkInvariant(t, g, testPartition)
}

func TestPromotionDemotesPreviousDefault(t *testing.T) {
	ctx := context.Background()
	g := New(store.New(memory.New()), store.KindStorageProfile)

	_, err := g.Create(ctx, profile(t, "a", true))
	require.NoError(t, err)
	_, err = g.Create(ctx, profile(t, "b", false))
	require.NoError(t, err)

	promoted, err := g.Create(ctx, profile(t, "c", true))
	require.NoError(t, err)
	assert.True(t, IsDefault(promoted))

	def, err := g.Default(ctx, testPartition)
	require.NoError(t, err)
	assert.Equal(t, "c", def.ID)
	checkInvariant(t, g, testPartition)
}

func TestUpsertPromotionViaUpdate(t *testing.T) {
	ctx := context.Background()
	s := store.New(memory.New())
	g := New(s, store.KindStorageProfile)

	_, err := g.Create(ctx, profile(t, "a", true))
	require.NoError(t, err)
	created, err := g.Create(ctx, profile(t, "b", false))
	require.NoError(t, err)

	// Flip b's flag and upsert with its fresh tag.
	update := created.Clone()
	update.Body[DefaultField] = true
	promoted, err := g.Upsert(ctx, update)
	require.NoError(t, err)
	assert.True(t, IsDefault(promoted))

	def, err := g.Default(ctx, testPartition)
	require.NoError(t, err)
	assert.Equal(t, "b", def.ID)
	checkInvariant(t, g, testPartition)
}

func TestDemotingSoleDefaultRejected(t *testing.T) {
	ctx := context.Background()
	s := store.New(memory.New())
	g := New(s, store.KindStorageProfile)

	created, err := g.Create(ctx, profile(t, "a", true))
	require.NoError(t, err)

	update := created.Clone()
	update.Body[DefaultField] = false
	_, err = g.Upsert(ctx, update)
	require.ErrorIs(t, err, store.ErrInvariantViolation)

	// The store is untouched.
	got, err := s.Read(ctx, store.KindStorageProfile, testPartition, "a")
	require.NoError(t, err)
	assert.True(t, IsDefault(got))
	assert.Equal(t, created.ChangeTag, got.ChangeTag)
}

func TestDeleteDefaultPromotesSuccessor(t *testing.T) {
	ctx := context.Background()
	g := New(store.New(memory.New()), store.KindStorageProfile)

	_, err := g.Create(ctx, profile(t, "a", true))
	require.NoError(t, err)
	_, err = g.Create(ctx, profile(t, "b", false))
	require.NoError(t, err)
	_, err = g.Create(ctx, profile(t, "c", false))
	require.NoError(t, err)

	deleted, existed, err := g.Delete(ctx, testPartition, "a")
	require.NoError(t, err)
	require.True(t, existed)
	assert.Equal(t, "a", deleted.ID)

	// Query order is stable by id, so "b" inherits the flag.
	def, err := g.Default(ctx, testPartition)
	require.NoError(t, err)
	assert.Equal(t, "b", def.ID)
	checkInvariant(t, g, testPartition)
}

func TestDeleteNonDefaultKeepsDefault(t *testing.T) {
	ctx := context.Background()
	g := New(store.New(memory.New()), store.KindStorageProfile)

	_, err := g.Create(ctx, profile(t, "a", true))
	require.NoError(t, err)
	_, err = g.Create(ctx, profile(t, "b", false))
	require.NoError(t, err)

	_, existed, err := g.Delete(ctx, testPartition, "b")
	require.NoError(t, err)
	require.True(t, existed)

	def, err := g.Default(ctx, testPartition)
	require.NoError(t, err)
	assert.Equal(t, "a", def.ID)
	checkInvariant(t, g, testPartition)
}

func TestDeleteLastDocumentEmptiesPartition(t *testing.T) {
	ctx := context.Background()
	g := New(store.New(memory.New()), store.KindStorageProfile)

	_, err := g.Create(ctx, profile(t, "a", true))
	require.NoError(t, err)

	_, existed, err := g.Delete(ctx, testPartition, "a")
	require.NoError(t, err)
	require.True(t, existed)

	// Zero documents, zero defaults is the one healthy empty state.
	docs, err := g.List(ctx, testPartition)
	require.NoError(t, err)
	assert.Empty(t, docs)
	_, err = g.Default(ctx, testPartition)
	require.ErrorIs(t, err, store.ErrNotFound)

	// Double delete stays idempotent.
	_, existed, err = g.Delete(ctx, testPartition, "a")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestDefaultOnEmptyPartition(t *testing.T) {
	g := New(store.New(memory.New()), store.KindStorageProfile)
	_, err := g.Default(context.Background(), testPartition)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRepairDemotesAllButFirst(t *testing.T) {
	ctx := context.Background()
	s := store.New(memory.New())
	g := New(s, store.KindStorageProfile)

	// Seed duplicate defaults behind the guard's back, the way historical
	// data written before the invariant existed would look.
	for _, id := range []string{"c", "a", "b"} {
		_, err := s.Create(ctx, profile(t, id, true))
		require.NoError(t, err)
	}

	demoted, err := g.RepairDuplicateDefaults(ctx, testPartition)
	require.NoError(t, err)
	assert.Equal(t, 2, demoted)

	// Query order is stable by id, so "a" survives as the default.
	def, err := g.Default(ctx, testPartition)
	require.NoError(t, err)
	assert.Equal(t, "a", def.ID)
	checkInvariant(t, g, testPartition)

	// Repairing a healthy partition is a no-op.
	demoted, err = g.RepairDuplicateDefaults(ctx, testPartition)
	require.NoError(t, err)
	assert.Equal(t, 0, demoted)
}

func TestListRepairsOpportunistically(t *testing.T) {
	ctx := context.Background()
	s := store.New(memory.New())
	g := New(s, store.KindStorageProfile)

	for _, id := range []string{"a", "b"} {
		_, err := s.Create(ctx, profile(t, id, true))
		require.NoError(t, err)
	}

	// The listing itself still reports what it saw; the repair happens
	// alongside it.
	docs, err := g.List(ctx, testPartition)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	checkInvariant(t, g, testPartition)
}

// racingDriver lets a test interpose a concurrent write between the guard's
// read of the partition and its batch commit.
type racingDriver struct {
	store.Driver

	interfere func()
}

func (d *racingDriver) Batch(kind store.Kind, partition string) store.Batch {
	return &racingBatch{Batch: d.Driver.Batch(kind, partition), driver: d}
}

type racingBatch struct {
	store.Batch

	driver *racingDriver
}

func (b *racingBatch) Commit(ctx context.Context) error {
	if fn := b.driver.interfere; fn != nil {
		fn()
	}
	return b.Batch.Commit(ctx)
}

func TestPromotionRetriesAfterLostRace(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	drv := &racingDriver{Driver: inner}
	s := store.New(drv)
	g := New(s, store.KindStorageProfile)

	a, err := g.Create(ctx, profile(t, "a", true))
	require.NoError(t, err)

	// Just before the first promotion batch commits, another writer bumps
	// the current default's change tag. The demotion carries a stale tag,
	// the batch fails, and the guard re-reads and retries.
	drv.interfere = func() {
		drv.interfere = nil
		bump := a.Clone()
		bump.Body["region"] = "eu-west-1"
		_, err := inner.Upsert(ctx, bump, "")
		require.NoError(t, err)
	}

	promoted, err := g.Create(ctx, profile(t, "b", true))
	require.NoError(t, err)
	assert.True(t, IsDefault(promoted))

	def, err := g.Default(ctx, testPartition)
	require.NoError(t, err)
	assert.Equal(t, "b", def.ID)
	checkInvariant(t, g, testPartition)
}

func TestPromotionGivesUpUnderSustainedRaces(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	drv := &racingDriver{Driver: inner}
	s := store.New(drv)
	g := New(s, store.KindStorageProfile)

	a, err := g.Create(ctx, profile(t, "a", true))
	require.NoError(t, err)

	// A writer that wins every race: each commit attempt finds the default's
	// tag already bumped again.
	cur := a
	drv.interfere = func() {
		bump := cur.Clone()
		bump.Body["region"] = "eu-west-1"
		updated, err := inner.Upsert(ctx, bump, "")
		require.NoError(t, err)
		cur = updated
	}

	_, err = g.Create(ctx, profile(t, "b", true))
	require.ErrorIs(t, err, store.ErrTooMuchContention)
	drv.interfere = nil

	// "a" keeps the default flag and "b" was never created.
	def, err := g.Default(ctx, testPartition)
	require.NoError(t, err)
	assert.Equal(t, "a", def.ID)
	_, err = s.Read(ctx, store.KindStorageProfile, testPartition, "b")
	require.ErrorIs(t, err, store.ErrNotFound)
	checkInvariant(t, g, testPartition)
}

func TestGuardRejectsForeignKind(t *testing.T) {
	g := New(store.New(memory.New()), store.KindStorageProfile)
	_, err := g.Create(context.Background(), store.Document{Kind: store.KindSchedule, ID: "s1"})
	require.Error(t, err)
}

func TestProfileRoundTrip(t *testing.T) {
	doc := profile(t, "a", true)
	p, err := DecodeProfile(doc)
	require.NoError(t, err)
	assert.Equal(t, "org-1", p.OrganizationID)
	assert.Equal(t, "bucket-a", p.Bucket)
	assert.True(t, p.IsDefault)
}
