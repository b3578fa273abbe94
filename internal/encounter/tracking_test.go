package encounter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/meter/internal/persist"
	"firestige.xyz/meter/internal/protocol"
)

func buffs(target uint64, bs ...protocol.Buff) protocol.BuffUpdate {
	uid, kind := protocol.SplitUUID(target)
	return protocol.BuffUpdate{TargetUUID: target, TargetUID: uid, TargetKind: kind, Buffs: bs}
}

func TestWipeDetectionDisabled(t *testing.T) {
	m, tasks, _ := newTestManager(t)
	m.SetWipeDetection(false)
	p1, p2, mob := player(1), player(2), monster(300)

	m.Apply(combat(mob, hit(p1, 10, 1), hit(p2, 10, 1)), 0)
	kill := protocol.Damage{Value: i64(1), AttackerUUID: mob, OwnerID: i32(5), IsDead: true}
	m.Apply(combat(p1, kill), 5_000)
	m.Apply(combat(p2, kill), 5_100)

	m.View(func(enc *Encounter) {
		assert.Equal(t, 1, enc.AttemptIndex)
		assert.Equal(t, 2, enc.Deaths())
	})
	assert.Len(t, tasks.of(persist.KindBeginAttempt), 1)

	m.SetWipeDetection(true)
	m.Apply(combat(mob, hit(p1, 10, 1)), 5_200)
	m.View(func(enc *Encounter) { assert.Equal(t, 2, enc.AttemptIndex) })
}

func TestClassSpecFromSkill(t *testing.T) {
	m, tasks, _ := newTestManager(t)
	p := player(1)

	m.Apply(combat(monster(5), hit(p, 10, 1714)), 0)
	m.Apply(combat(monster(5), hit(p, 10, 1241)), 10)

	m.View(func(enc *Encounter) {
		ent, ok := enc.Entity(1)
		require.True(t, ok)
		assert.Equal(t, "Iaido", ent.ClassSpec)
		assert.Equal(t, int32(1), ent.ClassID)
	})

	ups := tasks.of(persist.KindUpsertEntity)
	require.Len(t, ups, 1)
	assert.Equal(t, "Iaido", ups[0].(persist.UpsertEntity).ClassSpec)
	assert.Equal(t, int32(1), ups[0].(persist.UpsertEntity).ClassID)
}

func TestClassSpecUnknownSkill(t *testing.T) {
	m, _, _ := newTestManager(t)

	m.Apply(combat(monster(5), hit(player(1), 10, 11)), 0)
	m.Apply(combat(monster(5), hit(player(1), 10, 2405)), 10)

	m.View(func(enc *Encounter) {
		ent, _ := enc.Entity(1)
		assert.Equal(t, "Shield", ent.ClassSpec)
		assert.Equal(t, int32(12), ent.ClassID)
	})
}

func TestResetMetricsKeepsFight(t *testing.T) {
	m, tasks, rec := newTestManager(t)
	p := player(1)

	m.Apply(combat(monster(5), hit(p, 300, 1)), 1_000)
	m.Apply(combat(monster(5), hit(p, 200, 1)), 2_000)
	m.Apply(protocol.ResetMetrics{}, 2_500)

	var id string
	m.View(func(enc *Encounter) {
		id = enc.ID
		assert.True(t, enc.Active())
		assert.Equal(t, int64(1_000), enc.StartedAtMs)
		assert.Zero(t, enc.TotalDamage)
		assert.Empty(t, enc.Events)
		ent, _ := enc.Entity(1)
		assert.False(t, ent.HasCombat())
		assert.Empty(t, ent.DamageSkills)
	})
	assert.Empty(t, tasks.of(persist.KindEndEncounter))
	assert.Equal(t, []NotificationKind{NotifyMetricsReset}, rec.kinds())

	m.Apply(combat(monster(5), hit(p, 50, 1)), 3_000)
	s := m.Snapshot()
	assert.Equal(t, id, s.EncounterID)
	assert.Equal(t, int64(50), s.TotalDamage)
	assert.Equal(t, int64(2_000), s.ElapsedMs)
}

func TestBuffHistory(t *testing.T) {
	m, tasks, _ := newTestManager(t)
	p, mob := player(1), monster(5)

	m.Apply(buffs(p, protocol.Buff{BuffID: 7, Stack: 1, DurationMs: 5_000}), 500)
	// same instance, new stack count
	m.Apply(buffs(p, protocol.Buff{BuffID: 7, Stack: 2, DurationMs: 5_000, CreatedMs: 500}), 600)
	m.Apply(combat(mob, hit(p, 10, 1)), 1_000)
	// refreshed while running
	m.Apply(buffs(p, protocol.Buff{BuffID: 7, Stack: 3, DurationMs: 5_000, CreatedMs: 3_000}), 3_000)
	m.Apply(buffs(p, protocol.Buff{BuffID: 7, Stack: 1, DurationMs: 1_000, CreatedMs: 10_000}), 10_000)
	m.Apply(buffs(mob, protocol.Buff{BuffID: 9, Stack: 1, DurationMs: 1_000}), 10_000)
	m.Apply(combat(mob, hit(p, 10, 1)), 10_500)

	live := m.LiveBuffs(20_000)
	require.Len(t, live, 1, "players only")
	assert.Equal(t, int64(1), live[0].UID)
	assert.Equal(t, "Player 1", live[0].Name)
	require.Len(t, live[0].Buffs, 1)

	b := live[0].Buffs[0]
	assert.Equal(t, int32(7), b.BuffID)
	assert.Equal(t, "Buff 7", b.Name)
	assert.Equal(t, int64(7_500), b.TotalDurationMs)
	assert.Equal(t, []BuffSpan{
		{StartMs: 1_000, EndMs: 8_000, DurationMs: 7_000, Stack: 3},
		{StartMs: 10_000, EndMs: 10_500, DurationMs: 500, Stack: 1},
	}, b.Spans)

	m.Apply(protocol.Reset{Manual: true}, 11_000)
	saved := tasks.of(persist.KindSaveBuffs)
	require.Len(t, saved, 1)
	records := saved[0].(persist.SaveBuffs).Buffs
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].EntityID)
	assert.Len(t, records[0].Spans, 2)
	assert.Equal(t, int64(5), records[1].EntityID)

	assert.Empty(t, m.LiveBuffs(20_000), "history ends with the encounter")
}

func TestBuffsUseServerClock(t *testing.T) {
	m, _, _ := newTestManager(t)
	p := player(1)

	m.Apply(protocol.ServerTimeSync{ClientMs: 1_000, ServerMs: 4_000}, 0)
	m.Apply(buffs(p, protocol.Buff{BuffID: 7, Stack: 1, DurationMs: 2_000, CreatedMs: 5_000}), 2_000)

	live := m.LiveBuffs(10_000)
	require.Len(t, live, 1)
	assert.Equal(t, []BuffSpan{{StartMs: 2_000, EndMs: 4_000, DurationMs: 2_000, Stack: 1}}, live[0].Buffs[0].Spans)
}

func TestDungeonSegments(t *testing.T) {
	m, tasks, _ := newTestManager(t)
	boss, p := monster(900), player(1)

	m.Apply(combat(monster(5), hit(p, 100, 1)), 1_000)
	m.View(func(enc *Encounter) {
		s, ok := enc.CurrentSegment()
		require.True(t, ok)
		assert.Equal(t, SegmentTrash, s.Type)
		assert.Equal(t, "Trash", s.Name())
	})

	m.Apply(appear(boss, bossAttrs(1000, 1000)), 1_500)
	m.Apply(combat(boss, hit(p, 400, 1)), 2_000)
	log := m.DungeonLog()
	assert.True(t, log.InCombat)
	require.Len(t, log.Segments, 2)
	assert.Equal(t, int64(2_000), log.Segments[0].EndedAtMs)
	assert.Equal(t, SegmentBoss, log.Segments[1].Type)
	assert.Equal(t, "Boss - Tempest Ogre", log.Segments[1].Name())

	kill := protocol.Damage{Value: i64(600), AttackerUUID: p, OwnerID: i32(1), IsDead: true}
	m.Apply(combat(boss, kill), 3_000)

	log = m.DungeonLog()
	assert.False(t, log.InCombat)
	require.Len(t, log.Segments, 2)
	s := log.Segments[1]
	assert.Equal(t, int64(900), s.BossUID)
	assert.Equal(t, int32(20088), s.BossMonsterTypeID)
	assert.Equal(t, int64(1_000), s.TotalDamage)
	assert.Equal(t, int64(2), s.HitCount)
	assert.Equal(t, int64(3_000), s.EndedAtMs)

	stored := tasks.of(persist.KindInsertSegment)
	require.Len(t, stored, 2)
	assert.Equal(t, SegmentTrash, stored[0].(persist.InsertDungeonSegment).Type)
	assert.Equal(t, int64(100), stored[0].(persist.InsertDungeonSegment).TotalDamage)
	assert.Equal(t, SegmentBoss, stored[1].(persist.InsertDungeonSegment).Type)

	// trash after the kill opens a new segment
	m.Apply(combat(monster(6), hit(p, 5, 1)), 4_000)
	log = m.DungeonLog()
	require.Len(t, log.Segments, 3)
	assert.True(t, log.Segments[2].Open())
}

func TestBossSegmentTimeout(t *testing.T) {
	m, _, _ := newTestManager(t)
	boss := monster(900)

	m.Apply(appear(boss, bossAttrs(1000, 1000)), 0)
	m.Apply(combat(boss, hit(player(1), 10, 1)), 1_000)
	m.Tick(15_999)
	assert.True(t, m.DungeonLog().InCombat)

	m.Tick(16_000)
	log := m.DungeonLog()
	assert.False(t, log.InCombat)
	require.Len(t, log.Segments, 1)
	assert.Equal(t, int64(1_000), log.Segments[0].EndedAtMs)
}

func TestSceneChangeStartsNewDungeonLog(t *testing.T) {
	m, tasks, _ := newTestManager(t)
	boss := monster(900)

	m.Apply(appear(boss, bossAttrs(1000, 1000)), 0)
	m.Apply(combat(boss, hit(player(1), 10, 1)), 1_000)
	m.Apply(protocol.SceneChange{SceneID: 1001, Known: true, Source: protocol.SceneSourceEnterScene}, 2_000)

	log := m.DungeonLog()
	assert.Equal(t, int32(1001), log.SceneID)
	assert.Empty(t, log.Segments)
	require.Len(t, tasks.of(persist.KindInsertSegment), 1)
	assert.Equal(t, int64(2_000), tasks.of(persist.KindInsertSegment)[0].(persist.InsertDungeonSegment).EndedAtMs)
}

func TestDungeonSegmentsDisabled(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.Apply(combat(monster(5), hit(player(1), 10, 1)), 0)
	require.Len(t, m.DungeonLog().Segments, 1)

	m.SetDungeonSegments(false)
	m.Apply(combat(monster(5), hit(player(1), 10, 1)), 100)

	log := m.DungeonLog()
	assert.False(t, log.Enabled)
	require.Len(t, log.Segments, 1)
	assert.False(t, log.Segments[0].Open())
	m.View(func(enc *Encounter) {
		_, ok := enc.CurrentSegment()
		assert.False(t, ok)
	})
}
