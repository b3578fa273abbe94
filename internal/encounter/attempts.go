package encounter

import (
	"firestige.xyz/meter/internal/persist"
	"firestige.xyz/meter/internal/protocol"
)

// Attempt split reasons.
const (
	ReasonInitial    = "initial"
	ReasonWipe       = "wipe"
	ReasonHPRollback = "hp_rollback"
)

// checkAttempts splits the attempt on a wipe or a boss HP rollback.
func (m *Manager) checkAttempts(now int64) {
	enc := m.enc
	if !enc.Active() {
		return
	}

	if m.wipeDetection && m.wiped() && m.split(ReasonWipe, now) {
		enc.phases.OnWipe(now)
	}

	pct, ok := m.bossPercent()
	if !ok {
		return
	}
	if !enc.hasLowest || pct < enc.lowestBoss {
		enc.lowestBoss, enc.hasLowest = pct, true
	}
	if enc.lowestBoss < m.cfg.RollbackPercent && pct > m.cfg.RollbackPercent {
		m.split(ReasonHPRollback, now)
	}
}

// wiped reports whether every party member died in the current attempt.
// The party is the local player plus every player in combat this attempt.
func (m *Manager) wiped() bool {
	enc := m.enc
	if enc.LocalPlayerUID != 0 {
		if ent, ok := enc.Entities[enc.LocalPlayerUID]; !ok || ent.Kind == protocol.EntityPlayer {
			enc.party[enc.LocalPlayerUID] = struct{}{}
		}
	}
	if len(enc.party) == 0 {
		return false
	}
	for uid := range enc.party {
		if _, dead := enc.deaths[uid]; !dead {
			return false
		}
	}
	return true
}

// split ends the current attempt and begins the next. Splits closer together
// than the cooldown are refused.
func (m *Manager) split(reason string, now int64) bool {
	enc := m.enc
	if now-enc.lastSplitMs < m.cfg.RollbackCooldown.Milliseconds() {
		return false
	}
	hp := m.bossHP()
	m.enqueue(persist.EndAttempt{
		AttemptIndex: enc.AttemptIndex,
		EndedAtMs:    now,
		BossHPEnd:    hp,
		TotalDeaths:  enc.attemptDeath,
	})
	prev := enc.AttemptIndex
	enc.AttemptIndex++
	m.enqueue(persist.BeginAttempt{
		AttemptIndex: enc.AttemptIndex,
		StartedAtMs:  now,
		Reason:       reason,
		BossHPStart:  hp,
	})

	enc.lastSplitMs = now
	enc.hasLowest = false
	if pct, ok := m.bossPercent(); ok {
		enc.lowestBoss, enc.hasLowest = pct, true
	}
	clear(enc.party)
	clear(enc.deaths)
	clear(enc.revives)
	enc.attemptDeath = 0

	m.logger.Info("attempt split", "from", prev, "to", enc.AttemptIndex, "reason", reason)
	return true
}

func (m *Manager) bossHP() *int64 {
	boss, ok := m.enc.Boss()
	if !ok || !boss.HPKnown {
		return nil
	}
	hp := boss.CurrentHP
	return &hp
}

func (m *Manager) bossPercent() (float64, bool) {
	boss, ok := m.enc.Boss()
	if !ok {
		return 0, false
	}
	return boss.HPPercent()
}

// checkLowHP counts a boss held below the low HP mark for the hold time as
// defeated. Some bosses despawn before reporting zero HP.
func (m *Manager) checkLowHP(now int64) {
	enc := m.enc
	for _, boss := range enc.Bosses() {
		if enc.BossDead(boss.UID) {
			continue
		}
		pct, ok := boss.HPPercent()
		if !ok || pct >= m.cfg.LowHPPercent {
			delete(enc.lowHPSince, boss.UID)
			continue
		}
		since, ok := enc.lowHPSince[boss.UID]
		if !ok {
			enc.lowHPSince[boss.UID] = now
			continue
		}
		if now-since >= m.cfg.LowHPHold.Milliseconds() {
			m.bossDied(boss, now)
		}
	}
}
