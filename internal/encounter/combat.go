package encounter

import (
	"slices"

	"firestige.xyz/meter/internal/persist"
	"firestige.xyz/meter/internal/phase"
	"firestige.xyz/meter/internal/protocol"
)

// applyCombat credits every record of one delta to the acting and the
// receiving entity in the same update.
func (m *Manager) applyCombat(cd protocol.CombatDelta, now int64) {
	enc := m.enc
	target := m.entity(cd.TargetUID, cd.TargetUUID, cd.TargetKind)

	for _, d := range cd.Damages {
		amount, ok := d.Amount()
		if !ok {
			continue
		}
		attackerUUID, ok := d.Attacker()
		if !ok || d.OwnerID == nil {
			continue
		}
		if !enc.Active() {
			m.beginFight(now)
		}
		attackerUID, attackerKind := protocol.SplitUUID(attackerUUID)
		attacker := m.entity(attackerUID, attackerUUID, attackerKind)
		skillID := *d.OwnerID
		crit, lucky := d.Crit(), d.Lucky()
		fromPlayer := attacker.Kind == protocol.EntityPlayer
		if fromPlayer && attacker.ClassSpec == "" {
			m.resolveSpec(attacker, skillID, now)
		}

		enc.LastCombatMs = now
		m.joinParty(attacker)
		m.joinParty(target)

		if d.Heal() {
			attacker.Heal.add(amount, crit, lucky)
			skill(attacker.HealSkills, skillID).add(amount, crit, lucky)
			enc.TotalHeal += amount
			enc.Events = append(enc.Events, CombatEvent{
				TimestampMs: now,
				SourceUID:   attacker.UID,
				TargetUID:   target.UID,
				SkillID:     skillID,
				Amount:      amount,
				IsCrit:      crit,
				IsLucky:     lucky,
				Kind:        EventHeal,
			})
			m.enqueue(persist.InsertHealEvent{
				TimestampMs:  now,
				HealerID:     attacker.UID,
				TargetID:     target.UID,
				SkillID:      skillID,
				Value:        amount,
				IsCrit:       crit,
				IsLucky:      lucky,
				AttemptIndex: enc.AttemptIndex,
			})
		} else {
			m.creditDamage(attacker, target, d, skillID, amount, now)
		}

		m.firstSeen(attacker, now)
		m.firstSeen(target, now)

		enc.phases.OnCombat(phase.Combat{
			AtMs:         now,
			ActorUID:     attacker.UID,
			TargetUID:    target.UID,
			TargetName:   target.Name,
			TargetIsBoss: target.IsBoss && !enc.BossDead(target.UID),
			Amount:       amount,
			Heal:         d.Heal(),
			CountTaken:   !fromPlayer,
		})

		if !d.Heal() && died(d, target) {
			m.recordDeath(target, attacker.UID, skillID, now)
		}
	}
}

func (m *Manager) creditDamage(attacker, target *Entity, d protocol.Damage, skillID int32, amount, now int64) {
	enc := m.enc
	crit, lucky := d.Crit(), d.Lucky()
	bossTarget := target.IsBoss

	attacker.Damage.add(amount, crit, lucky)
	skill(attacker.DamageSkills, skillID).add(amount, crit, lucky)
	enc.TotalDamage += amount
	if bossTarget {
		attacker.BossDamage.add(amount, crit, lucky)
		skill(attacker.BossDamageSkills, skillID).add(amount, crit, lucky)
		enc.TotalBossDamage += amount
	}
	attacker.DmgToTarget[target.UID] += amount
	perTarget, ok := attacker.SkillDmgToTarget[skillID]
	if !ok {
		perTarget = make(map[int64]int64)
		attacker.SkillDmgToTarget[skillID] = perTarget
	}
	perTarget[target.UID] += amount

	hpLoss, shieldLoss := max(d.HPLessen, 0), max(d.ShieldLessen, 0)
	effective := hpLoss + shieldLoss
	if effective == 0 {
		effective = amount
	}
	if attacker.Kind != protocol.EntityPlayer {
		target.Taken.add(effective, crit, lucky)
		skill(target.TakenSkills, skillID).add(effective, crit, lucky)
	}

	enc.Events = append(enc.Events, CombatEvent{
		TimestampMs: now,
		SourceUID:   attacker.UID,
		TargetUID:   target.UID,
		SkillID:     skillID,
		Amount:      amount,
		IsCrit:      crit,
		IsLucky:     lucky,
		Kind:        EventDamage,
		TargetBoss:  bossTarget,
	})

	m.trackSegment(target, amount, now)

	var monsterName string
	if target.Kind == protocol.EntityMonster {
		monsterName = target.Name
	}
	var maxHP int64
	if target.MaxHP > 0 {
		maxHP = target.MaxHP
	}
	m.enqueue(persist.InsertDamageEvent{
		TimestampMs:   now,
		AttackerID:    attacker.UID,
		DefenderID:    target.UID,
		MonsterName:   monsterName,
		SkillID:       skillID,
		Value:         effective,
		IsCrit:        crit,
		IsLucky:       lucky,
		HPLoss:        hpLoss,
		ShieldLoss:    shieldLoss,
		DefenderMaxHP: maxHP,
		IsBoss:        bossTarget,
		AttemptIndex:  enc.AttemptIndex,
	})
}

// firstSeen upserts a player the first time it takes part in the fight.
func (m *Manager) firstSeen(ent *Entity, now int64) {
	if _, ok := m.enc.seen[ent.UID]; ok {
		return
	}
	m.enc.seen[ent.UID] = struct{}{}
	m.upsert(ent, now)
}

// resolveSpec takes a player's specialisation, and with it the class, from a
// skill only that specialisation casts.
func (m *Manager) resolveSpec(ent *Entity, skillID int32, now int64) {
	spec, classID, ok := m.data.SkillSpec(skillID)
	if !ok {
		return
	}
	ent.ClassSpec = spec
	if classID != 0 {
		ent.ClassID = classID
	}
	if _, seen := m.enc.seen[ent.UID]; seen {
		m.upsert(ent, now)
	}
}

func (m *Manager) joinParty(ent *Entity) {
	if ent.Kind == protocol.EntityPlayer {
		m.enc.party[ent.UID] = struct{}{}
	}
}

// died reports whether a damage record killed its target: the explicit flag,
// or a loss covering the previous HP or the whole pool.
func died(d protocol.Damage, target *Entity) bool {
	if d.IsDead {
		return true
	}
	loss := max(d.HPLessen, 0) + max(d.ShieldLessen, 0)
	if loss == 0 {
		return false
	}
	if target.HPKnown && target.CurrentHP > 0 && loss >= target.CurrentHP {
		return true
	}
	return target.MaxHP > 0 && loss >= target.MaxHP
}

func (m *Manager) recordDeath(target *Entity, killer int64, skillID int32, now int64) {
	enc := m.enc
	if last, ok := enc.deaths[target.UID]; ok && abs(now-last) <= m.cfg.DeathDedupe.Milliseconds() {
		return
	}
	enc.deaths[target.UID] = now
	if target.Kind == protocol.EntityPlayer {
		enc.attemptDeath++
	}
	m.enqueue(persist.InsertDeathEvent{
		TimestampMs:   now,
		ActorID:       target.UID,
		KillerID:      killer,
		SkillID:       skillID,
		IsLocalPlayer: target.UID == enc.LocalPlayerUID,
		AttemptIndex:  enc.AttemptIndex,
	})
	if target.IsBoss {
		m.bossDied(target, now)
	}
}

// bossDied counts a boss as defeated once per encounter.
func (m *Manager) bossDied(ent *Entity, now int64) {
	enc := m.enc
	if enc.BossDead(ent.UID) {
		return
	}
	enc.deadBosses[ent.UID] = struct{}{}
	name := ent.Name
	if name == "" {
		name = "Boss"
	}
	if !slices.Contains(enc.DefeatedBosses, name) {
		enc.DefeatedBosses = append(enc.DefeatedBosses, name)
	}
	enc.phases.OnBossDeath(ent.UID, now)
	m.segmentBossDied(ent, now)
	m.logger.Info("boss defeated", "uid", ent.UID, "name", name)
	m.queue(Notification{Kind: NotifyBossDeath, Data: BossDeathInfo{UID: ent.UID, Name: name, AtMs: now}})
}
