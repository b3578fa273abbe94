package encounter

import (
	"cmp"
	"fmt"
	"slices"

	"firestige.xyz/meter/internal/persist"
	"firestige.xyz/meter/internal/protocol"
)

// BuffSpan is one continuous application of a buff on an entity.
type BuffSpan struct {
	StartMs    int64 `json:"start_ms"`
	EndMs      int64 `json:"end_ms"`
	DurationMs int64 `json:"duration_ms"`
	Stack      int32 `json:"stack_count"`
}

type buffKey struct {
	uid  int64
	buff int32
}

// BuffUptime is the clamped history of one buff on one player.
type BuffUptime struct {
	BuffID          int32      `json:"buff_id"`
	Name            string     `json:"buff_name"`
	TotalDurationMs int64      `json:"total_duration_ms"`
	Spans           []BuffSpan `json:"events"`
}

// EntityBuffs lists the buffs seen on one player.
type EntityBuffs struct {
	UID   int64        `json:"entity_uid"`
	Name  string       `json:"entity_name"`
	Buffs []BuffUptime `json:"buffs"`
}

// applyBuffs merges buff reports into the per entity history. A report with
// the start and duration of a known span updates its stack; one starting
// inside a known span is a refresh that moves the end.
func (m *Manager) applyBuffs(b protocol.BuffUpdate, now int64) {
	enc := m.enc
	m.entity(b.TargetUID, b.TargetUUID, b.TargetKind)
	for _, bf := range b.Buffs {
		start := now
		if bf.CreatedMs > 0 {
			start = bf.CreatedMs - enc.ServerOffsetMs
		}
		end := start + bf.DurationMs
		key := buffKey{b.TargetUID, bf.BuffID}
		spans := enc.buffs[key]

		merged := false
		for i := range spans {
			s := &spans[i]
			if s.StartMs == start && s.DurationMs == bf.DurationMs {
				s.Stack = bf.Stack
				merged = true
				break
			}
			if start >= s.StartMs && start < s.EndMs {
				s.EndMs = end
				s.Stack = bf.Stack
				merged = true
				break
			}
		}
		if !merged {
			spans = append(spans, BuffSpan{StartMs: start, EndMs: end, DurationMs: bf.DurationMs, Stack: bf.Stack})
		}
		enc.buffs[key] = spans
	}
}

// LiveBuffs returns the buff uptime of every player, clamped to the fight:
// spans start no earlier than the first combat and end no later than the
// last combat, or now when there was none.
func (m *Manager) LiveBuffs(nowMs int64) []EntityBuffs {
	m.mu.RLock()
	defer m.mu.RUnlock()
	enc := m.enc

	until := nowMs
	if enc.LastCombatMs > 0 {
		until = enc.LastCombatMs
	}

	byUID := make(map[int64]*EntityBuffs)
	for key, spans := range enc.buffs {
		ent, ok := enc.Entities[key.uid]
		if !ok || ent.Kind != protocol.EntityPlayer {
			continue
		}
		up := BuffUptime{BuffID: key.buff}
		if name, ok := m.data.BuffName(key.buff); ok {
			up.Name = name
		} else {
			up.Name = fmt.Sprintf("Buff %d", key.buff)
		}
		for _, s := range spans {
			start, end := s.StartMs, min(s.EndMs, until)
			if enc.Active() {
				start = max(start, enc.StartedAtMs)
			}
			if end <= start {
				continue
			}
			up.TotalDurationMs += end - start
			up.Spans = append(up.Spans, BuffSpan{StartMs: start, EndMs: end, DurationMs: end - start, Stack: s.Stack})
		}
		if up.TotalDurationMs == 0 {
			continue
		}

		eb, ok := byUID[key.uid]
		if !ok {
			name := ent.Name
			if name == "" {
				name = fmt.Sprintf("Player %d", key.uid)
			}
			eb = &EntityBuffs{UID: key.uid, Name: name}
			byUID[key.uid] = eb
		}
		eb.Buffs = append(eb.Buffs, up)
	}

	out := make([]EntityBuffs, 0, len(byUID))
	for _, eb := range byUID {
		slices.SortFunc(eb.Buffs, func(a, b BuffUptime) int { return cmp.Compare(a.BuffID, b.BuffID) })
		out = append(out, *eb)
	}
	slices.SortFunc(out, func(a, b EntityBuffs) int { return cmp.Compare(a.UID, b.UID) })
	return out
}

// saveBuffs queues the buff history of the ending encounter.
func (m *Manager) saveBuffs() {
	enc := m.enc
	if len(enc.buffs) == 0 {
		return
	}
	records := make([]persist.BuffRecord, 0, len(enc.buffs))
	for key, spans := range enc.buffs {
		rec := persist.BuffRecord{EntityID: key.uid, BuffID: key.buff}
		for _, s := range spans {
			rec.Spans = append(rec.Spans, persist.BuffSpan{
				StartMs:    s.StartMs,
				EndMs:      s.EndMs,
				DurationMs: s.DurationMs,
				Stack:      s.Stack,
			})
		}
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b persist.BuffRecord) int {
		if c := cmp.Compare(a.EntityID, b.EntityID); c != 0 {
			return c
		}
		return cmp.Compare(a.BuffID, b.BuffID)
	})
	m.enqueue(persist.SaveBuffs{Buffs: records})
}
