// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package ring drains the shared-memory ring buffer populated by kernel
// probes and dispatches decoded events to the owning tuner.
package ring

import (
	"encoding/binary"
	"fmt"
)

// MaxUpdates is N, the number of update slots a ring event record carries.
// Only slot 0 is used by the current tuner generation.
const MaxUpdates = 4

// CoreTunerID is the tuner_id reserved for events the kernel side emits on
// its own behalf rather than for a loaded tuner plugin — currently just the
// namespace lifecycle events the namespace tracker consumes. The tuner host
// never assigns this id to a loaded plugin (its ids start at 1), so a
// plugin can never collide with it.
const CoreTunerID uint32 = 0

// Core event ids, valid only when TunerID == CoreTunerID.
const (
	// CoreEventNetnsCreate reports that a network namespace was created.
	CoreEventNetnsCreate uint32 = iota
	// CoreEventNetnsDestroy reports that a network namespace was torn
	// down; the namespace tracker tombstones it rather than dropping it
	// immediately, so in-flight late events can still resolve it.
	CoreEventNetnsDestroy
)

// Update describes one tunable value change carried in an event record.
type Update struct {
	ID  uint32
	Old [3]int64
	New [3]int64
}

// Event is the decoded, fixed-size record a kernel probe emits. Field order
// matches the normative binary layout: tuner_id, scenario_id, event_id,
// pid, netns_cookie, then up to MaxUpdates update records.
type Event struct {
	TunerID     uint32
	ScenarioID  uint32
	EventID     uint32
	PID         uint32
	NetnsCookie int64
	Updates     []Update
}

const (
	headerLen = 4 + 4 + 4 + 4 + 8
	updateLen = 4 + 3*8 + 3*8
)

// DecodeEvent parses the fixed binary layout into an Event. It accepts any
// number of trailing update records up to MaxUpdates; extra bytes beyond
// the last fully-formed update are ignored, matching a probe that only
// ever populates slot 0.
func DecodeEvent(data []byte) (Event, error) {
	if len(data) < headerLen {
		return Event{}, fmt.Errorf("ring event too short: %d bytes", len(data))
	}

	ev := Event{
		TunerID:     binary.LittleEndian.Uint32(data[0:4]),
		ScenarioID:  binary.LittleEndian.Uint32(data[4:8]),
		EventID:     binary.LittleEndian.Uint32(data[8:12]),
		PID:         binary.LittleEndian.Uint32(data[12:16]),
		NetnsCookie: int64(binary.LittleEndian.Uint64(data[16:24])),
	}

	rest := data[headerLen:]
	for i := 0; i*updateLen+updateLen <= len(rest) && i < MaxUpdates; i++ {
		chunk := rest[i*updateLen : (i+1)*updateLen]
		var u Update
		u.ID = binary.LittleEndian.Uint32(chunk[0:4])
		off := 4
		for c := 0; c < 3; c++ {
			u.Old[c] = int64(binary.LittleEndian.Uint64(chunk[off : off+8]))
			off += 8
		}
		for c := 0; c < 3; c++ {
			u.New[c] = int64(binary.LittleEndian.Uint64(chunk[off : off+8]))
			off += 8
		}
		ev.Updates = append(ev.Updates, u)
	}

	return ev, nil
}

// EncodeEvent serializes an Event back to the wire layout. It exists
// primarily to let tests construct ring records without hand-rolling byte
// slices.
func EncodeEvent(ev Event) []byte {
	buf := make([]byte, headerLen+len(ev.Updates)*updateLen)
	binary.LittleEndian.PutUint32(buf[0:4], ev.TunerID)
	binary.LittleEndian.PutUint32(buf[4:8], ev.ScenarioID)
	binary.LittleEndian.PutUint32(buf[8:12], ev.EventID)
	binary.LittleEndian.PutUint32(buf[12:16], ev.PID)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(ev.NetnsCookie))

	for i, u := range ev.Updates {
		base := headerLen + i*updateLen
		binary.LittleEndian.PutUint32(buf[base:base+4], u.ID)
		off := base + 4
		for c := 0; c < 3; c++ {
			binary.LittleEndian.PutUint64(buf[off:off+8], uint64(u.Old[c]))
			off += 8
		}
		for c := 0; c < 3; c++ {
			binary.LittleEndian.PutUint64(buf[off:off+8], uint64(u.New[c]))
			off += 8
		}
	}
	return buf
}

// DedupKey packs (netns_cookie, event_id, tuner_id) into the 64-bit key
// used by the last-event map, per the dedup filter's key formula:
// key = (netns_cookie << 0) | (event_id << 32) | (tuner_id << 48).
func DedupKey(netnsCookie int64, eventID, tunerID uint32) uint64 {
	return uint64(netnsCookie) | (uint64(eventID) << 32) | (uint64(tunerID) << 48)
}
