// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := Event{
		TunerID:     1,
		ScenarioID:  2,
		EventID:     3,
		PID:         4321,
		NetnsCookie: -1,
		Updates: []Update{
			{ID: 3, Old: [3]int64{1, 2, 3}, New: [3]int64{4, 5, 6}},
		},
	}

	data := EncodeEvent(want)
	got, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeEventTooShort(t *testing.T) {
	_, err := DecodeEvent([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDedupKeyPacking(t *testing.T) {
	k := DedupKey(42, 0xAABBCCDD, 0x1234)
	// same inputs produce the same key
	assert.Equal(t, k, DedupKey(42, 0xAABBCCDD, 0x1234))
	// distinct tuner ids produce distinct keys for a small cookie (the
	// unmasked formula ORs an all-ones -1 cookie over every other field)
	assert.NotEqual(t, k, DedupKey(42, 0xAABBCCDD, 0x4321))
}
