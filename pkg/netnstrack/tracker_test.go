// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package netnstrack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveInsertsLiveRecord(t *testing.T) {
	tr := New(30 * time.Second)
	r := tr.Observe(123)
	require.NotNil(t, r)
	assert.Equal(t, Live, r.State)
	assert.Equal(t, 1, r.RefCount)

	r2 := tr.Observe(123)
	assert.Equal(t, 2, r2.RefCount)
	assert.Equal(t, 1, tr.Count())
}

func TestUnsupportedCookieBypassesTable(t *testing.T) {
	tr := New(30 * time.Second)
	r, deliver := tr.Lookup(UnsupportedCookie)
	assert.Nil(t, r)
	assert.True(t, deliver)
	assert.Equal(t, 0, tr.Count())
}

func TestDestroyTombstonesThenEvicts(t *testing.T) {
	clock := time.Now()
	tr := New(10 * time.Millisecond)
	tr.now = func() time.Time { return clock }

	tr.Create(7)
	tr.Destroy(7)

	r, deliver := tr.Lookup(7)
	require.NotNil(t, r)
	assert.Equal(t, Tombstoned, r.State)
	assert.True(t, deliver, "tombstoned cookies still deliver events")

	clock = clock.Add(10 * time.Millisecond)
	r, deliver = tr.Lookup(7)
	require.NotNil(t, r)
	assert.Equal(t, Evicted, r.State)
	assert.False(t, deliver, "evicted cookies drop events")
	assert.Equal(t, 1, tr.Count(), "an evicted record is kept a while longer so late events still resolve as dropped")
}

func TestEvictedRecordIsEventuallyForgotten(t *testing.T) {
	clock := time.Now()
	tr := New(10 * time.Millisecond)
	tr.now = func() time.Time { return clock }

	tr.Create(7)
	tr.Destroy(7)

	clock = clock.Add(20 * time.Millisecond)
	r, deliver := tr.Lookup(7)
	assert.Nil(t, r)
	assert.True(t, deliver, "a cookie long forgotten is indistinguishable from one never seen")
	assert.Equal(t, 0, tr.Count())
}

func TestUnknownCookieDelivers(t *testing.T) {
	tr := New(30 * time.Second)
	r, deliver := tr.Lookup(999)
	assert.Nil(t, r)
	assert.True(t, deliver)
}
