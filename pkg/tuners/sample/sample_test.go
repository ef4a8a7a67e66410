// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package sample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/bpftuned/pkg/ring"
	"github.com/DataDog/bpftuned/pkg/tuner"
)

func TestInitAndFiniDoNotError(t *testing.T) {
	p := New()
	tn := &tuner.Tuner{Name: Name, ID: 1}

	require.NoError(t, p.Init(tn))
	p.Fini(tn)
}

func TestHandleEventDoesNotPanic(t *testing.T) {
	p := New()
	tn := &tuner.Tuner{Name: Name, ID: 1}
	require.NoError(t, p.Init(tn))

	assert.NotPanics(t, func() {
		p.HandleEvent(tn, ring.Event{EventID: 1, NetnsCookie: -1}, &tuner.HandlerContext{})
	})
}

func TestRegisteredUnderName(t *testing.T) {
	_, ok := tuner.LoadStatic(Name)
	assert.True(t, ok)
}
