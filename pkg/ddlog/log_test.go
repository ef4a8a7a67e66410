// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package ddlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDebugLevel(t *testing.T) {
	require.NoError(t, Setup(true))
	assert.NotNil(t, current())
}

func TestWithTunerTagsLogger(t *testing.T) {
	require.NoError(t, Setup(false))
	l := WithTuner("sample")
	assert.NotNil(t, l)
}
