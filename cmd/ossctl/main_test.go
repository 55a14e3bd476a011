package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiryRules(t *testing.T) {
	rules, err := expiryRules(30, 0)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "uploads/", rules[0].Prefix)
	assert.Equal(t, 30, rules[0].Days)

	rules, err = expiryRules(7, 90)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "runs/", rules[1].Prefix)

	_, err = expiryRules(0, 0)
	assert.Error(t, err)
	_, err = expiryRules(7, -1)
	assert.Error(t, err)
}
