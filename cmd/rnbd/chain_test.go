package main

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildChainRequiresPath(t *testing.T) {
	_, err := buildChain(context.Background(), &chainFlags{}, nil)
	assert.Error(t, err)
}

func TestBuildChainMinimal(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/disk.img"
	require.NoError(t, os.WriteFile(path, make([]byte, 1<<20), 0o644))

	cf := &chainFlags{path: path, metrics: false}
	ch, err := buildChain(context.Background(), cf, nil)
	require.NoError(t, err)
	require.NotNil(t, ch)
}

func TestBuildChainWiresRemapRules(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/disk.img"
	require.NoError(t, os.WriteFile(path, make([]byte, 1<<20), 0o644))

	cf := &chainFlags{path: path, metrics: false, remapRules: []string{"0-999:0", "500-1499:10000"}}
	ch, err := buildChain(context.Background(), cf, nil)
	require.NoError(t, err)
	require.NotNil(t, ch)
}

func TestBuildChainRejectsMalformedRemapRule(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/disk.img"
	require.NoError(t, os.WriteFile(path, make([]byte, 1<<20), 0o644))

	cf := &chainFlags{path: path, metrics: false, remapRules: []string{"not-a-rule"}}
	_, err := buildChain(context.Background(), cf, nil)
	assert.Error(t, err)
}

func TestParseRemapRulesDefaultsPriorityByOrder(t *testing.T) {
	rules, err := parseRemapRules([]string{"0-999:0", "500-1499:10000"})
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Less(t, rules[0].Priority, rules[1].Priority)
	assert.Equal(t, uint64(10000), rules[1].Dest)
}

func TestParseRemapRulesAcceptsExplicitPriority(t *testing.T) {
	rules, err := parseRemapRules([]string{"0-999:0:5"})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 5, rules[0].Priority)
}

func TestParseRemapRulesRejectsBadRange(t *testing.T) {
	_, err := parseRemapRules([]string{"abc:0"})
	assert.Error(t, err)
}
