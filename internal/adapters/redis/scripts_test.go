package redis

import (
	"context"
	"errors"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisError mimics a server reply error so HasErrorPrefix recognizes it.
type redisError string

func (e redisError) Error() string { return string(e) }

func (redisError) RedisError() {}

// scriptedClient stubs the three script commands, embedding the universal
// client so everything else nil-panics if touched.
type scriptedClient struct {
	goredis.UniversalClient

	evalShaCalls int
	loadCalls    int
	evalCalls    int

	loaded    bool
	loadErr   error
	result    any
	noScripts int // how many EvalSha calls reply NOSCRIPT before succeeding
}

func (c *scriptedClient) EvalSha(ctx context.Context, sha1 string, keys []string, args ...any) *goredis.Cmd {
	c.evalShaCalls++

	if c.noScripts > 0 {
		c.noScripts--

		return goredis.NewCmdResult(nil, redisError("NOSCRIPT No matching script. Please use EVAL."))
	}

	return goredis.NewCmdResult(c.result, nil)
}

func (c *scriptedClient) ScriptLoad(ctx context.Context, script string) *goredis.StringCmd {
	c.loadCalls++

	if c.loadErr != nil {
		return goredis.NewStringResult("", c.loadErr)
	}

	c.loaded = true

	return goredis.NewStringResult("sha", nil)
}

func (c *scriptedClient) Eval(ctx context.Context, script string, keys []string, args ...any) *goredis.Cmd {
	c.evalCalls++

	return goredis.NewCmdResult(c.result, nil)
}

func TestScriptRegistryHoldsFixedSet(t *testing.T) {
	r := NewScriptRegistry()

	for _, name := range []string{ScriptCommit, ScriptRollback, ScriptStockSet, ScriptOutboxClaim} {
		assert.NotEmpty(t, r.Source(name), "script %s registered", name)
	}

	assert.Empty(t, r.Source("unknown"))
}

func TestScriptRegistryHashesAreStable(t *testing.T) {
	first := NewScriptRegistry()
	second := NewScriptRegistry()

	for _, name := range []string{ScriptCommit, ScriptRollback, ScriptStockSet, ScriptOutboxClaim} {
		assert.Equal(t, first.scripts[name].sha, second.scripts[name].sha)
		assert.Len(t, first.scripts[name].sha, 40, "sha1 hex digest")
	}
}

func TestScriptRegistryRunByHash(t *testing.T) {
	r := NewScriptRegistry()
	client := &scriptedClient{result: []any{"ok", int64(4), int64(1), int64(1)}}

	raw, err := r.Run(context.Background(), client, ScriptCommit, []string{"k"}, 1)

	require.NoError(t, err)
	assert.Equal(t, []any{"ok", int64(4), int64(1), int64(1)}, raw)
	assert.Equal(t, 1, client.evalShaCalls)
	assert.Zero(t, client.loadCalls)
}

func TestScriptRegistryReloadsOnNoScript(t *testing.T) {
	r := NewScriptRegistry()
	client := &scriptedClient{result: int64(1), noScripts: 1}

	raw, err := r.Run(context.Background(), client, ScriptStockSet, []string{"k1", "k2"}, 5, 0, 60)

	require.NoError(t, err)
	assert.Equal(t, int64(1), raw)
	assert.Equal(t, 2, client.evalShaCalls, "retried by hash after reload")
	assert.Equal(t, 1, client.loadCalls)
	assert.True(t, client.loaded)
}

func TestScriptRegistryFallsBackToEvalWhenLoadFails(t *testing.T) {
	r := NewScriptRegistry()
	client := &scriptedClient{result: int64(1), noScripts: 99, loadErr: errors.New("readonly replica")}

	raw, err := r.Run(context.Background(), client, ScriptStockSet, []string{"k1", "k2"}, 5, 0, 60)

	require.NoError(t, err)
	assert.Equal(t, int64(1), raw)
	assert.Equal(t, 1, client.evalCalls, "plain EVAL fallback")
}

func TestScriptRegistryUnknownScript(t *testing.T) {
	r := NewScriptRegistry()

	_, err := r.Run(context.Background(), &scriptedClient{}, "nope", nil)

	assert.Error(t, err)
}

func TestParseCommitReply(t *testing.T) {
	result, err := parseCommitReply([]any{"ok", int64(4), int64(1), int64(1)})

	require.NoError(t, err)
	assert.Equal(t, "ok", string(result.Code))
	assert.Equal(t, int64(4), result.RemainingStock)
	assert.Equal(t, int64(1), result.UserPurchased)
	assert.Equal(t, int64(1), result.RemainingQuota)

	_, err = parseCommitReply([]any{"ok"})
	assert.Error(t, err)

	_, err = parseCommitReply("garbage")
	assert.Error(t, err)
}
