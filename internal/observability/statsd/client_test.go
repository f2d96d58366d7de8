package statsd

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimPrefix(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"  herald.worker  ": "herald.worker",
		"..herald..":        "herald",
		".":                 "",
		"":                  "",
	}
	for input, want := range tests {
		assert.Equal(t, want, trimPrefix(input), "trimPrefix(%q)", input)
	}
}

func TestCleanName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		" task/reserve ":    "task_reserve",
		"reaper..cleanup":   "reaper.cleanup",
		"two  spaces":       "two__spaces",
		"ws/bulk/dispatch":  "ws_bulk_dispatch",
		".dispatch.result.": "dispatch.result",
	}
	for input, want := range tests {
		assert.Equal(t, want, cleanName(input), "cleanName(%q)", input)
	}
}

func TestEncodeTags(t *testing.T) {
	t.Parallel()

	global := map[string]string{
		"env": "prod",
		// Padded key and value exercise the trimming path.
		" service ": " herald ",
	}
	local := map[string]string{
		"result": " success ",
		"":       "ignored",
		"env":    "stage",
	}

	assert.Equal(t, "|#env:stage,result:success,service:herald", encodeTags(global, local))
}

func TestEncodeTags_Empty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, encodeTags(nil, nil))
	assert.Empty(t, encodeTags(map[string]string{"": "x"}, nil))
}

func TestCopyTags_ReturnsIndependentCopy(t *testing.T) {
	t.Parallel()

	original := map[string]string{
		"env": "prod",
		"":    "ignored",
	}

	cloned := copyTags(original)
	require.NotNil(t, cloned)
	assert.NotContains(t, cloned, "")

	cloned["env"] = "stage"
	assert.Equal(t, "prod", original["env"])
}

func TestClient_EnabledAndClose(t *testing.T) {
	t.Parallel()

	clientConn, peerConn := net.Pipe()
	defer peerConn.Close()

	client := &Client{
		enabled: true,
		conn:    clientConn,
	}
	assert.True(t, client.Enabled())

	require.NoError(t, client.Close())
	assert.False(t, client.Enabled())

	// Close is idempotent.
	require.NoError(t, client.Close())

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
	assert.NoError(t, nilClient.Close())
}

func TestNewClient_DisabledWithoutAddress(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{
		Enabled: true,
		Address: "   ",
	})
	require.NoError(t, err)
	assert.False(t, client.Enabled())
}

func TestNewClient_DialError(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{
		Enabled: true,
		Address: "bad address",
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "statsd dial"))
}

func TestNilSinkMethodsAreSafe(t *testing.T) {
	t.Parallel()

	var c *Client
	c.Count("task.completed", 1, nil)
	c.Gauge("reaper.last_success_epoch", 1, nil)
	c.Timing("dispatch.duration", 1, nil)
}
