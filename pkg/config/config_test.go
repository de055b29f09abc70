package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bullfrogsec/uidwall/pkg/firewall"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
blocked_uids: [10123, 10200]
tun:
  name: wall0
  address: 10.0.0.1/24
decision_log: /tmp/uidwall/decisions.log
log_admitted: true
owner_cache_ttl: 250ms
poll_interval: 50ms
metrics_addr: 127.0.0.1:9110
log:
  level: debug
  json: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []int{10123, 10200}, cfg.BlockedUIDs)
	assert.Equal(t, "wall0", cfg.Tun.Name)
	assert.Equal(t, -1, cfg.Tun.Fd, "unset values keep their defaults")
	assert.Equal(t, "10.0.0.1/24", cfg.Tun.Address)
	assert.Equal(t, -1, cfg.NFQueue)
	assert.True(t, cfg.LogAdmitted)
	assert.Equal(t, 250*time.Millisecond, cfg.OwnerCacheTTL)
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, firewall.DefaultIdleBackoff, cfg.IdleBackoff)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)

	fwConfig := cfg.FirewallConfig()
	assert.Equal(t, "/tmp/uidwall/decisions.log", fwConfig.DecisionLogPath)
	assert.Equal(t, 250*time.Millisecond, fwConfig.OwnerCacheTTL)
	assert.True(t, fwConfig.LogAdmitted)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{name: "Empty file", content: "", wantErr: false},
		{name: "Disabled cache", content: "owner_cache_ttl: 0s", wantErr: false},
		{name: "Inherited descriptor", content: "tun:\n  name: \"\"\n  fd: 3", wantErr: false},
		{name: "NFQUEUE only", content: "tun:\n  name: \"\"\nnfqueue: 7", wantErr: false},
		{name: "Negative uid", content: "blocked_uids: [1000, -5]", wantErr: true},
		{name: "No packet source", content: "tun:\n  name: \"\"", wantErr: true},
		{name: "Queue out of range", content: "nfqueue: 70000", wantErr: true},
		{name: "Negative ttl", content: "owner_cache_ttl: -1s", wantErr: true},
		{name: "Tiny packet buffer", content: "max_packet_size: 8", wantErr: true},
		{name: "Unknown log level", content: "log:\n  level: loud", wantErr: true},
		{name: "Unknown key", content: "blocked: [1]", wantErr: true},
		{name: "Malformed yaml", content: "blocked_uids: [1, 2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Zero(t, cfg.OwnerCacheTTL, "owner cache is opt-in")
}

// stubUsers replaces the user database for the duration of the test.
func stubUsers(t *testing.T, users map[string]int) {
	t.Helper()
	previous := lookupUser
	lookupUser = func(name string) (int, error) {
		uid, ok := users[name]
		if !ok {
			return 0, fmt.Errorf("user: unknown user %s", name)
		}
		return uid, nil
	}
	t.Cleanup(func() { lookupUser = previous })
}

func TestBlockedUsers(t *testing.T) {
	stubUsers(t, map[string]int{"alice": 1000, "bob": 1001, "mallory": 2001})

	tests := []struct {
		name      string
		content   string
		wantErr   bool
		wantUIDs  []int
		wantUsers []BlockedUser
	}{
		{
			name:      "Users only",
			content:   "blocked_users: [alice, bob]",
			wantUIDs:  []int{1000, 1001},
			wantUsers: []BlockedUser{{Name: "alice", UID: 1000}, {Name: "bob", UID: 1001}},
		},
		{
			name:      "Merged with uids and de-duplicated",
			content:   "blocked_uids: [2001, 500, 1000]\nblocked_users: [mallory, alice]",
			wantUIDs:  []int{500, 1000, 2001},
			wantUsers: []BlockedUser{{Name: "mallory", UID: 2001}, {Name: "alice", UID: 1000}},
		},
		{
			name:      "No users",
			content:   "blocked_uids: [7]",
			wantUIDs:  []int{7},
			wantUsers: []BlockedUser{},
		},
		{
			name:    "Unknown user fails validation",
			content: "blocked_users: [alice, eve]",
			wantErr: true,
		},
		{
			name:    "Empty user name",
			content: "blocked_users: [\"\"]",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.content))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			uids, users, err := cfg.BlockedIdentities()
			require.NoError(t, err)
			assert.Equal(t, tt.wantUIDs, uids)
			assert.Equal(t, tt.wantUsers, users)
		})
	}
}

func TestBlockedUsersResolvedOnEveryCall(t *testing.T) {
	stubUsers(t, map[string]int{"alice": 1000})
	cfg, err := Parse([]byte("blocked_users: [alice]"))
	require.NoError(t, err)

	stubUsers(t, map[string]int{"alice": 4242})
	uids, _, err := cfg.BlockedIdentities()
	require.NoError(t, err)
	assert.Equal(t, []int{4242}, uids)

	stubUsers(t, map[string]int{})
	_, _, err = cfg.BlockedIdentities()
	assert.Error(t, err)
}

func TestLookupSystemUser(t *testing.T) {
	uid, err := lookupUser("root")
	require.NoError(t, err)
	assert.Equal(t, 0, uid)

	_, err = lookupUser("uidwall-no-such-user")
	assert.Error(t, err)
}
