package syncgen

import (
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		PrimaryHost:        "backup-primary.lan",
		LoginUser:          "svcbackup",
		ArchiveDir:         "/var/backups/stackvault",
		RemoteDir:          "/srv/offsite-backups",
		ScriptName:         "pull-backups.sh",
		Keep:               5,
		OutputDir:          t.TempDir(),
		AuthorizedKeysPath: filepath.Join(t.TempDir(), "authorized_keys"),
	}
}

func TestGenerate(t *testing.T) {
	opts := testOptions(t)

	scriptPath, err := Generate(opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(opts.OutputDir, opts.ScriptName), scriptPath)

	fi, err := os.Stat(scriptPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), fi.Mode().Perm(), "script carries key material, owner-only access")

	script, err := os.ReadFile(scriptPath)
	require.NoError(t, err)
	text := string(script)

	assert.True(t, strings.HasPrefix(text, "#!/usr/bin/env bash"))
	assert.Contains(t, text, "set -euo pipefail")
	assert.Contains(t, text, "trap cleanup EXIT INT TERM")
	assert.Contains(t, text, "svcbackup@backup-primary.lan:/var/backups/stackvault/docker_backup_*")
	assert.Contains(t, text, `"/srv/offsite-backups/"`)
	// Keep 5 on the remote side: the prune starts at line keep+1.
	assert.Contains(t, text, "tail -n +6")

	// The embedded key decodes to a usable OpenSSH private key.
	m := regexp.MustCompile(`(?s)<<'STACKVAULT_KEY'\n(.*?)\nSTACKVAULT_KEY`).FindStringSubmatch(text)
	require.Len(t, m, 2)
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(m[1]))
	require.NoError(t, err)
	block, _ := pem.Decode(raw)
	require.NotNil(t, block)
	assert.Equal(t, "OPENSSH PRIVATE KEY", block.Type)
	signer, err := ssh.ParsePrivateKey(raw)
	require.NoError(t, err)

	// The matching public key was authorized for the login account.
	authorized, err := os.ReadFile(opts.AuthorizedKeysPath)
	require.NoError(t, err)
	pub, comment, _, _, err := ssh.ParseAuthorizedKey(authorized)
	require.NoError(t, err)
	assert.Equal(t, "stackvault-sync@backup-primary.lan", comment)
	assert.Equal(t, signer.PublicKey().Marshal(), pub.Marshal())
}

func TestGenerate_AppendsToAuthorizedKeys(t *testing.T) {
	opts := testOptions(t)
	require.NoError(t, os.WriteFile(opts.AuthorizedKeysPath, []byte("ssh-ed25519 AAAA existing@host\n"), 0600))

	_, err := Generate(opts)
	require.NoError(t, err)

	authorized, err := os.ReadFile(opts.AuthorizedKeysPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(authorized)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "ssh-ed25519 AAAA existing@host", lines[0])
	assert.Contains(t, lines[1], "stackvault-sync@")
}

func TestGenerate_EachScriptGetsItsOwnKey(t *testing.T) {
	opts := testOptions(t)
	first, err := Generate(opts)
	require.NoError(t, err)

	opts.ScriptName = "pull-backups-2.sh"
	second, err := Generate(opts)
	require.NoError(t, err)

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.NotEqual(t, string(a), string(b))
}

func TestGenerate_RejectsBadInput(t *testing.T) {
	opts := testOptions(t)
	opts.RemoteDir = "offsite-backups"
	_, err := Generate(opts)
	assert.Error(t, err, "relative remote destination")

	opts = testOptions(t)
	opts.Keep = 0
	_, err = Generate(opts)
	assert.Error(t, err, "non-positive retention")

	opts = testOptions(t)
	opts.ScriptName = ""
	_, err = Generate(opts)
	assert.Error(t, err, "missing script name")
}
