// Package syncgen produces self-contained pull-sync clients: a bash script
// with an embedded, freshly generated SSH key that a remote host runs to pull
// archives from this machine under its own retention count.
package syncgen

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Options are the inputs for one generated sync client.
type Options struct {
	// PrimaryHost is the address the remote host will pull from.
	PrimaryHost string
	// LoginUser is the primary-side account the script logs in as. Its
	// authorized_keys receives the generated public key.
	LoginUser string
	// ArchiveDir is the primary-side directory holding the archives.
	ArchiveDir string
	// RemoteDir is the destination directory on the remote host. Must be
	// absolute; the script runs unattended and a relative path would land
	// wherever cron happened to start it.
	RemoteDir string
	// ScriptName is the filename of the generated script.
	ScriptName string
	// Keep is the retention count the script applies to the remote copy.
	Keep int
	// OutputDir is where the script is written.
	OutputDir string

	// AuthorizedKeysPath overrides the derived
	// ~LoginUser/.ssh/authorized_keys location. Mainly for tests.
	AuthorizedKeysPath string
}

// Generate creates the key pair, authorizes the public key for the login
// account on this host, and writes the script. The private key lives only
// inside the script (base64-encoded); no key file is left behind.
func Generate(opts Options) (string, error) {
	if !filepath.IsAbs(opts.RemoteDir) {
		return "", fmt.Errorf("remote destination %q must be an absolute path", opts.RemoteDir)
	}
	if opts.ScriptName == "" || opts.PrimaryHost == "" || opts.LoginUser == "" {
		return "", fmt.Errorf("primary host, login user and script name are all required")
	}
	if opts.Keep < 1 {
		return "", fmt.Errorf("retention count must be positive, got %d", opts.Keep)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generating key pair: %w", err)
	}

	comment := fmt.Sprintf("stackvault-sync@%s", opts.PrimaryHost)
	pemBlock, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return "", fmt.Errorf("encoding private key: %w", err)
	}
	privB64 := base64.StdEncoding.EncodeToString(pem.EncodeToMemory(pemBlock))

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("encoding public key: %w", err)
	}
	authorizedLine := fmt.Sprintf("%s %s\n",
		bytes.TrimRight(ssh.MarshalAuthorizedKey(sshPub), "\n"), comment)

	// The key is useless to the remote host until it is authorized here;
	// do that before writing the script so a failure leaves nothing behind.
	if err := installPublicKey(opts, authorizedLine); err != nil {
		return "", fmt.Errorf("authorizing public key for %s: %w", opts.LoginUser, err)
	}

	scriptPath := filepath.Join(opts.OutputDir, opts.ScriptName)
	script, err := renderScript(opts, privB64)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(scriptPath, script, 0700); err != nil {
		return "", fmt.Errorf("writing sync script: %w", err)
	}

	log.Info().Str("script", scriptPath).Str("host", opts.PrimaryHost).Msg("Generated remote-sync client")
	return scriptPath, nil
}

// installPublicKey appends the authorized_keys line for the login account,
// creating ~/.ssh with the expected permissions when absent.
func installPublicKey(opts Options, line string) error {
	path := opts.AuthorizedKeysPath
	var uid, gid int = -1, -1
	if path == "" {
		u, err := user.Lookup(opts.LoginUser)
		if err != nil {
			return fmt.Errorf("looking up login account: %w", err)
		}
		sshDir := filepath.Join(u.HomeDir, ".ssh")
		if err := os.MkdirAll(sshDir, 0700); err != nil {
			return err
		}
		path = filepath.Join(sshDir, "authorized_keys")
		if uid, err = strconv.Atoi(u.Uid); err != nil {
			return err
		}
		if gid, err = strconv.Atoi(u.Gid); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if uid >= 0 {
		if err := os.Chown(path, uid, gid); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Could not chown authorized_keys")
		}
	}
	return nil
}

func renderScript(opts Options, privB64 string) ([]byte, error) {
	var buf bytes.Buffer
	err := scriptTemplate.Execute(&buf, scriptParams{
		GeneratedAt:   time.Now().Format(time.RFC3339),
		PrivateKeyB64: privB64,
		PrimaryHost:   opts.PrimaryHost,
		LoginUser:     opts.LoginUser,
		ArchiveDir:    opts.ArchiveDir,
		RemoteDir:     opts.RemoteDir,
		KeepPlusOne:   opts.Keep + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("rendering sync script: %w", err)
	}
	return buf.Bytes(), nil
}
