package syncgen

import "text/template"

type scriptParams struct {
	GeneratedAt   string
	PrivateKeyB64 string
	PrimaryHost   string
	LoginUser     string
	ArchiveDir    string
	RemoteDir     string
	KeepPlusOne   int
}

// The generated script must delete its temporary key material on every exit
// path; the embedded key is long-lived, the decoded file must not be.
var scriptTemplate = template.Must(template.New("sync").Parse(`#!/usr/bin/env bash
# Pull-sync client generated by stackvault on {{.GeneratedAt}}.
# Pulls backup archives from {{.LoginUser}}@{{.PrimaryHost}} and keeps the
# most recent copies locally. Requires ssh and rsync.
set -euo pipefail

KEY_FILE="$(mktemp)"
cleanup() { rm -f "${KEY_FILE}"; }
trap cleanup EXIT INT TERM

umask 077
base64 -d > "${KEY_FILE}" <<'STACKVAULT_KEY'
{{.PrivateKeyB64}}
STACKVAULT_KEY
chmod 600 "${KEY_FILE}"

mkdir -p "{{.RemoteDir}}"

rsync -az \
  -e "ssh -i ${KEY_FILE} -o StrictHostKeyChecking=accept-new -o BatchMode=yes" \
  "{{.LoginUser}}@{{.PrimaryHost}}:{{.ArchiveDir}}/docker_backup_*" \
  "{{.RemoteDir}}/"

# Prune local copies beyond the retention count, sidecars included.
ls -1 "{{.RemoteDir}}"/docker_backup_*.tar.gz 2>/dev/null | sort -r | tail -n +{{.KeepPlusOne}} | while read -r f; do
  rm -f "${f}" "${f%.tar.gz}.metadata"
done
`))
