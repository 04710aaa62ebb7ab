package blockio

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/redocdc/core/libraries/redotypes"
)

// SSHConfig carries what's needed to dial a remote shell tunnel. Unlike the
// teacher's hard-coded Docker/ASM credentials (spec §9 redesign note), this
// is entirely configuration-driven: supply either a Password or a
// Signer (key-based auth), matching the two auth paths
// lucuicheng-rdmc-lib's signerFromPem/ssh.Password support.
type SSHConfig struct {
	Addr     string // host:port
	User     string
	Password string
	Signer   ssh.Signer
	HostKey  ssh.HostKeyCallback
}

// SSHBackend reads a redo log over a remote shell tunnel: each ReadAt runs
// `dd` on the far end to fetch exactly the requested slice, so — unlike the
// append-closed ASMBackend — it can service a still-growing online log.
type SSHBackend struct {
	cfg    SSHConfig
	client *ssh.Client
	path   string
	mu     sync.Mutex
}

func NewSSHBackend(cfg SSHConfig) *SSHBackend {
	return &SSHBackend{cfg: cfg}
}

func (b *SSHBackend) Open(path string) error {
	authMethods := []ssh.AuthMethod{}
	if b.cfg.Signer != nil {
		authMethods = append(authMethods, ssh.PublicKeys(b.cfg.Signer))
	}
	if b.cfg.Password != "" {
		authMethods = append(authMethods, ssh.Password(b.cfg.Password))
	}
	hostKeyCB := b.cfg.HostKey
	if hostKeyCB == nil {
		hostKeyCB = ssh.InsecureIgnoreHostKey()
	}

	client, err := ssh.Dial("tcp", b.cfg.Addr, &ssh.ClientConfig{
		User:            b.cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCB,
	})
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", b.cfg.Addr, err)
	}

	b.mu.Lock()
	b.client = client
	b.path = path
	b.mu.Unlock()
	return nil
}

func (b *SSHBackend) runRemote(cmd string) ([]byte, error) {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("ssh backend not open")
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	var out, stderr bytes.Buffer
	session.Stdout = &out
	session.Stderr = &stderr

	if err := session.Run(cmd); err != nil {
		return nil, fmt.Errorf("ssh command %q failed: %w (stderr: %s)", cmd, err, stderr.String())
	}
	return out.Bytes(), nil
}

func (b *SSHBackend) ReadAt(dst []byte, offset redotypes.FileOffset) (int, error) {
	cmd := fmt.Sprintf("dd if=%s bs=1 skip=%d count=%d 2>/dev/null", shellQuote(b.path), uint64(offset), len(dst))
	data, err := b.runRemote(cmd)
	if err != nil {
		return 0, err
	}
	n := copy(dst, data)
	return n, nil
}

func (b *SSHBackend) Size() (int64, error) {
	out, err := b.runRemote(fmt.Sprintf("stat -c %%s %s 2>/dev/null || stat -f %%z %s", shellQuote(b.path), shellQuote(b.path)))
	if err != nil {
		return 0, err
	}
	var size int64
	if _, err := fmt.Sscanf(string(bytes.TrimSpace(out)), "%d", &size); err != nil {
		return 0, fmt.Errorf("parsing remote size %q: %w", out, err)
	}
	return size, nil
}

func (b *SSHBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}

func (b *SSHBackend) IsAppendClosed() bool { return false }

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

var _ Backend = (*SSHBackend)(nil)
