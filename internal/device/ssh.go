package device

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/fleetbridge/backend/internal/inventory"
	"golang.org/x/crypto/ssh"
)

// SSHClient is the default device collaborator: one SSH exec channel per
// command. Host key verification is handled by the session manager's TOFU
// store, outside this core, so connections here accept any host key.
type SSHClient struct {
	dialTimeout time.Duration
}

func NewSSHClient() *SSHClient {
	return &SSHClient{dialTimeout: 15 * time.Second}
}

func (c *SSHClient) dial(ctx context.Context, host inventory.HostDescriptor) (*ssh.Client, error) {
	port := host.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(host.Address, strconv.Itoa(port))

	cfg := &ssh.ClientConfig{
		User:            host.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(host.Secret)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.dialTimeout,
	}

	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	// Tear the connection down when the per-host context expires so a stuck
	// device cannot hold the exec channel open past its timeout.
	go func() {
		<-ctx.Done()
		client.Close()
	}()
	return client, nil
}

func (c *SSHClient) RunCommands(ctx context.Context, host inventory.HostDescriptor, commands []string) (map[string]string, error) {
	client, err := c.dial(ctx, host)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	outputs := make(map[string]string, len(commands))
	for _, command := range commands {
		out, err := c.runOne(client, command)
		if err != nil {
			return nil, fmt.Errorf("command %q failed: %w", command, err)
		}
		outputs[command] = out
	}
	return outputs, nil
}

func (c *SSHClient) runOne(client *ssh.Client, command string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if err := session.Run(command); err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (c *SSHClient) FetchConfig(ctx context.Context, host inventory.HostDescriptor) (string, error) {
	outputs, err := c.RunCommands(ctx, host, []string{showConfigCommand(host.Platform)})
	if err != nil {
		return "", err
	}
	for _, out := range outputs {
		return out, nil
	}
	return "", fmt.Errorf("device returned no configuration")
}

func (c *SSHClient) PushConfig(ctx context.Context, host inventory.HostDescriptor, config string, commit bool) (string, error) {
	client, err := c.dial(ctx, host)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	session.Stdin = strings.NewReader(config)
	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Run(loadConfigCommand(host.Platform, commit)); err != nil {
		return "", fmt.Errorf("config load failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func showConfigCommand(platform string) string {
	switch strings.ToLower(platform) {
	case "junos":
		return "show configuration | display set"
	default:
		return "show running-config"
	}
}

func loadConfigCommand(platform string, commit bool) string {
	switch strings.ToLower(platform) {
	case "junos":
		if commit {
			return "load replace terminal; commit"
		}
		return "load replace terminal; commit check; rollback"
	default:
		if commit {
			return "configure replace terminal: commit"
		}
		return "configure replace terminal: dry-run"
	}
}
