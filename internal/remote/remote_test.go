package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"":            "''",
		"plain":       "plain",
		"a/b-c.d:1=2": "a/b-c.d:1=2",
		"two words":   "'two words'",
		"it's":        `'it'\''s'`,
		"$(rm -rf /)": "'$(rm -rf /)'",
		"semi;colon":  "'semi;colon'",
	}
	for in, want := range cases {
		assert.Equal(t, want, ShellQuote(in), "input %q", in)
	}
}

func TestParsePID(t *testing.T) {
	pid, err := parsePID("  4242\n")
	require.NoError(t, err)
	assert.Equal(t, "4242", pid)

	_, err = parsePID("")
	assert.ErrorIs(t, err, ErrBadHandle)
	_, err = parsePID("nohup: failed")
	assert.ErrorIs(t, err, ErrBadHandle)
}

func TestLocalExecutor(t *testing.T) {
	ctx := context.Background()
	e := LocalExecutor{}

	res, err := e.ExecSync(ctx, "echo hi; exit 3")
	require.NoError(t, err)
	assert.Equal(t, "hi\n", res.Stdout)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.StartTime.IsZero())

	pid, err := e.ExecAsync(ctx, "sleep 0")
	require.NoError(t, err)
	assert.NotEmpty(t, pid)

	_, err = e.ExecSync(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

// --- SSH ---

func startSSHServer(t *testing.T, handler func(cmd string) (string, int)) (string, ssh.PublicKey) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "wip" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(nc, cfg, handler)
		}
	}()
	return ln.Addr().String(), signer.PublicKey()
}

func serveSSH(nc net.Conn, cfg *ssh.ServerConfig, handler func(string) (string, int)) {
	defer nc.Close()
	_, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			return
		}
		go func() {
			defer ch.Close()
			for req := range chReqs {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
					_ = req.Reply(false, nil)
					return
				}
				_ = req.Reply(true, nil)

				out, code := handler(payload.Command)
				_, _ = io.WriteString(ch, out)
				status := struct{ Status uint32 }{uint32(code)}
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(&status))
				return
			}
		}()
	}
}

func TestSSHExecutor(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	addr, hostKey := startSSHServer(t, func(cmd string) (string, int) {
		mu.Lock()
		seen = append(seen, cmd)
		mu.Unlock()
		switch {
		case strings.HasPrefix(cmd, "nohup "):
			return "4242\n", 0
		case cmd == "false":
			return "", 1
		default:
			return "out:" + cmd, 0
		}
	})

	e, err := NewSSHExecutor(SSHConfig{
		Addr:            addr,
		User:            "wip",
		Password:        "secret",
		HostKeyCallback: ssh.FixedHostKey(hostKey),
	})
	require.NoError(t, err)
	ctx := context.Background()

	res, err := e.ExecSync(ctx, "uptime")
	require.NoError(t, err)
	assert.Equal(t, "out:uptime", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)

	res, err = e.ExecSync(ctx, "false")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)

	pid, err := e.ExecAsync(ctx, "curl -X POST http://x/cb")
	require.NoError(t, err)
	assert.Equal(t, "4242", pid)
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen[len(seen)-1], "'curl -X POST http://x/cb'")
}

func TestSSHExecutorAuth(t *testing.T) {
	addr, hostKey := startSSHServer(t, func(string) (string, int) { return "", 0 })

	e, err := NewSSHExecutor(SSHConfig{
		Addr:            addr,
		User:            "wip",
		Password:        "wrong",
		HostKeyCallback: ssh.FixedHostKey(hostKey),
	})
	require.NoError(t, err)
	_, err = e.ExecSync(context.Background(), "uptime")
	assert.Error(t, err)

	_, err = NewSSHExecutor(SSHConfig{Addr: addr, User: "wip"})
	assert.ErrorIs(t, err, ErrNoAuth)

	_, err = NewSSHExecutor(SSHConfig{Addr: addr, User: "wip", Password: "secret"})
	assert.ErrorIs(t, err, ErrNoHostKey)

	e, err = NewSSHExecutor(SSHConfig{Addr: "example.org", User: "wip", Password: "x", HostKeyCallback: ssh.FixedHostKey(hostKey)})
	require.NoError(t, err)
	assert.Equal(t, "example.org:22", e.Addr())
}

// --- Docker ---

type fakeExec struct {
	cmds    []string
	replies map[string]Result
}

func (f *fakeExec) ExecSync(_ context.Context, cmd string) (Result, error) {
	f.cmds = append(f.cmds, cmd)
	for prefix, res := range f.replies {
		if strings.HasPrefix(cmd, prefix) {
			return res, nil
		}
	}
	return Result{ExitCode: 127}, nil
}

func (f *fakeExec) ExecAsync(context.Context, string) (string, error) {
	return "", errors.New("not used")
}

func TestDockerRuntimeLaunch(t *testing.T) {
	f := &fakeExec{replies: map[string]Result{"docker run": {Stdout: "abc123\n"}}}
	r := NewDockerRuntime(f, "")

	id, err := r.Launch(context.Background(), LaunchSpec{
		Image:       "alpine:3",
		Command:     []string{"sh", "-c", "echo hi"},
		Env:         map[string]string{"B": "2", "A": "1"},
		CallbackURL: "http://wip/api/v1/signals/x",
		Labels:      map[string]string{"wip.task": "7"},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
	assert.Equal(t,
		"docker run -d -e A=1 -e B=2 -e WIP_CALLBACK_URL=http://wip/api/v1/signals/x --label wip.task=7 alpine:3 sh -c 'echo hi'",
		f.cmds[0])

	_, err = r.Launch(context.Background(), LaunchSpec{})
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestDockerRuntimeStatus(t *testing.T) {
	cases := []struct {
		out  string
		want Status
	}{
		{"created 0", StatusUninitialized},
		{"running 0", StatusRunning},
		{"paused 0", StatusWait},
		{"exited 0", StatusReady},
		{"exited 2", StatusFailed},
		{"dead 137", StatusFailed},
	}
	for _, tc := range cases {
		f := &fakeExec{replies: map[string]Result{"docker inspect": {Stdout: tc.out + "\n"}}}
		got, err := NewDockerRuntime(f, "").Status(context.Background(), "abc")
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.out)
	}

	f := &fakeExec{replies: map[string]Result{"docker inspect": {ExitCode: 1}}}
	_, err := NewDockerRuntime(f, "").Status(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestDockerRuntimeResultAndKill(t *testing.T) {
	f := &fakeExec{replies: map[string]Result{
		"docker inspect": {Stdout: "exited 3"},
		"docker logs":    {Stdout: "boom\n"},
		"docker rm":      {ExitCode: 1, Stdout: "Error: No such container: abc"},
	}}
	r := NewDockerRuntime(f, "")

	res, err := r.Result(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, ExitResult{ExitCode: 3, ExitMessage: "boom"}, res)

	require.NoError(t, r.Kill(context.Background(), "abc"))
	assert.Equal(t, "docker rm -f abc 2>&1", f.cmds[len(f.cmds)-1])
}
