package main

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/qft"
	"github.com/opd-ai/qft/codec"
)

// run executes the root command with args in an isolated HOME and working
// directory.
func run(t *testing.T, stdin io.Reader, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })

	var stdout, stderr bytes.Buffer
	a := &app{}
	defer a.close()
	cmd := newRootCommand(a)
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	err = cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// receive accepts one connection on loopback and delivers everything read
// from it.
func receive(t *testing.T) (uint16, <-chan []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			got <- nil
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		got <- data
	}()
	return uint16(ln.Addr().(*net.TCPAddr).Port), got
}

func wait(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(5 * time.Second):
		t.Fatal("receiver timed out")
		return nil
	}
}

func TestModeValue(t *testing.T) {
	var mode codec.Mode
	v := newModeValue(codec.Gzip, &mode)
	assert.Equal(t, codec.Gzip, mode)
	assert.Equal(t, "gzip", v.String())
	assert.Equal(t, "mode", v.Type())

	require.NoError(t, v.Set("LZ4"))
	assert.Equal(t, codec.LZ4, mode)

	require.NoError(t, v.Set("bzip2"), "unsupported modes parse and fail at send time")
	assert.Equal(t, codec.Bzip2, mode)

	assert.ErrorIs(t, v.Set("brotli"), codec.ErrUnknownMode)
	assert.Equal(t, codec.Bzip2, mode)
}

func TestSplitUserHost(t *testing.T) {
	tests := []struct {
		in, user, host string
	}{
		{"host", "", "host"},
		{"alice@host", "alice", "host"},
		{"a@b@host", "a@b", "host"},
		{"@host", "", "host"},
	}
	for _, tt := range tests {
		user, host := splitUserHost(tt.in)
		assert.Equal(t, tt.user, user, tt.in)
		assert.Equal(t, tt.host, host, tt.in)
	}
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, nil, "version")
	require.NoError(t, err)
	assert.Equal(t, "qft dev\n", out)
}

func TestGetFreePortQuiet(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	p := strconv.Itoa(port)

	out, _, err := run(t, nil, "get-free-port", "--start-port", p, "--end-port", p, "-q")
	require.NoError(t, err)
	assert.Equal(t, p+"\n", out)
}

func TestGetFreePortVerbose(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	p := strconv.Itoa(port)

	out, _, err := run(t, nil, "get-free-port", "--start-port", p, "--end-port", p)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, p, lines[0])
}

func TestGetFreePortInvalidRange(t *testing.T) {
	_, _, err := run(t, nil, "get-free-port", "--start-port", "60000", "--end-port", "50000", "-q")
	assert.Error(t, err)
}

func TestSendIPFile(t *testing.T) {
	payload := bytes.Repeat([]byte("qft cli payload "), 4096)
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, payload, 0o600))

	port, got := receive(t)
	out, _, err := run(t, nil, "send", "--file", path, "--prealloc", "ip", "127.0.0.1", "--port", strconv.Itoa(int(port)))
	require.NoError(t, err)

	data := wait(t, got)
	require.Len(t, data, 8+len(payload))
	assert.Equal(t, uint64(len(payload)), binary.BigEndian.Uint64(data[:8]))
	assert.Equal(t, payload, data[8:])
	assert.Contains(t, out, "Sent")
	assert.Contains(t, out, strconv.Itoa(len(payload))+" B")
}

func TestSendIPStdinCompressed(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 10_000)
	port, got := receive(t)

	_, _, err := run(t, bytes.NewReader(payload),
		"send", "--compression", "zstd", "--message", "hi", "ip", "127.0.0.1", "--port", strconv.Itoa(int(port)))
	require.NoError(t, err)

	data := wait(t, got)
	require.True(t, bytes.HasPrefix(data, []byte("hi")))
	dec, err := codec.NewDecoder(codec.Zstd, bytes.NewReader(data[2:]))
	require.NoError(t, err)
	defer dec.Close()
	plain, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, payload, plain)
}

func TestSendCompressionFromConfig(t *testing.T) {
	t.Setenv("QFT_COMPRESSION", "gzip")
	payload := []byte("configured compression")
	path := filepath.Join(t.TempDir(), "payload.txt")
	require.NoError(t, os.WriteFile(path, payload, 0o600))

	port, got := receive(t)
	_, _, err := run(t, nil, "send", "--file", path, "ip", "127.0.0.1", "--port", strconv.Itoa(int(port)))
	require.NoError(t, err)

	dec, err := codec.NewDecoder(codec.Gzip, bytes.NewReader(wait(t, got)))
	require.NoError(t, err)
	defer dec.Close()
	plain, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, payload, plain)
}

func TestSendPreallocFromStdinRejected(t *testing.T) {
	_, _, err := run(t, strings.NewReader("x"), "send", "--prealloc", "ip", "127.0.0.1", "--port", "9")
	assert.ErrorIs(t, err, qft.ErrConfig)
}

func TestSendUnsupportedCompression(t *testing.T) {
	_, _, err := run(t, strings.NewReader("x"), "send", "-c", "xz", "ip", "127.0.0.1", "--port", "9")
	assert.ErrorIs(t, err, qft.ErrCodec)
	assert.ErrorIs(t, err, codec.ErrUnsupported)
}

func TestSendMmapRequiresFile(t *testing.T) {
	_, _, err := run(t, nil, "send", "--mmap", "ip", "127.0.0.1", "--port", "9")
	assert.ErrorContains(t, err, "--mmap requires --file")
}

func TestSendIPRequiresPort(t *testing.T) {
	_, _, err := run(t, nil, "send", "ip", "127.0.0.1")
	assert.Error(t, err)
}

func TestSendIPBadAddress(t *testing.T) {
	_, _, err := run(t, nil, "send", "ip", "not-an-ip", "--port", "9")
	assert.Error(t, err)
}

// closedPort returns a loopback port with no listener.
func closedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return strconv.Itoa(port)
}

func TestSendSSHValidatesBeforeDialing(t *testing.T) {
	_, _, err := run(t, strings.NewReader("x"),
		"send", "--prealloc", "ssh", "127.0.0.1", "--ssh-port", closedPort(t), "--insecure-ignore-host-key")
	require.Error(t, err)
	assert.ErrorIs(t, err, qft.ErrConfig)
}

func TestSendSSHUnsupportedCompressionBeforeDialing(t *testing.T) {
	_, _, err := run(t, strings.NewReader("x"),
		"send", "-c", "bzip2", "ssh", "127.0.0.1", "--ssh-port", closedPort(t), "--insecure-ignore-host-key")
	require.Error(t, err)
	assert.ErrorIs(t, err, qft.ErrCodec)
	assert.ErrorIs(t, err, codec.ErrUnsupported)
}

func TestSendMDNSValidatesBeforeDiscovery(t *testing.T) {
	start := time.Now()
	_, _, err := run(t, strings.NewReader("x"),
		"send", "-c", "xz", "mdns", "nowhere.local", "--port", "9", "--timeout-ms", "3000")
	require.Error(t, err)
	assert.ErrorIs(t, err, qft.ErrCodec)
	assert.ErrorIs(t, err, codec.ErrUnsupported)
	assert.Less(t, time.Since(start), 3*time.Second, "no mDNS query is made")
}
