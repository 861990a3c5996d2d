package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofiworker/gdivert/gcodec"
	"github.com/sofiworker/gdivert/gnet/pcap"
)

const (
	tcpHex = "45000051476040008006f005c0a856a936f274fdd84201bb0876cfd0c19f9320501800ff8dba000017030300240000000000000c2f53831a37ed3c3a632f47440594cab95283b558bf82cb7784344c3314"
	udpHex = "4500004281bf000040112191c0a82b09c0a82b01c9dd0035002ef268528e01000001000000000000013801380138013807696e2d61646472046172706100000c0001"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writePcap(t *testing.T, path string, hexes ...string) {
	t.Helper()
	w, err := pcap.CreateFile(path, pcap.WithLinkType(pcap.LinkTypeRaw))
	require.NoError(t, err)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, h := range hexes {
		require.NoError(t, w.WritePacketData(gcodec.MustParseHex(h), ts))
	}
	require.NoError(t, w.Close())
}

func countPcap(t *testing.T, path string) int {
	t.Helper()
	r, closeFn, err := pcap.OpenFile(path)
	require.NoError(t, err)
	defer closeFn()
	n := 0
	for {
		_, err := r.ReadPacket()
		if err == io.EOF {
			return n
		}
		require.NoError(t, err)
		n++
	}
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	in, out := filepath.Join(dir, "in.pcap"), filepath.Join(dir, "out.pcap")
	writePcap(t, in, tcpHex, udpHex)

	cfgPath := filepath.Join(dir, "gdivert.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log:\n  level: error\n  stdout: false\n"), 0o644))

	stdout, err := execute(t, "run", "-c", cfgPath, "--input", in, "--output", out, "--protocol", "tcp", "--recalculate")
	require.NoError(t, err)
	assert.Contains(t, stdout, "received=1 accepted=1 dropped=0 reinjected=1 bytes=81 errors=0")
	assert.Contains(t, stdout, "TCP 192.168.86.169:55362 -> 54.242.116.253:443 packets=1/0 bytes=81")
	assert.Equal(t, 2, countPcap(t, out), "non-matching UDP passes through")
}

func TestRunCommandInvalidFlags(t *testing.T) {
	_, err := execute(t, "run", "--input", "in.pcap", "--flags", "SNIFF|DROP")
	assert.Error(t, err)

	_, err = execute(t, "run", "--source", "pcap")
	assert.Error(t, err, "pcap source needs an input")
}

func TestConfigCommand(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "gdivert.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("input: in.pcap\nprotocols: [udp]\n"), 0o644))

	stdout, err := execute(t, "config", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "source: pcap")
	assert.Contains(t, stdout, "input: in.pcap")
	assert.Contains(t, stdout, "- udp")

	stdout, err = execute(t, "config", "-c", cfgPath, "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"input": "in.pcap"`)
	assert.Contains(t, stdout, `"protocols": [`)

	_, err = execute(t, "config", "-c", cfgPath, "--format", "toml")
	assert.Error(t, err)
}
