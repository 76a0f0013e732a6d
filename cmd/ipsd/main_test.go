// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/ipsd/internal/config"
	"grimm.is/ipsd/internal/errors"
	"grimm.is/ipsd/internal/testutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ipsd.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRun_ListModes(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(options{listModes: true, replay: "unused.pcap"}, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "auto "))
	assert.Contains(t, lines[1], "autofp")
	assert.Contains(t, lines[1], "(default)")
	assert.Contains(t, lines[2], "workers")
}

func TestRun_DumpConfig(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(options{dumpConfig: true, mode: "workers", cpus: 2}, &out))

	cfg, err := config.LoadHCL(out.Bytes(), "dump.hcl")
	require.NoError(t, err)
	assert.Equal(t, "workers", cfg.RunMode)
	assert.Equal(t, 2, cfg.CPUCount)
}

func TestRun_UnknownMode(t *testing.T) {
	err := run(options{mode: "turbo", replay: "unused.pcap"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestRun_BadConfig(t *testing.T) {
	err := run(options{configPath: writeConfig(t, `cpu_count = -3`)}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestRun_Replay(t *testing.T) {
	capture := testutil.WritePcap(t,
		testutil.TCPPacket(t, "10.0.0.1", "10.0.0.2", 40000, 80, testutil.TCPFlags{SYN: true}, nil),
		testutil.TCPPacket(t, "10.0.0.1", "10.0.0.2", 40000, 80, testutil.TCPFlags{ACK: true, PSH: true}, []byte("run /bin/sh")),
		testutil.UDPPacket(t, "10.0.0.1", "10.0.0.53", 5353, 53, []byte("q")),
	)
	cfgPath := writeConfig(t, `
log_level = "error"

rule "1001" {
  msg     = "shell"
  action  = "drop"
  content = "/bin/sh"
}
`)

	for _, mode := range []string{"auto", "autofp", "workers"} {
		t.Run(mode, func(t *testing.T) {
			require.NoError(t, run(options{configPath: cfgPath, mode: mode, replay: capture, cpus: 2}, &bytes.Buffer{}))
		})
	}
}
