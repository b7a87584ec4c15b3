// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/sphinxheader/core/sphinx"
	"github.com/katzenpost/sphinxheader/core/sphinx/bundle"
	"github.com/katzenpost/sphinxheader/core/sphinx/geo"
)

const testSeed = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func writeGeometry(t *testing.T, dir string, nrHops int) string {
	f := filepath.Join(dir, "geometry.toml")
	require.NoError(t, createGeometry(nil, "x25519", nrHops, f))
	return f
}

func genNodes(t *testing.T, dir string, n int) []string {
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name := filepath.Join(dir, fmt.Sprintf("node%d", i))
		require.NoError(t, generateKeypair(&bytes.Buffer{}, "x25519", name))
		names = append(names, name)
	}
	return names
}

func TestCreateGeometry(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	require.NoError(createGeometry(&buf, "x25519", 3, ""))
	g, err := geo.FromTOML(buf.Bytes())
	require.NoError(err)
	require.Equal(3, g.NrHops)
	require.Equal(32+3*65+32, g.HeaderLength)

	f := writeGeometry(t, t.TempDir(), 5)
	s, err := loadSphinx(f)
	require.NoError(err)
	require.Equal(5, s.Geometry().NrHops)

	require.Error(createGeometry(&buf, "NoSuchNIKE", 3, ""))
	err = createGeometry(&buf, "x25519", 0, "")
	require.Error(err)
	require.Contains(err.Error(), "invalid argument")
}

func TestLoadSphinxErrors(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	_, err := loadSphinx(filepath.Join(dir, "missing.toml"))
	require.Error(err)
	require.True(strings.HasPrefix(err.Error(), "failed to load geometry"))

	bogus := filepath.Join(dir, "bogus.toml")
	require.NoError(os.WriteFile(bogus, []byte("NrHops = 3\nHeaderLength = 1\nNIKEName = \"x25519\"\n"), 0600))
	_, err = loadSphinx(bogus)
	require.Error(err)
	require.Contains(err.Error(), "inconsistent geometry")
}

func TestGenerateKeypair(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	name := filepath.Join(dir, "relay")

	var buf bytes.Buffer
	require.NoError(generateKeypair(&buf, "x25519", name))
	require.Contains(buf.String(), "relay.nike_public.pem")
	require.FileExists(name + ".nike_public.pem")
	require.FileExists(name + ".nike_private.pem")

	err := generateKeypair(&buf, "x25519", name)
	require.EqualError(err, errBothKeysExist)

	require.NoError(os.Remove(name + ".nike_private.pem"))
	err = generateKeypair(&buf, "x25519", name)
	require.EqualError(err, errOneKeyExists)

	require.Error(generateKeypair(&buf, "x25519", ""))
	require.Error(generateKeypair(&buf, "NoSuchNIKE", filepath.Join(dir, "other")))
}

func TestNodeID(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	nodes := genNodes(t, dir, 2)

	id0, err := nodeID("x25519", nodes[0]+".nike_public.pem")
	require.NoError(err)
	require.Len(id0, 64)

	again, err := nodeID("x25519", nodes[0]+".nike_public.pem")
	require.NoError(err)
	require.Equal(id0, again)

	id1, err := nodeID("x25519", nodes[1]+".nike_public.pem")
	require.NoError(err)
	require.NotEqual(id0, id1)

	_, err = nodeID("x25519", filepath.Join(dir, "missing.pem"))
	require.Error(err)
	_, err = nodeID("x448", nodes[0]+".nike_public.pem")
	require.Error(err)
}

func TestHeaderRoundTrip(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	geometry := writeGeometry(t, dir, 5)
	nodes := genNodes(t, dir, 3)

	hops := make([]string, 0, len(nodes))
	for _, n := range nodes {
		hops = append(hops, n+".nike_public.pem")
	}
	hdrFile := filepath.Join(dir, "header.bin")
	secretsFile := filepath.Join(dir, "header.secrets")
	require.NoError(newHeader(geometry, hops, hdrFile, secretsFile, ""))

	raw, err := os.ReadFile(secretsFile)
	require.NoError(err)
	var sender bundle.Sender
	require.NoError(sender.Unmarshal(raw))
	require.Equal("x25519", sender.NIKE)
	require.Len(sender.Secrets, 3)

	hdr, err := os.ReadFile(hdrFile)
	require.NoError(err)
	require.Equal(sender.Header, hdr)

	for i, n := range nodes {
		next := filepath.Join(dir, fmt.Sprintf("header%d.bin", i+1))
		outcomeFile := filepath.Join(dir, fmt.Sprintf("outcome%d", i))
		o, err := processHeader(geometry, n+".nike_private.pem", hdrFile, next, outcomeFile)
		require.NoError(err)

		raw, err := os.ReadFile(outcomeFile)
		require.NoError(err)
		var stored bundle.Outcome
		require.NoError(stored.Unmarshal(raw))
		require.Equal(o.State, stored.State)

		if i < len(nodes)-1 {
			require.Equal(sphinx.StateForward.String(), o.State)
			wantID, err := nodeID("x25519", nodes[i+1]+".nike_public.pem")
			require.NoError(err)
			require.Equal(wantID, fmt.Sprintf("%x", o.NextHop[:]))
			require.FileExists(next)
			hdrFile = next
			continue
		}
		require.Equal(sphinx.StateDeliverLocal.String(), o.State)
		require.Equal(sender.Secrets[i], stored.SharedSecret)
		require.NoFileExists(next)

		var buf bytes.Buffer
		printOutcome(&buf, o)
		require.Contains(buf.String(), "DELIVER_LOCAL")
	}
}

func TestNewHeaderDeterministic(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	geometry := writeGeometry(t, dir, 3)
	nodes := genNodes(t, dir, 2)
	hops := []string{nodes[0] + ".nike_public.pem", nodes[1] + ".nike_public.pem"}

	a := filepath.Join(dir, "a.bin")
	b := filepath.Join(dir, "b.bin")
	require.NoError(newHeader(geometry, hops, a, "", testSeed))
	require.NoError(newHeader(geometry, hops, b, "", testSeed))
	rawA, err := os.ReadFile(a)
	require.NoError(err)
	rawB, err := os.ReadFile(b)
	require.NoError(err)
	require.Equal(rawA, rawB)

	require.Error(newHeader(geometry, hops, a, "", "not hex"))
}

func TestNewHeaderErrors(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	geometry := writeGeometry(t, dir, 2)
	nodes := genNodes(t, dir, 3)
	out := filepath.Join(dir, "header.bin")

	require.Error(newHeader(geometry, nil, out, "", ""))
	require.Error(newHeader(geometry, []string{filepath.Join(dir, "missing.pem")}, out, "", ""))

	hops := []string{
		nodes[0] + ".nike_public.pem",
		nodes[1] + ".nike_public.pem",
		nodes[2] + ".nike_public.pem",
	}
	err := newHeader(geometry, hops, out, "", "")
	require.ErrorIs(err, sphinx.ErrCapacityExceeded)
	require.NoFileExists(out)
}

func TestProcessDropped(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	geometry := writeGeometry(t, dir, 3)
	nodes := genNodes(t, dir, 2)

	hdrFile := filepath.Join(dir, "header.bin")
	require.NoError(newHeader(geometry, []string{nodes[0] + ".nike_public.pem"}, hdrFile, "", ""))

	// Processed by the wrong relay.
	o, err := processHeader(geometry, nodes[1]+".nike_private.pem", hdrFile, "", "")
	require.NoError(err)
	require.Equal(sphinx.StateDroppedBadTag.String(), o.State)
	require.Equal(sphinx.ErrAuthenticationFailure.Error(), o.Reason)

	var buf bytes.Buffer
	printOutcome(&buf, o)
	require.Contains(buf.String(), "Reason:")

	truncated := filepath.Join(dir, "truncated.bin")
	require.NoError(os.WriteFile(truncated, []byte{1, 2, 3}, 0600))
	o, err = processHeader(geometry, nodes[0]+".nike_private.pem", truncated, "", "")
	require.NoError(err)
	require.Equal(sphinx.StateDroppedBadKey.String(), o.State)

	_, err = processHeader(geometry, nodes[0]+".nike_private.pem", filepath.Join(dir, "missing.bin"), "", "")
	require.Error(err)
}

func TestRunRelay(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	outDir := filepath.Join(dir, "out")
	require.NoError(os.MkdirAll(dataDir, 0700))

	relayName := filepath.Join(dataDir, "relay")
	require.NoError(generateKeypair(&bytes.Buffer{}, "x25519", relayName))
	other := genNodes(t, dir, 1)[0]

	cfgFile := filepath.Join(dir, "relay.toml")
	cfg := fmt.Sprintf(`[Logging]
  Disable = true
  Level = "DEBUG"

[Sphinx]
  NIKE = "x25519"
  NrHops = 3

[Relay]
  Identifier = "relay.example.org"
  DataDir = %q
  PrivateKeyFile = "relay.nike_private.pem"
  PublicKeyFile = "relay.nike_public.pem"
  NumWorkers = 2
  ReplayFilterSize = 12
  ReplayDB = "replay.db"
`, dataDir)
	require.NoError(os.WriteFile(cfgFile, []byte(cfg), 0600))
	geometry := writeGeometry(t, dir, 3)

	forward := filepath.Join(dir, "forward.bin")
	require.NoError(newHeader(geometry, []string{relayName + ".nike_public.pem", other + ".nike_public.pem"}, forward, "", ""))
	deliver := filepath.Join(dir, "deliver.bin")
	deliverSecrets := filepath.Join(dir, "deliver.secrets")
	require.NoError(newHeader(geometry, []string{relayName + ".nike_public.pem"}, deliver, deliverSecrets, ""))
	garbage := filepath.Join(dir, "garbage.bin")
	require.NoError(os.WriteFile(garbage, bytes.Repeat([]byte{0xa5}, 32+3*65+32), 0600))

	// The second copy of the forward header is a replay.
	require.NoError(runRelay(cfgFile, outDir, []string{forward, forward, deliver, garbage}))

	outcomes, err := filepath.Glob(filepath.Join(outDir, "*"+outcomeExt))
	require.NoError(err)
	require.Len(outcomes, 2)
	headers, err := filepath.Glob(filepath.Join(outDir, "*"+headerExt))
	require.NoError(err)
	require.Len(headers, 1)

	raw, err := os.ReadFile(deliverSecrets)
	require.NoError(err)
	var sender bundle.Sender
	require.NoError(sender.Unmarshal(raw))

	states := make(map[string]*bundle.Outcome)
	for _, f := range outcomes {
		raw, err := os.ReadFile(f)
		require.NoError(err)
		o := new(bundle.Outcome)
		require.NoError(o.Unmarshal(raw))
		states[o.State] = o
	}
	require.Contains(states, sphinx.StateForward.String())
	require.Contains(states, sphinx.StateDeliverLocal.String())
	require.Equal(sender.Secrets[0], states[sphinx.StateDeliverLocal.String()].SharedSecret)

	// The replay database survives a restart.
	outDir2 := filepath.Join(dir, "out2")
	require.NoError(runRelay(cfgFile, outDir2, []string{forward}))
	outcomes, err = filepath.Glob(filepath.Join(outDir2, "*"+outcomeExt))
	require.NoError(err)
	require.Empty(outcomes)
}

func TestRunRelayBadConfig(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	err := runRelay(filepath.Join(dir, "missing.toml"), dir, []string{"x"})
	require.Error(err)
	require.Contains(err.Error(), "failed to load config file")

	cfgFile := filepath.Join(dir, "norelay.toml")
	require.NoError(os.WriteFile(cfgFile, []byte("[Sphinx]\n  NrHops = 3\n"), 0600))
	err = runRelay(cfgFile, dir, []string{"x"})
	require.Error(err)
	require.Contains(err.Error(), "no Relay section")
}

func TestRootCommand(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"geometry", "--hops", "2"})
	require.NoError(cmd.Execute())
	g, err := geo.FromTOML(buf.Bytes())
	require.NoError(err)
	require.Equal(2, g.NrHops)

	nodes := genNodes(t, dir, 1)
	buf.Reset()
	cmd = newRootCommand()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"nodeid", "--key", nodes[0] + ".nike_public.pem"})
	require.NoError(cmd.Execute())
	require.Len(strings.TrimSpace(buf.String()), 64)

	cmd = newRootCommand()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"process"})
	err = cmd.Execute()
	require.Error(err)
	require.Contains(err.Error(), "required flag")
}
