// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/katzenpost/hpqc/nike"
	nikepem "github.com/katzenpost/hpqc/nike/pem"
	"github.com/katzenpost/hpqc/nike/schemes"
	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/sphinxheader/common"
	"github.com/katzenpost/sphinxheader/config"
	"github.com/katzenpost/sphinxheader/core/log"
	"github.com/katzenpost/sphinxheader/core/sphinx"
	"github.com/katzenpost/sphinxheader/core/sphinx/bundle"
	"github.com/katzenpost/sphinxheader/core/sphinx/constants"
	"github.com/katzenpost/sphinxheader/core/sphinx/geo"
	"github.com/katzenpost/sphinxheader/core/utils"
	"github.com/katzenpost/sphinxheader/internal/profiling"
	"github.com/katzenpost/sphinxheader/relay"
	"github.com/katzenpost/sphinxheader/relay/instrument"
)

// Flag name constants to avoid duplication
const (
	flagGeometry   = "geometry"
	flagPrivateKey = "private-key"
	flagHeader     = "header"
	flagOutput     = "output"

	flagGeometryConfigDescription = "path to TOML geometry file (required)"
)

// Error message constants to avoid duplication
const (
	errFailedToLoadGeometry = "failed to load geometry: %v"
	errFailedToLoadConfig   = "failed to load config file '%v': %v"
	errFailedToResolveNIKE  = "failed to resolve NIKE scheme: %s"
	errBothKeysExist        = "both keys already exist"
	errOneKeyExists         = "one of the keys already exists"
)

const (
	outcomeExt = ".outcome"
	headerExt  = ".header"
)

func resolveNIKE(name string) (nike.Scheme, error) {
	s := schemes.ByName(name)
	if s == nil {
		return nil, fmt.Errorf(errFailedToResolveNIKE, name)
	}
	return s, nil
}

// createGeometry renders the geometry of a header for the named NIKE and
// hop count, writing it to file, or w if file is empty.
func createGeometry(w io.Writer, nikeName string, nrHops int, file string) error {
	scheme, err := resolveNIKE(nikeName)
	if err != nil {
		return err
	}
	if nrHops < 1 {
		return fmt.Errorf("invalid argument: hops must be at least 1, got %d", nrHops)
	}
	g := geo.GeometryFromNrHops(scheme, nrHops)
	if file == "" {
		_, err = fmt.Fprint(w, g.Display())
		return err
	}
	return os.WriteFile(file, []byte(g.Display()), 0600)
}

func loadSphinx(geometryFile string) (*sphinx.Sphinx, error) {
	b, err := os.ReadFile(geometryFile)
	if err != nil {
		return nil, fmt.Errorf(errFailedToLoadGeometry, err)
	}
	g, err := geo.FromTOML(b)
	if err != nil {
		return nil, fmt.Errorf(errFailedToLoadGeometry, err)
	}
	return sphinx.FromGeometry(g)
}

// generateKeypair writes a NIKE keypair to outName.nike_{public,private}.pem.
func generateKeypair(w io.Writer, nikeName, outName string) error {
	if outName == "" {
		return errors.New("invalid argument: out cannot be empty")
	}
	scheme, err := resolveNIKE(nikeName)
	if err != nil {
		return err
	}

	pubout := fmt.Sprintf("%s.nike_public.pem", outName)
	privout := fmt.Sprintf("%s.nike_private.pem", outName)
	switch {
	case utils.BothExists(privout, pubout):
		return errors.New(errBothKeysExist)
	case utils.BothNotExists(privout, pubout):
	default:
		return errors.New(errOneKeyExists)
	}

	pubkey, privkey, err := scheme.GenerateKeyPair()
	if err != nil {
		return err
	}
	if err := nikepem.PublicKeyToFile(pubout, pubkey, scheme); err != nil {
		return err
	}
	if err := nikepem.PrivateKeyToFile(privout, privkey, scheme); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Wrote keypair to %s and %s\n", pubout, privout)
	return err
}

// nodeID returns the hex encoded node identifier of a public key file.
func nodeID(nikeName, keyFile string) (string, error) {
	scheme, err := resolveNIKE(nikeName)
	if err != nil {
		return "", err
	}
	pk, err := nikepem.FromPublicPEMFile(keyFile, scheme)
	if err != nil {
		return "", fmt.Errorf("failed to load public key %s: %w", keyFile, err)
	}
	id := sphinx.NodeIDFromPublicKey(pk)
	return hex.EncodeToString(id[:]), nil
}

// buildPath loads the public key of every hop, in path order.
func buildPath(s *sphinx.Sphinx, keyFiles []string) ([]*sphinx.PathHop, error) {
	if len(keyFiles) == 0 {
		return nil, errors.New("required flag(s) \"hop\" not set")
	}
	keys := make([]nike.PublicKey, 0, len(keyFiles))
	for i, f := range keyFiles {
		pk, err := nikepem.FromPublicPEMFile(f, s.NIKE())
		if err != nil {
			return nil, fmt.Errorf("hop %d: failed to load public key %s: %w", i, f, err)
		}
		keys = append(keys, pk)
	}
	return sphinx.NewPath(keys...), nil
}

func entropySource(seed string) (io.Reader, error) {
	if seed == "" {
		return rand.Reader, nil
	}
	key, err := hex.DecodeString(seed)
	if err != nil {
		return nil, fmt.Errorf("invalid argument: seed: %v", err)
	}
	return rand.NewDeterministicRandReader(key)
}

// newHeader builds a header for the path formed by hopKeyFiles.  The header
// is written to headerFile, and the sender bundle holding the header and
// every hop's shared secret to secretsFile when it is set.
func newHeader(geometryFile string, hopKeyFiles []string, headerFile, secretsFile, seed string) error {
	s, err := loadSphinx(geometryFile)
	if err != nil {
		return err
	}
	path, err := buildPath(s, hopKeyFiles)
	if err != nil {
		return err
	}
	rng, err := entropySource(seed)
	if err != nil {
		return err
	}

	hdr, secrets, err := s.NewHeader(rng, path)
	if err != nil {
		return err
	}
	defer func() {
		for _, secret := range secrets {
			secret.Reset()
		}
	}()

	if err := os.WriteFile(headerFile, hdr, 0600); err != nil {
		return err
	}
	if secretsFile == "" {
		return nil
	}
	b, err := bundle.NewSender(s, hdr, secrets).Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(secretsFile, b, 0600)
}

// processHeader processes a header as the relay owning privateKeyFile would.
// The returned error only reflects failures to read or write files, headers
// that are dropped are reported through the outcome.
func processHeader(geometryFile, privateKeyFile, headerFile, outputHeaderFile, outcomeFile string) (*bundle.Outcome, error) {
	s, err := loadSphinx(geometryFile)
	if err != nil {
		return nil, err
	}
	privKey, err := nikepem.FromPrivatePEMFile(privateKeyFile, s.NIKE())
	if err != nil {
		return nil, fmt.Errorf("failed to load private key %s: %w", privateKeyFile, err)
	}
	raw, err := os.ReadFile(headerFile)
	if err != nil {
		return nil, err
	}

	res, err := s.ProcessHeader(privKey, raw)
	outcome := bundle.NewOutcome(res, err)
	if res != nil {
		res.Reset()
	}

	if outcome.IsForward() && outputHeaderFile != "" {
		if err := os.WriteFile(outputHeaderFile, outcome.Header, 0600); err != nil {
			return nil, err
		}
	}
	if outcomeFile != "" {
		b, err := outcome.Marshal()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(outcomeFile, b, 0600); err != nil {
			return nil, err
		}
	}
	return outcome, nil
}

func printOutcome(w io.Writer, o *bundle.Outcome) {
	fmt.Fprintf(w, "State: %s\n", o.State)
	switch {
	case o.IsForward():
		fmt.Fprintf(w, "Next hop: %x\n", o.NextHop[:])
		fmt.Fprintf(w, "Replay tag: %x\n", o.ReplayTag[:])
	case o.Reason != "":
		fmt.Fprintf(w, "Reason: %s\n", o.Reason)
	default:
		fmt.Fprintf(w, "Replay tag: %x\n", o.ReplayTag[:])
	}
}

// fileSink writes the outcome of every header a relay accepts to a
// directory, one file per header.
type fileSink struct {
	dir string
	log interface {
		Errorf(string, ...interface{})
	}
}

func (f *fileSink) write(pkt *relay.Packet, o *bundle.Outcome) {
	b, err := o.Marshal()
	if err != nil {
		f.log.Errorf("Failed to serialize outcome %v: %v", pkt.ID, err)
		return
	}
	fn := filepath.Join(f.dir, fmt.Sprintf("%d%s", pkt.ID, outcomeExt))
	if err := os.WriteFile(fn, b, 0600); err != nil {
		f.log.Errorf("Failed to write outcome %v: %v", pkt.ID, err)
	}
	if o.IsForward() {
		fn = filepath.Join(f.dir, fmt.Sprintf("%d%s", pkt.ID, headerExt))
		if err := os.WriteFile(fn, o.Header, 0600); err != nil {
			f.log.Errorf("Failed to write header %v: %v", pkt.ID, err)
		}
	}
}

func (f *fileSink) Forward(pkt *relay.Packet, nextHop [constants.NodeIDLength]byte, hdr []byte) {
	f.write(pkt, &bundle.Outcome{
		Version: bundle.Version,
		State:   sphinx.StateForward.String(),
		NextHop: nextHop,
		Header:  hdr,
	})
}

func (f *fileSink) Deliver(pkt *relay.Packet, secret sphinx.SharedSecret) {
	defer secret.Reset()
	f.write(pkt, &bundle.Outcome{
		Version:      bundle.Version,
		State:        sphinx.StateDeliverLocal.String(),
		SharedSecret: secret,
	})
}

// runRelay processes a batch of header files with a relay configured by
// configFile, writing the accepted outcomes to outputDir.
func runRelay(configFile, outputDir string, headerFiles []string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf(errFailedToLoadConfig, configFile, err)
	}
	if cfg.Relay == nil {
		return fmt.Errorf(errFailedToLoadConfig, configFile, "no Relay section")
	}
	if err := os.MkdirAll(cfg.Relay.DataDir, 0700); err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0700); err != nil {
		return err
	}

	logBackend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return err
	}
	mainLog := logBackend.GetLogger("sphinx")
	if err := profiling.Start(mainLog); err != nil {
		mainLog.Warningf("Failed to start profiling: %v", err)
	}

	s, err := cfg.NewSphinx()
	if err != nil {
		return err
	}
	key, err := relay.LoadMixKey(s.NIKE(), cfg.Relay)
	if err != nil {
		return err
	}
	defer key.Close()

	if cfg.Relay.MetricsAddress != "" {
		l := instrument.StartListener(cfg.Relay.MetricsAddress, logBackend.GetLogger("metrics"))
		defer l.Halt()
	}

	sink := &fileSink{
		dir: outputDir,
		log: logBackend.GetLogger("sink"),
	}
	r := relay.New(cfg.Relay, s, key, sink, logBackend)
	defer r.Halt()

	for _, f := range headerFiles {
		raw, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		id, err := r.Submit(raw)
		if err != nil {
			return err
		}
		mainLog.Debugf("Submitted %s as %d", f, id)
	}
	r.Flush()
	return nil
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sphinx",
		Short:         "Sphinx header manipulation tool",
		Long:          "A CLI tool for creating and processing Sphinx mixnet headers.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	var (
		nikeName string
		nrHops   int
		file     string
	)
	geometryCmd := &cobra.Command{
		Use:   "geometry",
		Short: "Generate Sphinx header geometry",
		Long:  "Generate a Sphinx header geometry and write it to a TOML file or stdout.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return createGeometry(cmd.OutOrStdout(), nikeName, nrHops, file)
		},
	}
	geometryCmd.Flags().StringVar(&nikeName, "nike", "x25519", "NIKE scheme name")
	geometryCmd.Flags().IntVar(&nrHops, "hops", 5, "maximum number of hops")
	geometryCmd.Flags().StringVar(&file, "file", "", "output file (default stdout)")

	var keyNIKE, keyOut string
	genkeyCmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate a relay NIKE keypair",
		Long: `Generate a NIKE keypair, written to <out>.nike_public.pem and
<out>.nike_private.pem.  Existing key files are never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return generateKeypair(cmd.OutOrStdout(), keyNIKE, keyOut)
		},
	}
	genkeyCmd.Flags().StringVar(&keyNIKE, "nike", "x25519", "NIKE scheme name")
	genkeyCmd.Flags().StringVar(&keyOut, "out", "out", "output keypair name")

	var idNIKE, idKey string
	nodeIDCmd := &cobra.Command{
		Use:   "nodeid",
		Short: "Print the node ID of a public key file",
		Long: `Print the node identifier derived from a public key PEM file.

Example:
  sphinx nodeid --key node1.nike_public.pem`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := nodeID(idNIKE, idKey)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}
	nodeIDCmd.Flags().StringVar(&idNIKE, "nike", "x25519", "NIKE scheme name")
	nodeIDCmd.Flags().StringVar(&idKey, "key", "", "public key PEM file (required)")
	_ = nodeIDCmd.MarkFlagRequired("key")

	var (
		hdrGeometry string
		hops        []string
		hdrOutput   string
		secrets     string
		seed        string
	)
	newHeaderCmd := &cobra.Command{
		Use:   "newheader",
		Short: "Create a new Sphinx header",
		Long: `Create a new Sphinx header for the path formed by the --hop public
key files, given in order.  The per-hop shared secrets are written to the
--secrets file as a CBOR bundle.

Example:
  sphinx newheader --geometry geometry.toml \
    --hop node1.nike_public.pem \
    --hop node2.nike_public.pem \
    --output header.bin --secrets header.secrets`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newHeader(hdrGeometry, hops, hdrOutput, secrets, seed)
		},
	}
	newHeaderCmd.Flags().StringVar(&hdrGeometry, flagGeometry, "", flagGeometryConfigDescription)
	newHeaderCmd.Flags().StringArrayVar(&hops, "hop", nil, "public key PEM file of a hop (repeatable, in path order)")
	newHeaderCmd.Flags().StringVar(&hdrOutput, flagOutput, "header.bin", "output header file")
	newHeaderCmd.Flags().StringVar(&secrets, "secrets", "", "output shared secrets bundle")
	newHeaderCmd.Flags().StringVar(&seed, "seed", "", "hex encoded 32 byte seed for deterministic headers")
	_ = newHeaderCmd.MarkFlagRequired(flagGeometry)

	var (
		procGeometry string
		privateKey   string
		header       string
		outputHeader string
		outcome      string
	)
	processCmd := &cobra.Command{
		Use:   "process",
		Short: "Process a Sphinx header",
		Long: `Process a Sphinx header with a relay private key, as the relay would,
and report the outcome.

Example:
  sphinx process --geometry geometry.toml --private-key node1.nike_private.pem \
    --header header.bin --output-header next.bin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := processHeader(procGeometry, privateKey, header, outputHeader, outcome)
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), o)
			return nil
		},
	}
	processCmd.Flags().StringVar(&procGeometry, flagGeometry, "", flagGeometryConfigDescription)
	processCmd.Flags().StringVar(&privateKey, flagPrivateKey, "", "private key PEM file (required)")
	processCmd.Flags().StringVar(&header, flagHeader, "", "header file (required)")
	processCmd.Flags().StringVar(&outputHeader, "output-header", "", "output file for the forwarded header")
	processCmd.Flags().StringVar(&outcome, "outcome", "", "output file for the CBOR outcome")
	_ = processCmd.MarkFlagRequired(flagGeometry)
	_ = processCmd.MarkFlagRequired(flagPrivateKey)
	_ = processCmd.MarkFlagRequired(flagHeader)

	var relayConfig, outputDir string
	relayCmd := &cobra.Command{
		Use:   "relay [header files...]",
		Short: "Process a batch of headers with a relay",
		Long: `Start a relay from a configuration file, process the given header
files and write the outcome of every accepted header to the output directory.
Replayed and invalid headers are dropped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(relayConfig, outputDir, args)
		},
	}
	relayCmd.Flags().StringVarP(&relayConfig, "config", "f", "katzenpost.toml", "path to the relay config file")
	relayCmd.Flags().StringVar(&outputDir, "output-dir", "out", "directory receiving the outcomes")

	rootCmd.AddCommand(geometryCmd, genkeyCmd, nodeIDCmd, newHeaderCmd, processCmd, relayCmd)
	return rootCmd
}

func main() {
	if err := common.ExecuteWithFang(context.Background(), newRootCommand()); err != nil {
		os.Exit(1)
	}
}
