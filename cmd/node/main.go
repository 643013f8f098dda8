// Command node runs a single raiproto account-chain node: it reads its
// configuration from flags, wires the in-memory reference ledger and its
// collaborators, and serves the node facade until interrupted.
//
// Grounded on the teacher's cmd/consensus/main.go layout: a package-level
// rootCmd with subcommand-builder functions added in main, generalized
// here from a one-shot parameter-tooling CLI to a long-running node
// process with start/genesis/version subcommands.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/raiproto/node/config"
	"github.com/raiproto/node/internal/ledgerstub"
	"github.com/raiproto/node/internal/powstub"
	"github.com/raiproto/node/internal/walletstub"
	"github.com/raiproto/node/ledgerid"
	nodepkg "github.com/raiproto/node/node"
)

// version is set at build time via -ldflags; "dev" otherwise.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "node",
	Short: "raiproto account-chain node",
	Long: `node runs a single account-chain participant: it gossips published
blocks, votes as a representative when configured to, serves other
nodes' bootstrap requests, and answers its own gaps by bootstrapping
from the peer that sent the orphaned block.`,
}

func main() {
	rootCmd.AddCommand(startCmd(), genesisCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var (
		listen         string
		network        string
		genesisAccount string
		genesisBalance uint64
		represent      bool
		peers          []string
		powBits        int
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the node until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(listen, network, genesisAccount, genesisBalance, represent, peers)
			if err != nil {
				return err
			}

			logger := log.NewLogger("node")

			ledg := ledgerstub.NewLedger(cfg.GenesisAccount, cfg.GenesisBalance)
			wlt := walletstub.New()
			if cfg.IsRepresentative() {
				addr, err := wlt.GenerateRepresentative()
				if err != nil {
					return fmt.Errorf("generate representative key: %w", err)
				}
				logger.Info("voting as representative", "address", addr.String())
			}

			n, err := nodepkg.New(cfg, ledg, ledgerstub.Codec{}, powstub.New(powBits), wlt, logger, prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := n.Start(ctx); err != nil {
				return err
			}
			logger.Info("node running", "listen", cfg.ListenAddr.String(), "network", cfg.Network)

			<-ctx.Done()
			logger.Info("shutting down")
			return n.Stop()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "UDP/TCP listen address, e.g. 0.0.0.0:7075 (required)")
	cmd.Flags().StringVar(&network, "network", "test", "network: test or live")
	cmd.Flags().StringVar(&genesisAccount, "genesis-account", "", "hex-encoded genesis account address (required)")
	cmd.Flags().Uint64Var(&genesisBalance, "genesis-balance", 0, "genesis account balance (required, > 0)")
	cmd.Flags().BoolVar(&represent, "represent", false, "generate a representative key and vote in elections")
	cmd.Flags().StringSliceVar(&peers, "peer", nil, "bootstrap peer address, may be repeated")
	cmd.Flags().IntVar(&powBits, "pow-bits", 8, "required leading zero bits for the reference proof-of-work check")

	return cmd
}

func genesisCmd() *cobra.Command {
	var genesisAccount string
	var genesisBalance uint64

	cmd := &cobra.Command{
		Use:   "genesis",
		Short: "Print the identity of the genesis open block built from the given flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := parseAddress(genesisAccount)
			if err != nil {
				return err
			}
			if genesisBalance == 0 {
				return fmt.Errorf("--genesis-balance must be greater than zero")
			}
			blk := ledgerstub.NewOpen(account, account, ledgerid.BlockHash{}, genesisBalance)
			fmt.Printf("account:  %s\n", account.String())
			fmt.Printf("balance:  %d\n", genesisBalance)
			fmt.Printf("hash:     %s\n", blk.Hash().String())
			fmt.Printf("root:     %s\n", blk.Root().String())
			return nil
		},
	}

	cmd.Flags().StringVar(&genesisAccount, "genesis-account", "", "hex-encoded genesis account address (required)")
	cmd.Flags().Uint64Var(&genesisBalance, "genesis-balance", 0, "genesis account balance (required, > 0)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the node's build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func buildConfig(listen, network, genesisAccount string, genesisBalance uint64, represent bool, peers []string) (config.Config, error) {
	var cfg config.Config
	switch network {
	case "live":
		cfg = config.Mainnet()
	case "test", "":
		cfg = config.Testnet()
	default:
		return config.Config{}, fmt.Errorf("unknown --network %q (want test or live)", network)
	}

	addr, err := parseEndpoint(listen)
	if err != nil {
		return config.Config{}, fmt.Errorf("--listen: %w", err)
	}
	cfg.ListenAddr = addr

	account, err := parseAddress(genesisAccount)
	if err != nil {
		return config.Config{}, fmt.Errorf("--genesis-account: %w", err)
	}
	cfg.GenesisAccount = account
	cfg.GenesisBalance = genesisBalance

	if represent {
		cfg.RepresentativeKeyRef = "local"
	}

	for _, raw := range peers {
		ep, err := parseEndpoint(raw)
		if err != nil {
			return config.Config{}, fmt.Errorf("--peer %q: %w", raw, err)
		}
		cfg.BootstrapPeers = append(cfg.BootstrapPeers, ep)
	}

	if err := cfg.Valid(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func parseEndpoint(raw string) (ledgerid.Endpoint, error) {
	host, portStr, err := splitHostPort(raw)
	if err != nil {
		return ledgerid.Endpoint{}, err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return ledgerid.Endpoint{}, fmt.Errorf("invalid address %q: %w", host, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return ledgerid.Endpoint{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return ledgerid.Endpoint{Addr: addr, Port: uint16(port)}, nil
}

func splitHostPort(raw string) (host, port string, err error) {
	idx := strings.LastIndex(raw, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("expected host:port, got %q", raw)
	}
	return raw[:idx], raw[idx+1:], nil
}

func parseAddress(raw string) (ledgerid.Address, error) {
	raw = strings.TrimPrefix(raw, "0x")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return ledgerid.Address{}, fmt.Errorf("invalid hex address %q: %w", raw, err)
	}
	if len(b) != ledgerid.AddressLen {
		return ledgerid.Address{}, fmt.Errorf("address must be %d bytes, got %d", ledgerid.AddressLen, len(b))
	}
	var addr ledgerid.Address
	copy(addr[:], b)
	return addr, nil
}
