// Opaque Daemon - Main entry point for the pool node
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opaque/core/internal/association"
	"github.com/opaque/core/internal/merkle"
	"github.com/opaque/core/internal/p2p"
	"github.com/opaque/core/internal/pool"
	"github.com/opaque/core/internal/rpc"
	"github.com/opaque/core/internal/storage"
	"github.com/opaque/core/internal/vault"
	"github.com/opaque/core/internal/zkproof"
	"github.com/opaque/core/pkg/types"
)

const (
	version = "0.1.0"
	banner  = `
   ___  _ __   __ _  __ _ _   _  ___
  / _ \| '_ \ / _' |/ _' | | | |/ _ \
 | (_) | |_) | (_| | (_| | |_| |  __/
  \___/| .__/ \__,_|\__, |\__,_|\___|
       |_|             |_|
  Opaque Daemon v%s
  Privacy Pool Node
`
)

// Config holds node configuration
type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Network
	ListenAddr string
	RPCAddr    string
	Bootstrap  string
	NoP2P      bool

	// Pool
	TreeDepth int
	Authority string
}

func main() {
	// Parse flags
	cfg := parseFlags()

	// Print banner
	fmt.Printf(banner, version)

	// Initialize context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	// Initialize components
	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() *Config {
	cfg := &Config{}

	// Database flags
	flag.StringVar(&cfg.DBHost, "db-host", "localhost", "PostgreSQL host")
	flag.IntVar(&cfg.DBPort, "db-port", 5432, "PostgreSQL port")
	flag.StringVar(&cfg.DBUser, "db-user", "opaque", "PostgreSQL user")
	flag.StringVar(&cfg.DBPassword, "db-password", "", "PostgreSQL password")
	flag.StringVar(&cfg.DBName, "db-name", "opaque", "PostgreSQL database name")

	// Network flags
	flag.StringVar(&cfg.ListenAddr, "listen", "/ip4/0.0.0.0/tcp/9000", "P2P listen address")
	flag.StringVar(&cfg.RPCAddr, "rpc", "127.0.0.1:9001", "RPC server address")
	flag.StringVar(&cfg.Bootstrap, "bootstrap", "", "Bootstrap peer multiaddress")
	flag.BoolVar(&cfg.NoP2P, "no-p2p", false, "Disable the gossip layer")

	// Pool flags
	flag.IntVar(&cfg.TreeDepth, "tree-depth", types.DefaultStateDepth, "State tree depth")
	flag.StringVar(&cfg.Authority, "authority", "", "Association set authority address (hex)")

	flag.Parse()

	return cfg
}

func run(ctx context.Context, cfg *Config) error {
	fmt.Println("Initializing Opaque node...")

	authority := types.Address{}
	if cfg.Authority != "" {
		var err error
		authority, err = types.AddressFromHex(cfg.Authority)
		if err != nil {
			return fmt.Errorf("invalid authority address: %w", err)
		}
	}

	// Initialize database
	fmt.Println("Connecting to database...")
	dbConfig := &storage.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  "disable",
		MaxConns: 20,
	}

	store, err := storage.NewPostgresStore(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer store.Close()

	if err := store.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	fmt.Println("Database connected.")

	// Initialize the commitment tree
	fmt.Println("Initializing state tree...")
	tree, err := merkle.NewTree(store.TreeStore(storage.StateTreeName), cfg.TreeDepth)
	if err != nil {
		return fmt.Errorf("failed to create state tree: %w", err)
	}
	if err := tree.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize state tree: %w", err)
	}
	fmt.Printf("State tree ready. Depth: %d, Leaves: %d\n", tree.Depth(), tree.Size())

	// Initialize the association set
	associations, err := association.NewSet(
		authority,
		store.TreeStore(storage.AssociationTreeName),
		store.AssociationRootStore(),
		types.DefaultAssociationDepth,
	)
	if err != nil {
		return fmt.Errorf("failed to create association set: %w", err)
	}
	if err := associations.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize association set: %w", err)
	}

	// Initialize the vault
	poolVault := vault.New(store.BalanceStore())
	if err := poolVault.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize vault: %w", err)
	}
	fmt.Printf("Vault balance: %d\n", poolVault.Balance())

	// Compile the withdrawal circuit and run the proving setup
	fmt.Println("Running Groth16 setup (this takes a while)...")
	prover := zkproof.NewManager(cfg.TreeDepth)
	if err := prover.Setup(); err != nil {
		return fmt.Errorf("failed to set up proving system: %w", err)
	}
	fmt.Println("Proving system ready.")

	// Assemble the pool
	nullifiers := pool.NewNullifierSet(store.NullifierStore())
	p := pool.New(tree, associations, nullifiers, poolVault, prover, pool.DefaultConfig())

	// Start the gossip layer
	var broadcaster rpc.Broadcaster
	if !cfg.NoP2P {
		p2pConfig := p2p.DefaultConfig()
		p2pConfig.ListenAddrs = []string{cfg.ListenAddr}
		if cfg.Bootstrap != "" {
			p2pConfig.BootstrapPeers = []string{cfg.Bootstrap}
		}

		node, err := p2p.NewNode(ctx, p2pConfig)
		if err != nil {
			return fmt.Errorf("failed to start p2p node: %w", err)
		}
		defer node.Close()

		// Log events observed from peers; local state only changes
		// through the validated RPC surface.
		node.SetDepositHandler(p2p.DepositHandler(func(_ context.Context, event *types.DepositEvent) error {
			fmt.Printf("Peer deposit: leaf %d commitment %s\n", event.LeafIndex, event.Commitment.Hex())
			return nil
		}))
		node.SetWithdrawHandler(p2p.WithdrawHandler(func(_ context.Context, event *types.WithdrawEvent) error {
			fmt.Printf("Peer withdrawal: nullifier %s value %d\n", event.NullifierHash.Hex(), event.Value)
			return nil
		}))
		node.SetAssociationHandler(p2p.AssociationRootHandler(func(_ context.Context, root types.Hash) error {
			fmt.Printf("Peer association root: %s\n", root.Hex())
			return nil
		}))

		node.Start()
		broadcaster = node
		fmt.Printf("P2P node started. ID: %s\n", node.ID())
	}

	// Start the RPC server
	server := rpc.NewServer(cfg.RPCAddr, p, broadcaster)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()
	fmt.Printf("RPC server listening on %s\n", cfg.RPCAddr)

	fmt.Println("Opaque node started successfully!")
	fmt.Println("Press Ctrl+C to stop.")

	// Wait for shutdown
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("rpc server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		fmt.Printf("Warning: server shutdown: %v\n", err)
	}

	fmt.Println("Node stopped.")
	return nil
}
