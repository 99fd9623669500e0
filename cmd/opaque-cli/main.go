// Opaque CLI - Command-line interface for interacting with a pool node
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/opaque/core/internal/note"
)

const (
	version = "0.1.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "version":
		fmt.Printf("Opaque CLI v%s\n", version)

	case "help":
		printUsage()

	case "status":
		cmdStatus(os.Args[2:])

	case "note":
		if len(os.Args) < 3 {
			fmt.Println("Usage: opaque-cli note <subcommand>")
			fmt.Println("Subcommands: new, show")
			os.Exit(1)
		}
		cmdNote(os.Args[2:])

	case "deposit":
		cmdDeposit(os.Args[2:])

	case "withdraw":
		cmdWithdraw(os.Args[2:])

	case "root":
		cmdRoot(os.Args[2:])

	case "commitments":
		cmdCommitments(os.Args[2:])

	case "nullifiers":
		cmdNullifiers(os.Args[2:])

	case "association":
		if len(os.Args) < 3 {
			fmt.Println("Usage: opaque-cli association <subcommand>")
			fmt.Println("Subcommands: get, set")
			os.Exit(1)
		}
		cmdAssociation(os.Args[2:])

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Opaque CLI - Command-line interface for a pool node")
	fmt.Println()
	fmt.Println("Usage: opaque-cli <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  version      Show version information")
	fmt.Println("  help         Show this help message")
	fmt.Println("  status       Show node status")
	fmt.Println("  note         Note operations (new, show)")
	fmt.Println("  deposit      Deposit a note's commitment into the pool")
	fmt.Println("  withdraw     Submit a withdrawal proof")
	fmt.Println("  root         Show the current state tree root")
	fmt.Println("  commitments  List deposited commitments")
	fmt.Println("  nullifiers   List consumed nullifiers")
	fmt.Println("  association  Association root operations (get, set)")
	fmt.Println()
	fmt.Println("All node commands accept -rpc <addr> (default 127.0.0.1:9001).")
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	rpcAddr := fs.String("rpc", "127.0.0.1:9001", "RPC server address")
	fs.Parse(args)

	var status struct {
		Size        uint64 `json:"size"`
		Depth       int    `json:"depth"`
		Balance     uint64 `json:"balance"`
		FixedAmount uint64 `json:"fixedAmount"`
	}
	if err := getJSON(*rpcAddr, "/v1/status", &status); err != nil {
		fatal(err)
	}

	fmt.Println("Node Status:")
	fmt.Printf("  Deposits: %d\n", status.Size)
	fmt.Printf("  Tree depth: %d\n", status.Depth)
	fmt.Printf("  Vault balance: %d\n", status.Balance)
	fmt.Printf("  Deposit amount: %d\n", status.FixedAmount)
}

func cmdNote(args []string) {
	switch args[0] {
	case "new":
		fs := flag.NewFlagSet("note new", flag.ExitOnError)
		scope := fs.String("scope", "", "Pool scope identifier")
		nonce := fs.Uint64("nonce", 0, "Label nonce within the scope")
		fs.Parse(args[1:])

		if *scope == "" {
			fmt.Println("Usage: opaque-cli note new -scope <scope> -nonce <n>")
			os.Exit(1)
		}

		label := note.GenerateLabel(*scope, *nonce)
		n, err := note.New(label)
		if err != nil {
			fatal(err)
		}
		commitment, err := note.Commitment(n)
		if err != nil {
			fatal(err)
		}

		fmt.Println("Note created. Store the note string somewhere safe;")
		fmt.Println("it is the only way to spend the deposit.")
		fmt.Println()
		fmt.Printf("  Note:       %s\n", note.EncodeString(n, 0))
		fmt.Printf("  Commitment: %s\n", commitment.Hex())

	case "show":
		fs := flag.NewFlagSet("note show", flag.ExitOnError)
		noteStr := fs.String("note", "", "Note backup string")
		fs.Parse(args[1:])

		n, leafIndex, err := note.DecodeString(*noteStr)
		if err != nil {
			fatal(err)
		}
		commitment, err := note.Commitment(n)
		if err != nil {
			fatal(err)
		}
		nullifierHash, err := note.NullifierHash(n)
		if err != nil {
			fatal(err)
		}

		fmt.Println("Note:")
		fmt.Printf("  Value:          %d\n", n.Value)
		fmt.Printf("  Leaf index:     %d\n", leafIndex)
		fmt.Printf("  Commitment:     %s\n", commitment.Hex())
		fmt.Printf("  Nullifier hash: %s\n", nullifierHash.Hex())

	default:
		fmt.Printf("Unknown note command: %s\n", args[0])
	}
}

func cmdDeposit(args []string) {
	fs := flag.NewFlagSet("deposit", flag.ExitOnError)
	rpcAddr := fs.String("rpc", "127.0.0.1:9001", "RPC server address")
	noteStr := fs.String("note", "", "Note backup string")
	from := fs.String("from", "", "Depositor address (hex)")
	fs.Parse(args)

	if *noteStr == "" || *from == "" {
		fmt.Println("Usage: opaque-cli deposit -note <note> -from <address>")
		os.Exit(1)
	}

	n, _, err := note.DecodeString(*noteStr)
	if err != nil {
		fatal(err)
	}
	commitment, err := note.Commitment(n)
	if err != nil {
		fatal(err)
	}

	req := map[string]string{
		"depositor":  *from,
		"commitment": commitment.Hex(),
	}
	var resp struct {
		LeafIndex uint32 `json:"leafIndex"`
		Root      string `json:"root"`
	}
	if err := postJSON(*rpcAddr, "/v1/deposit", req, &resp); err != nil {
		fatal(err)
	}

	fmt.Println("Deposit accepted.")
	fmt.Printf("  Leaf index: %d\n", resp.LeafIndex)
	fmt.Printf("  New root:   %s\n", resp.Root)
	fmt.Println()
	fmt.Println("Updated note string (records the leaf index):")
	fmt.Printf("  %s\n", note.EncodeString(n, resp.LeafIndex))
}

func cmdWithdraw(args []string) {
	fs := flag.NewFlagSet("withdraw", flag.ExitOnError)
	rpcAddr := fs.String("rpc", "127.0.0.1:9001", "RPC server address")
	recipient := fs.String("recipient", "", "Recipient address (hex)")
	proof := fs.String("proof", "", "Serialized proof (hex)")
	signals := fs.String("signals", "", "Serialized public signals (hex)")
	fs.Parse(args)

	if *recipient == "" || *proof == "" || *signals == "" {
		fmt.Println("Usage: opaque-cli withdraw -recipient <address> -proof <hex> -signals <hex>")
		os.Exit(1)
	}

	req := map[string]string{
		"recipient": *recipient,
		"proof":     *proof,
		"signals":   *signals,
	}
	var resp struct {
		NullifierHash string `json:"nullifierHash"`
		Value         uint64 `json:"value"`
	}
	if err := postJSON(*rpcAddr, "/v1/withdraw", req, &resp); err != nil {
		fatal(err)
	}

	fmt.Println("Withdrawal accepted.")
	fmt.Printf("  Nullifier hash: %s\n", resp.NullifierHash)
	fmt.Printf("  Value:          %d\n", resp.Value)
}

func cmdRoot(args []string) {
	fs := flag.NewFlagSet("root", flag.ExitOnError)
	rpcAddr := fs.String("rpc", "127.0.0.1:9001", "RPC server address")
	fs.Parse(args)

	var resp struct {
		Root string `json:"root"`
		Size uint64 `json:"size"`
	}
	if err := getJSON(*rpcAddr, "/v1/root", &resp); err != nil {
		fatal(err)
	}
	fmt.Printf("Root: %s\n", resp.Root)
	fmt.Printf("Size: %d\n", resp.Size)
}

func cmdCommitments(args []string) {
	fs := flag.NewFlagSet("commitments", flag.ExitOnError)
	rpcAddr := fs.String("rpc", "127.0.0.1:9001", "RPC server address")
	fs.Parse(args)

	var resp struct {
		Commitments []string `json:"commitments"`
	}
	if err := getJSON(*rpcAddr, "/v1/commitments", &resp); err != nil {
		fatal(err)
	}
	if len(resp.Commitments) == 0 {
		fmt.Println("No commitments.")
		return
	}
	for i, c := range resp.Commitments {
		fmt.Printf("  %d: %s\n", i, c)
	}
}

func cmdNullifiers(args []string) {
	fs := flag.NewFlagSet("nullifiers", flag.ExitOnError)
	rpcAddr := fs.String("rpc", "127.0.0.1:9001", "RPC server address")
	fs.Parse(args)

	var resp struct {
		Nullifiers []string `json:"nullifiers"`
	}
	if err := getJSON(*rpcAddr, "/v1/nullifiers", &resp); err != nil {
		fatal(err)
	}
	if len(resp.Nullifiers) == 0 {
		fmt.Println("No nullifiers consumed.")
		return
	}
	for _, n := range resp.Nullifiers {
		fmt.Printf("  %s\n", n)
	}
}

func cmdAssociation(args []string) {
	switch args[0] {
	case "get":
		fs := flag.NewFlagSet("association get", flag.ExitOnError)
		rpcAddr := fs.String("rpc", "127.0.0.1:9001", "RPC server address")
		fs.Parse(args[1:])

		var resp struct {
			Root string `json:"root"`
		}
		if err := getJSON(*rpcAddr, "/v1/association/root", &resp); err != nil {
			fatal(err)
		}
		fmt.Printf("Association root: %s\n", resp.Root)

	case "set":
		fs := flag.NewFlagSet("association set", flag.ExitOnError)
		rpcAddr := fs.String("rpc", "127.0.0.1:9001", "RPC server address")
		caller := fs.String("caller", "", "Authority address (hex)")
		root := fs.String("root", "", "New association root (hex)")
		fs.Parse(args[1:])

		if *caller == "" || *root == "" {
			fmt.Println("Usage: opaque-cli association set -caller <address> -root <hex>")
			os.Exit(1)
		}

		req := map[string]string{"caller": *caller, "root": *root}
		var resp struct {
			Root string `json:"root"`
		}
		if err := postJSON(*rpcAddr, "/v1/association/root", req, &resp); err != nil {
			fatal(err)
		}
		fmt.Printf("Association root set: %s\n", resp.Root)

	default:
		fmt.Printf("Unknown association command: %s\n", args[0])
	}
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func getJSON(addr, path string, out interface{}) error {
	resp, err := httpClient.Get("http://" + addr + path)
	if err != nil {
		return fmt.Errorf("failed to reach node: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func postJSON(addr, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	resp, err := httpClient.Post("http://"+addr+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to reach node: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("node rejected request: %s", e.Error)
		}
		return fmt.Errorf("node returned status %d", resp.StatusCode)
	}
	return json.Unmarshal(data, out)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
