// Command accounts manages the identities in the persisted account
// pool: add one by pasting a composite refresh secret or importing it
// from the local Antigravity desktop app's SQLite state database,
// list, verify, and remove accounts.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lattice-run/cloudcode-gateway/internal/config"
	"github.com/lattice-run/cloudcode-gateway/internal/discover"
	"github.com/lattice-run/cloudcode-gateway/internal/storage"
	"github.com/lattice-run/cloudcode-gateway/internal/token"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		return
	}

	store := storage.New()
	scanner := bufio.NewScanner(os.Stdin)

	switch args[0] {
	case "add":
		cmdAdd(store, scanner, args[1:])
	case "import":
		cmdImport(store)
	case "list":
		cmdList(store)
	case "remove":
		cmdRemove(store, scanner, args[1:])
	case "clear":
		cmdClear(store, scanner)
	case "verify":
		cmdVerify(store)
	case "help", "-h", "--help":
		printHelp()
	default:
		fmt.Printf("unknown command %q\n\n", args[0])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`cloudcode-gateway accounts — manage pooled identities

Usage:
  accounts add [secret]     add an identity from a composite refresh secret
                             ("<refresh_token>|<projectId>|<managedProjectId>");
                             reads from stdin if secret is omitted
  accounts import           import the identity signed into the local
                             Antigravity desktop app
  accounts list              list configured identities
  accounts verify           exchange each identity's refresh token and
                             report whether it is still valid
  accounts remove <email>   remove one identity by email
  accounts clear            remove every identity
  accounts help             show this message`)
}

// ensureServerStopped refuses to mutate the pool document while the
// gateway server is bound to its configured port, since concurrent
// writers would race on the storage file lock indefinitely.
func ensureServerStopped() bool {
	cfg := config.Default()
	_ = cfg.Load()
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	conn, err := net.DialTimeout("tcp", addr, 300*time.Millisecond)
	if err != nil {
		return true
	}
	conn.Close()
	fmt.Printf("the gateway server appears to be running on port %d; stop it before editing accounts\n", cfg.Port)
	return false
}

func cmdAdd(store *storage.Store, scanner *bufio.Scanner, args []string) {
	if !ensureServerStopped() {
		os.Exit(1)
	}

	var secret string
	if len(args) > 0 {
		secret = args[0]
	} else {
		fmt.Print("paste composite refresh secret: ")
		if scanner.Scan() {
			secret = strings.TrimSpace(scanner.Text())
		}
	}
	if secret == "" {
		fmt.Println("no secret provided")
		os.Exit(1)
	}

	addSecret(store, secret)
}

func cmdImport(store *storage.Store) {
	if !ensureServerStopped() {
		os.Exit(1)
	}

	status, err := discover.ReadAuthStatus("")
	if err != nil {
		fmt.Printf("import failed: %v\n", err)
		os.Exit(1)
	}

	doc, err := store.AddOrUpdate(status.Email, status.APIKey, "", "")
	if err != nil {
		fmt.Printf("failed to save identity: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("imported %s from Antigravity (%d identit(y/ies) now configured)\n", status.Email, len(doc.Accounts))
}

func addSecret(store *storage.Store, secret string) {
	parts := token.ParseRefreshParts(secret)
	if parts.RefreshToken == "" {
		fmt.Println("secret is missing a refresh token component")
		os.Exit(1)
	}

	email := resolveEmail(parts)
	doc, err := store.AddOrUpdate(email, parts.RefreshToken, parts.ProjectID, parts.ManagedProjectID)
	if err != nil {
		fmt.Printf("failed to save identity: %v\n", err)
		os.Exit(1)
	}
	label := email
	if label == "" {
		label = "(email unresolved — will be discovered on first request)"
	}
	fmt.Printf("added %s (%d identit(y/ies) now configured)\n", label, len(doc.Accounts))
}

// resolveEmail tries to exchange the refresh token right away so the
// stored record is labeled immediately; a failure here is not fatal,
// since the dispatch engine resolves email lazily on first use anyway.
func resolveEmail(parts token.RefreshParts) string {
	refresher := token.NewRefresher()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := refresher.Refresh(ctx, token.AuthDetails{Refresh: token.FormatRefreshParts(parts)})
	if err != nil || result == nil {
		return ""
	}
	email, err := refresher.GetUserEmail(ctx, result.Access)
	if err != nil {
		return ""
	}
	return email
}

func cmdList(store *storage.Store) {
	doc, err := store.Load()
	if err != nil {
		fmt.Printf("failed to load accounts: %v\n", err)
		os.Exit(1)
	}
	displayAccounts(doc)
}

func displayAccounts(doc *storage.Document) {
	if doc == nil || len(doc.Accounts) == 0 {
		fmt.Println("no accounts configured")
		return
	}
	fmt.Printf("%d account(s):\n", len(doc.Accounts))
	for i, acc := range doc.Accounts {
		label := acc.Email
		if label == "" {
			label = "(unresolved email)"
		}
		cooling := ""
		if acc.CoolingDownUntil != nil && *acc.CoolingDownUntil > time.Now().UnixMilli() {
			cooling = " (cooling down)"
		}
		fmt.Printf("  %d. %s%s\n", i+1, label, cooling)
	}
}

func cmdRemove(store *storage.Store, scanner *bufio.Scanner, args []string) {
	if !ensureServerStopped() {
		os.Exit(1)
	}

	var email string
	if len(args) > 0 {
		email = args[0]
	} else {
		doc, err := store.Load()
		if err != nil {
			fmt.Printf("failed to load accounts: %v\n", err)
			os.Exit(1)
		}
		displayAccounts(doc)
		if doc == nil || len(doc.Accounts) == 0 {
			return
		}
		fmt.Print("enter account number to remove (0 to cancel): ")
		if !scanner.Scan() {
			return
		}
		idx, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		if err != nil || idx <= 0 || idx > len(doc.Accounts) {
			fmt.Println("invalid selection")
			return
		}
		email = doc.Accounts[idx-1].Email
	}

	removed, err := store.RemoveByEmail(email)
	if err != nil {
		fmt.Printf("failed to remove %s: %v\n", email, err)
		os.Exit(1)
	}
	if !removed {
		fmt.Printf("no account found for %s\n", email)
		return
	}
	fmt.Printf("removed %s\n", email)
}

func cmdClear(store *storage.Store, scanner *bufio.Scanner) {
	if !ensureServerStopped() {
		os.Exit(1)
	}

	doc, err := store.Load()
	if err != nil {
		fmt.Printf("failed to load accounts: %v\n", err)
		os.Exit(1)
	}
	if doc == nil || len(doc.Accounts) == 0 {
		fmt.Println("no accounts to clear")
		return
	}
	displayAccounts(doc)
	fmt.Print("remove all accounts? [y/N]: ")
	if !scanner.Scan() || strings.ToLower(strings.TrimSpace(scanner.Text())) != "y" {
		fmt.Println("cancelled")
		return
	}
	if err := store.Clear(); err != nil {
		fmt.Printf("failed to clear accounts: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("all accounts removed")
}

func cmdVerify(store *storage.Store) {
	doc, err := store.Load()
	if err != nil {
		fmt.Printf("failed to load accounts: %v\n", err)
		os.Exit(1)
	}
	if doc == nil || len(doc.Accounts) == 0 {
		fmt.Println("no accounts to verify")
		return
	}

	refresher := token.NewRefresher()
	ctx := context.Background()
	for _, acc := range doc.Accounts {
		label := acc.Email
		if label == "" {
			label = "(unresolved email)"
		}
		reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		result, err := refresher.Refresh(reqCtx, token.AuthDetails{Refresh: acc.RefreshToken, Email: acc.Email})
		if err == nil && result != nil {
			if email, emailErr := refresher.GetUserEmail(reqCtx, result.Access); emailErr == nil {
				label = email
			}
		}
		cancel()
		if err != nil {
			fmt.Printf("  FAIL %s - %v\n", label, err)
			continue
		}
		if result == nil {
			fmt.Printf("  FAIL %s - refresh did not return a token\n", label)
			continue
		}
		fmt.Printf("  OK   %s\n", label)
	}
}
