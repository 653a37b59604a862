// Copyright 2026 The Jamfup Authors
// SPDX-License-Identifier: Apache-2.0

// jamfup updates package payloads on a Jamf Pro instance.
//
// `jamfup update <file>` finds the package record matching the file
// (creating it when absent), uploads the new payload, triggers a
// checksum reindex, and waits until the server's stored digest reflects
// the upload. Policies referencing the package are listed before the
// metadata changes so the operator can see the blast radius.
//
// `jamfup auth` stores API credentials under the user config directory
// with the client secret age-encrypted at rest. CI environments skip
// the store entirely by setting JAMF_CLIENT_ID, JAMF_CLIENT_SECRET,
// and JAMF_URL.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/jamfup/jamfup/lib/credential"
	"github.com/jamfup/jamfup/lib/jamf"
	"github.com/jamfup/jamfup/lib/updater"
	"github.com/jamfup/jamfup/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if hint := errorHint(err); hint != "" {
			fmt.Fprintf(os.Stderr, "%s\n", hint)
		}
		var usage *usageError
		if errors.As(err, &usage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// errorHint returns a follow-up line for failures the user can act on
// directly.
func errorHint(err error) string {
	if jamf.IsAuthenticationError(err) {
		return "Check the stored credentials (re-run `jamfup auth`) or the " +
			credential.EnvClientID + "/" + credential.EnvClientSecret + "/" + credential.EnvURL +
			" environment variables."
	}
	return ""
}

// usageError marks a malformed invocation: unknown subcommand, bad
// flags, wrong arguments. Exits 2 instead of 1.
type usageError struct {
	message string
}

func (err *usageError) Error() string { return err.message }

func usagef(format string, args ...any) error {
	return &usageError{message: fmt.Sprintf(format, args...)}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return usagef("subcommand required")
	}

	switch subcommand := os.Args[1]; subcommand {
	case "auth":
		return runAuth(os.Args[2:])
	case "update":
		return runUpdate(os.Args[2:])
	case "version", "--version":
		fmt.Printf("jamfup %s\n", version.Info())
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return usagef("unknown subcommand: %q", subcommand)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: jamfup <subcommand> [flags]

Subcommands:
  auth      Store Jamf Pro API credentials
  update    Upload a new payload for a package
  version   Print version information

Run 'jamfup <subcommand> --help' for subcommand flags.
`)
}

func runAuth(args []string) error {
	var baseURL, clientID, clientSecret string

	flagSet := pflag.NewFlagSet("auth", pflag.ContinueOnError)
	flagSet.StringVar(&baseURL, "url", "", "Jamf Pro instance URL (e.g. https://example.jamfcloud.com)")
	flagSet.StringVar(&clientID, "client-id", "", "API client ID")
	flagSet.StringVar(&clientSecret, "client-secret", "", "API client secret (prompted when omitted)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return usagef("auth: %v", err)
	}
	if baseURL == "" || clientID == "" {
		return usagef("auth: --url and --client-id are required")
	}

	if clientSecret == "" {
		var err error
		clientSecret, err = readSecret("Client secret: ")
		if err != nil {
			return fmt.Errorf("auth: reading client secret: %w", err)
		}
	}
	if clientSecret == "" {
		return fmt.Errorf("auth: client secret is empty")
	}

	store, err := credential.DefaultStore()
	if err != nil {
		return err
	}
	if err := store.Save(credential.Credentials{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		BaseURL:      baseURL,
	}); err != nil {
		return err
	}
	fmt.Printf("Credentials saved to %s\n", store.Directory())
	return nil
}

// readSecret prompts without echo when stdin is a terminal, and falls
// back to a plain line read otherwise (piped input).
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		secretBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(secretBytes), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runUpdate(args []string) error {
	var packageName string
	var priority int
	var verbose bool

	flagSet := pflag.NewFlagSet("update", pflag.ContinueOnError)
	flagSet.StringVar(&packageName, "name", "", "package record name (default: file name without extension)")
	flagSet.IntVar(&priority, "priority", -1, "package priority 0-20 (default: keep existing, 3 for new packages)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return usagef("update: %v", err)
	}
	if flagSet.NArg() != 1 {
		return usagef("update: exactly one package file argument required")
	}
	path := flagSet.Arg(0)

	request := updater.Request{Path: path, Name: packageName}
	if flagSet.Changed("priority") {
		request.Priority = &priority
	}

	// Validate before authenticating: an invalid invocation must fail
	// on its own terms, without a token exchange against the server.
	if err := updater.ValidateRequest(request); err != nil {
		return err
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := credential.DefaultStore()
	if err != nil {
		return err
	}
	credentials, err := store.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := jamf.Connect(ctx, jamf.Config{
		BaseURL:      credentials.BaseURL,
		ClientID:     credentials.ClientID,
		ClientSecret: credentials.ClientSecret,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	service := &updater.Updater{
		Service: client,
		Logger:  logger,
		Output:  os.Stdout,
	}
	_, err = service.Run(ctx, request)
	return err
}
