// ABOUTME: Entry point for the coven-inbox operator CLI
// ABOUTME: Manages inbox users and drives admin/user conversations from the terminal

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                   _       _
  ___ _____   _____ _ __          (_)_ __ | |__   _____  __
 / __/ _ \ \ / / _ \ '_ \  _____  | | '_ \| '_ \ / _ \ \/ /
| (_| (_) \ V /  __/ | | ||_____| | | | | | |_) | (_) >  <
 \___\___/ \_/ \___|_| |_|        |_|_| |_|_.__/ \___/_/\_\
`

func usage() {
	fmt.Println("Usage: coven-inbox <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init                                   Create config and database")
	fmt.Println("  add-user --email EMAIL [--name NAME] [--admin]")
	fmt.Println("                                         Create a profile and print a session token")
	fmt.Println("  token --user ID                        Print a fresh session token")
	fmt.Println("  conversations --token TOKEN            List conversations for the token's user")
	fmt.Println("  send --token TOKEN [--to ID] --body TEXT")
	fmt.Println("                                         Send a message")
	fmt.Println("  tail --token TOKEN [--with ID]         Print a conversation and follow it")
	fmt.Println("  version                                Print version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(ctx)
	case "add-user":
		err = runAddUser(ctx, args)
	case "token":
		err = runToken(ctx, args)
	case "conversations":
		err = runConversations(ctx, args)
	case "send":
		err = runSend(ctx, args)
	case "tail":
		err = runTail(ctx, args)
	case "version":
		color.New(color.FgCyan).Print(banner)
		color.New(color.FgHiBlack).Printf("    version: %s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads "--name value" and "--name=value" pairs. Names listed in
// boolFlags take no value. Unknown flags and positional arguments are errors.
func parseFlags(args []string, valueFlags, boolFlags []string) (map[string]string, error) {
	isValue := make(map[string]bool, len(valueFlags))
	for _, f := range valueFlags {
		isValue[f] = true
	}
	isBool := make(map[string]bool, len(boolFlags))
	for _, f := range boolFlags {
		isBool[f] = true
	}

	out := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		switch {
		case isBool[name]:
			if hasValue {
				return nil, fmt.Errorf("--%s takes no value", name)
			}
			out[name] = "true"
		case isValue[name]:
			if !hasValue {
				if i+1 >= len(args) {
					return nil, fmt.Errorf("--%s requires a value", name)
				}
				value = args[i+1]
				i++
			}
			out[name] = value
		default:
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
	}
	return out, nil
}

// requireFlag returns the trimmed flag value or an error naming the flag.
func requireFlag(flags map[string]string, name string) (string, error) {
	v := strings.TrimSpace(flags[name])
	if v == "" {
		return "", fmt.Errorf("--%s flag is required", name)
	}
	return v, nil
}
