package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/kalambet/shelf/internal/backup"
	"github.com/kalambet/shelf/internal/config"
	"github.com/kalambet/shelf/internal/gist"
)

var stdinIsTerminal = func() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// confirmRestore builds the gate shown before a restore replaces the
// library. Without --yes it asks on the terminal and declines when stdin is
// not one.
func confirmRestore(cmd *cobra.Command, yes bool) backup.Confirm {
	if yes {
		return backup.AlwaysConfirm
	}
	return func(ctx context.Context, count int) (bool, error) {
		if !stdinIsTerminal() {
			printWarning("stdin is not a terminal; pass --yes to replace the library")
			return false, nil
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "This replaces the whole library with %d materials from the backup. Continue? [y/N] ", count)
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

// --- export / import ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the library to a JSON snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if output == "-" {
			_, err := a.backup.Export(cmd.Context(), cmd.OutOrStdout())
			return err
		}

		var n int
		err = replaceFile(output, func(w io.Writer) error {
			n, err = a.backup.Export(cmd.Context(), w)
			return err
		})
		if err != nil {
			return err
		}
		printSuccess("Exported %d materials to %s", n, output)
		return nil
	},
}

// replaceFile writes path through a temp file in the same directory, so a
// failed write leaves any existing file untouched.
func replaceFile(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("writing output file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing output file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing output file: %w", err)
	}
	return nil
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the library with a JSON snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening snapshot: %w", err)
		}
		defer f.Close()

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.backup.Import(cmd.Context(), f, confirmRestore(cmd, yes))
		if err != nil {
			return err
		}
		return reportRestore(res)
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", gist.DefaultFileName, "destination file, - for stdout")
	importCmd.Flags().BoolP("yes", "y", false, "replace the library without asking")
}

// --- push / pull ---

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload a snapshot to the configured gist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		printStep("Pushing library")
		res, err := a.backup.Push(cmd.Context())
		if err != nil {
			return err
		}
		if res.Created {
			printSuccess("Created gist %s with %d materials", res.RemoteID, res.Count)
		} else {
			printSuccess("Updated gist %s with %d materials", res.RemoteID, res.Count)
		}
		if res.URL != "" {
			printStatus("URL", "%s", res.URL)
		}
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Replace the library with the snapshot stored in a gist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("gist-id")
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.backup.Pull(cmd.Context(), strings.TrimSpace(id), confirmRestore(cmd, yes))
		if errors.Is(err, backup.ErrMissingTarget) {
			return fmt.Errorf("%w; push first or pass --gist-id", err)
		}
		if err != nil {
			return err
		}
		printStep("Pulled from gist %s", res.RemoteID)
		return reportRestore(res)
	},
}

func init() {
	pullCmd.Flags().String("gist-id", "", "gist to pull from instead of the stored one")
	pullCmd.Flags().BoolP("yes", "y", false, "replace the library without asking")
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the GitHub token used for gist sync",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set [token]",
	Short: "Store the GitHub token (read from stdin when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var tok string
		if len(args) == 1 {
			tok = args[0]
		} else {
			if stdinIsTerminal() {
				fmt.Fprint(cmd.ErrOrStderr(), "GitHub token: ")
			}
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("reading token: %w", err)
			}
			tok = line
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.settings.SetToken(tok); err != nil {
			return err
		}
		printSuccess("Token stored")
		if config.TokenSource(a.keychain) == "env" {
			printWarning("SHELF_REMOTE_TOKEN is set and takes precedence")
		}
		return nil
	},
}

var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored GitHub token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.settings.ClearToken(); err != nil {
			return err
		}
		printSuccess("Token removed")
		return nil
	},
}

var tokenStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where the GitHub token comes from",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		switch config.TokenSource(a.keychain) {
		case "env":
			fmt.Fprintln(cmd.OutOrStdout(), "token: set (SHELF_REMOTE_TOKEN)")
		case "keychain":
			fmt.Fprintln(cmd.OutOrStdout(), "token: set (secret store)")
		default:
			fmt.Fprintln(cmd.OutOrStdout(), "token: not set")
		}
		return nil
	},
}

func init() {
	tokenCmd.AddCommand(tokenSetCmd, tokenClearCmd, tokenStatusCmd)
}

// --- remote ---

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Manage the remembered gist",
}

var remoteForgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Forget the stored gist id; the next push creates a new gist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id := a.settings.RemoteID()
		if id == "" {
			printWarning("No gist id stored")
			return nil
		}
		if err := a.settings.ClearRemoteID(); err != nil {
			return err
		}
		printSuccess("Forgot gist %s", id)
		return nil
	},
}

func init() {
	remoteCmd.AddCommand(remoteForgetCmd)
}
