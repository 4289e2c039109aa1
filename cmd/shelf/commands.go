package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kalambet/shelf/internal/config"
	"github.com/kalambet/shelf/internal/library"
	"github.com/kalambet/shelf/internal/material"
	"github.com/kalambet/shelf/internal/preview"
	"github.com/kalambet/shelf/internal/storage"
)

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid material id %q", s)
	}
	return id, nil
}

// lookup loads one material, turning a missing id into a readable error.
func (a *app) lookup(cmd *cobra.Command, arg string) (material.Material, error) {
	id, err := parseID(arg)
	if err != nil {
		return material.Material{}, err
	}
	m, err := a.store.GetByID(cmd.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return material.Material{}, fmt.Errorf("material %d not found", id)
	}
	return m, err
}

// --- add-link ---

var addLinkCmd = &cobra.Command{
	Use:   "add-link",
	Short: "Save a web link into the library",
	Long: `Save a web link into the library.

Examples:
  shelf add-link --title "Linear algebra lectures" --url https://example.com/la --category algebra
  shelf add-link --title "Euclid" --url example.org/elements --category geometry --description "Book I"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		url, _ := cmd.Flags().GetString("url")
		category, _ := cmd.Flags().GetString("category")
		description, _ := cmd.Flags().GetString("description")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.checkCategory(category); err != nil {
			return err
		}
		m, err := a.library.AddLink(cmd.Context(), library.LinkInput{
			Title:       title,
			URL:         url,
			Category:    category,
			Description: description,
		})
		if err != nil {
			return err
		}
		l, _ := m.Link()
		printSuccess("Saved link %d: %s", m.ID, l.URL)
		return nil
	},
}

func init() {
	addLinkCmd.Flags().String("title", "", "display title (required)")
	addLinkCmd.Flags().String("url", "", "link target (required)")
	addLinkCmd.Flags().String("category", "", "category key (required)")
	addLinkCmd.Flags().String("description", "", "optional note")
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload files into a category",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.checkCategory(category); err != nil {
			return err
		}

		session := library.NewUploadSession()
		for _, path := range args {
			f, err := library.FileFromPath(path)
			if err != nil {
				return fmt.Errorf("selecting %s: %w", path, err)
			}
			if session.Add(f) == 0 {
				printWarning("%s already selected, skipping", f.Name)
			}
		}

		printStep("Uploading %d file(s) to %s", session.Len(), category)
		res, err := a.library.Upload(cmd.Context(), session, category)
		if err != nil {
			return err
		}
		for _, name := range res.Failed {
			printError("failed to upload %s", name)
		}
		if res.Succeeded < res.Total {
			return fmt.Errorf("uploaded %d of %d files", res.Succeeded, res.Total)
		}
		printSuccess("Uploaded %d of %d files", res.Succeeded, res.Total)
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("category", "", "category key (required)")
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List library materials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var ms []material.Material
		if category != "" {
			if err := a.checkCategory(category); err != nil {
				return err
			}
			ms, err = a.store.ListByCategory(cmd.Context(), category)
		} else {
			ms, err = a.store.GetAll(cmd.Context())
		}
		if err != nil {
			return err
		}

		if asJSON {
			for i := range ms {
				if f, ok := ms[i].File(); ok {
					stripped := *f
					stripped.Data = ""
					ms[i].Content = &stripped
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(ms)
		}
		if len(ms) == 0 {
			printWarning("No materials yet")
			return nil
		}
		return writeMaterialTable(cmd.OutOrStdout(), ms)
	},
}

func init() {
	listCmd.Flags().String("category", "", "only list this category")
	listCmd.Flags().Bool("json", false, "print JSON without file contents")
}

// --- show ---

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one material",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.lookup(cmd, args[0])
		if err != nil {
			return err
		}
		writeMaterial(cmd.OutOrStdout(), m)
		return nil
	},
}

// --- rm ---

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete one material",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		err = a.library.Delete(cmd.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("material %d not found", id)
		}
		if err != nil {
			return err
		}
		printSuccess("Deleted material %d", id)
		return nil
	},
}

// --- download ---

var downloadCmd = &cobra.Command{
	Use:   "download <id>",
	Short: "Write a stored file to disk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.lookup(cmd, args[0])
		if err != nil {
			return err
		}
		f, ok := m.File()
		if !ok {
			return fmt.Errorf("material %d is a link, not a file", m.ID)
		}
		_, data, err := material.DecodeDataURL(f.Data)
		if err != nil {
			return fmt.Errorf("material %d: %w", m.ID, err)
		}

		if output == "" {
			output = filepath.Base(f.FileName)
		}
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}
		printSuccess("Saved %s (%s)", output, f.FileSize)
		return nil
	},
}

func init() {
	downloadCmd.Flags().StringP("output", "o", "", "destination path (default: the stored file name)")
}

// --- preview ---

var previewCmd = &cobra.Command{
	Use:   "preview [id]",
	Short: "Print the text of a stored file",
	Long: `Print the text of a stored PDF, Word or plain-text file.

The last previewed file is remembered for an hour; --resume reopens it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resume, _ := cmd.Flags().GetBool("resume")
		if resume == (len(args) == 1) {
			return errors.New("give either a material id or --resume")
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var m material.Material
		if resume {
			st, ok, err := a.preview.Resume(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				printWarning("Nothing to resume")
				return nil
			}
			m, err = a.store.GetByID(cmd.Context(), st.MaterialID)
			if errors.Is(err, storage.ErrNotFound) {
				a.preview.Clear(cmd.Context())
				return fmt.Errorf("material %d no longer exists", st.MaterialID)
			}
			if err != nil {
				return err
			}
			printStep("Resuming %s", st.FileName)
		} else if m, err = a.lookup(cmd, args[0]); err != nil {
			return err
		}

		if _, err := a.preview.Remember(cmd.Context(), m); err != nil {
			return err
		}
		doc, err := preview.Render(m)
		if errors.Is(err, preview.ErrUnsupported) {
			f, _ := m.File()
			printWarning("%s cannot be shown as text; use 'shelf download %d'", f.FileType, m.ID)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), doc.Text())
		return nil
	},
}

func init() {
	previewCmd.Flags().Bool("resume", false, "reopen the last previewed file")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			line := fmt.Sprintf("  %s = %s", colorize(colorBold, k.Key), k.Value)
			if k.FromEnv {
				line += colorize(colorYellow, " (from "+k.EnvVar+")")
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
