package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"shareit/internal/app"
	"shareit/internal/client"
	"shareit/internal/config"
	"shareit/internal/encryption"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readConfig resolves the config path from the environment and reads it.
func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a ShareApp. The caller must defer app.Close().
func newApp(ctx context.Context, level slog.Level) (*app.ShareApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	passphrase, err := snapshotPassphrase(cfg)
	if err != nil {
		return nil, err
	}

	a, err := app.NewShareApp(ctx, cfg, app.Options{Passphrase: passphrase, LogLevel: level})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// snapshotPassphrase returns the passphrase for an encrypted account
// snapshot: SHAREIT_KEY_PASSPHRASE when set, otherwise a terminal prompt
// if the private key is protected.
func snapshotPassphrase(cfg *config.Config) (string, error) {
	if cfg.Accounts.Type != "file" || !cfg.Accounts.Encrypted {
		return "", nil
	}
	env, err := app.LoadEnv()
	if err != nil {
		return "", err
	}
	if env.KeyPassphrase != "" {
		return env.KeyPassphrase, nil
	}

	needs, err := encryption.NewAgeEncryptor(cfg.Encryption).NeedsPassphrase()
	if err != nil || !needs {
		// A missing key is reported by the app with a better message.
		return "", nil
	}
	return promptSecret("Snapshot key passphrase: ")
}

// promptSecret reads a line from the terminal with echo disabled.
func promptSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal available for interactive prompt")
	}

	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return string(b), nil
}

// promptNewSecret prompts twice and requires both entries to match.
func promptNewSecret(prompt string) (string, error) {
	first, err := promptSecret(prompt)
	if err != nil {
		return "", err
	}
	second, err := promptSecret("Confirm: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("entries do not match")
	}
	return first, nil
}

func logLevel(cmd *cobra.Command) slog.Level {
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

var rootCmd = &cobra.Command{
	Use:   "shareit",
	Short: "File sharing server",
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the file sharing server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, logLevel(cmd))
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(ctx)
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		encrypt, _ := cmd.Flags().GetBool("encrypt")
		protect, _ := cmd.Flags().GetBool("protect-key")

		// Get application defaults
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		// Create config with defaults
		cfg := config.NewConfig(defaults["base_dir"])
		cfg.LogDir = defaults["log_dir"]
		cfg.Accounts.Encrypted = encrypt

		// Initialize config file
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])

		if !encrypt {
			return nil
		}

		enc := encryption.NewAgeEncryptor(cfg.Encryption)
		if enc.IsConfigured() {
			fmt.Printf("Using existing snapshot keys at %s\n", cfg.Encryption.PrivateKeyPath)
			return nil
		}
		var passphrase string
		if protect {
			passphrase, err = promptNewSecret("New key passphrase: ")
			if err != nil {
				return err
			}
		}
		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("generating snapshot keys: %w", err)
		}
		fmt.Printf("Snapshot keys written to %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		// Display config
		fmt.Printf("Listen Addr:     %s\n", cfg.ListenAddr)
		fmt.Printf("Base Dir:        %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:         %s\n", cfg.LogDir)
		fmt.Printf("Max Connections: %d\n", cfg.Server.MaxConnections)
		fmt.Printf("Blob Store:      %s\n", cfg.Blob.Type)
		fmt.Printf("Database:        %s\n", cfg.Database.Type)
		fmt.Printf("Accounts:        %s (encrypted: %v)\n", cfg.Accounts.Type, cfg.Accounts.Encrypted)
		fmt.Printf("Password Digest: %s\n", cfg.Password.Type)
		return nil
	},
}

// accounts command
var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage accounts (server must be stopped)",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), slog.LevelWarn)
		if err != nil {
			return err
		}
		defer a.Close()

		users := a.Users()
		if len(users) == 0 {
			fmt.Println("No accounts.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "USERNAME\tEMAIL\tUSED\tLIMIT\tREGISTERED")
		for _, u := range users {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
				u.Username, u.Email, u.StorageUsed, u.StorageLimit,
				u.RegisteredAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var accountsAddCmd = &cobra.Command{
	Use:   "add USERNAME",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")

		a, err := newApp(cmd.Context(), slog.LevelWarn)
		if err != nil {
			return err
		}
		defer a.Close()

		pw, err := promptNewSecret("Password: ")
		if err != nil {
			return err
		}
		if err := a.AddUser(args[0], pw, email); err != nil {
			return fmt.Errorf("adding account: %w", err)
		}

		fmt.Printf("Account %s created\n", args[0])
		return nil
	},
}

// transfers command
var transfersCmd = &cobra.Command{
	Use:   "transfers",
	Short: "Inspect transfers",
}

var transfersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored transfers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), slog.LevelWarn)
		if err != nil {
			return err
		}
		defer a.Close()

		transfers := a.Transfers()
		if len(transfers) == 0 {
			fmt.Println("No transfers.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSIZE\tFROM\tTO\tCREATED\tBLAKE3")
		for _, t := range transfers {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
				t.FileID, t.FileName, t.FileSize, t.Sender, t.Receiver,
				t.CreatedAt.Format("2006-01-02 15:04:05"), shortChecksum(t.Checksum))
		}
		return w.Flush()
	},
}

var transfersVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check stored content against recorded checksums",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), slog.LevelWarn)
		if err != nil {
			return err
		}
		defer a.Close()

		checks := a.VerifyTransfers(cmd.Context())
		failed := 0
		for _, c := range checks {
			if c.Err != nil {
				failed++
				fmt.Printf("FAILED  %s  %s: %v\n", c.Transfer.FileID, c.Transfer.FileName, c.Err)
				continue
			}
			fmt.Printf("ok      %s  %s\n", c.Transfer.FileID, c.Transfer.FileName)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d transfers failed verification", failed, len(checks))
		}
		fmt.Printf("%d transfers verified.\n", len(checks))
		return nil
	},
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	if sum == "" {
		return "-"
	}
	return sum
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup PATH",
	Short: "Write a copy of the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), slog.LevelWarn)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupDatabase(args[0]); err != nil {
			return err
		}
		fmt.Printf("Database written to %s\n", args[0])
		return nil
	},
}

// stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Log in to a running server and show account statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return errors.New("--user is required")
		}

		pw, err := promptSecret("Password: ")
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		c, err := client.Dial(ctx, addr)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Login(user, pw); err != nil {
			return err
		}
		st, err := c.Stats()
		if err != nil {
			return err
		}
		files, err := c.ListFiles()
		if err != nil {
			return err
		}

		fmt.Printf("User:         %s <%s>\n", st.Username, st.Email)
		fmt.Printf("Storage:      %d / %d bytes\n", st.StorageUsed, st.StorageLimit)
		fmt.Printf("Files sent:   %d\n", st.OwnedFiles)
		fmt.Printf("Online users: %d\n", st.OnlineUsers)
		for _, f := range files {
			fmt.Printf("  %s  %-8s %10d  %s -> %s  %s\n", f.FileID, f.FileType, f.FileSize, f.Sender, f.Receiver, f.FileName)
		}

		return c.Logout()
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().Bool("encrypt", false, "Encrypt the account snapshot with a generated age key")
	configInitCmd.Flags().Bool("protect-key", false, "Protect the generated key with a passphrase")

	// accounts subcommands
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsAddCmd)
	accountsAddCmd.Flags().String("email", "", "Email address for the account")

	transfersCmd.AddCommand(transfersListCmd)
	transfersCmd.AddCommand(transfersVerifyCmd)
	dbCmd.AddCommand(dbBackupCmd)

	// root commands
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolP("verbose", "v", false, "Log at debug level")
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(accountsCmd)
	rootCmd.AddCommand(transfersCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().String("addr", "localhost:8080", "Server address")
	statsCmd.Flags().StringP("user", "u", "", "Username to log in as")
}
