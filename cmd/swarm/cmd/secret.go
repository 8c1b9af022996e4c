package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cbriice/claude-swarm-sub001/internal/config"
	"github.com/cbriice/claude-swarm-sub001/internal/store"
	"github.com/cbriice/claude-swarm-sub001/internal/vault"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage worker credentials",
	Long: `Store credentials encrypted at rest. Secrets are decrypted and injected
into worker environments by name when a session starts.`,
}

var secretSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Store or update a secret",
	Args:  cobra.ExactArgs(2),
	RunE:  runSecretSet,
}

var secretGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Decrypt and print a secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretGet,
}

var secretListCmd = &cobra.Command{
	Use:   "list",
	Short: "List secret names",
	Args:  cobra.NoArgs,
	RunE:  runSecretList,
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretDelete,
}

func init() {
	rootCmd.AddCommand(secretCmd)
	secretCmd.AddCommand(secretSetCmd, secretGetCmd, secretListCmd, secretDeleteCmd)
}

func openVault(cfg *config.Config) (*vault.Vault, error) {
	if cfg.Vault.Passphrase == "" {
		return nil, fmt.Errorf("vault passphrase not set (SWARM_VAULT_PASSPHRASE)")
	}
	return vault.New(cfg.Vault.Passphrase), nil
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	v, err := openVault(cfg)
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ciphertext, nonce, err := v.Seal([]byte(args[1]))
	if err != nil {
		return fmt.Errorf("seal secret: %w", err)
	}
	if err := db.SaveSecret(&store.Secret{Name: args[0], Value: ciphertext, Nonce: nonce}); err != nil {
		return err
	}
	fmt.Printf("secret %q saved\n", args[0])
	return nil
}

func runSecretGet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	v, err := openVault(cfg)
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sec, err := db.GetSecret(args[0])
	if err != nil {
		return err
	}
	if sec == nil {
		return fmt.Errorf("secret %q not found", args[0])
	}
	plaintext, err := v.Open(sec.Value, sec.Nonce)
	if err != nil {
		return fmt.Errorf("open secret: %w", err)
	}
	os.Stdout.Write(plaintext)
	if len(plaintext) > 0 && plaintext[len(plaintext)-1] != '\n' {
		fmt.Println()
	}
	return nil
}

func runSecretList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	names, err := db.ListSecretNames()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No secrets stored.")
		return nil
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.DeleteSecret(args[0]); err != nil {
		return err
	}
	fmt.Printf("secret %q deleted\n", args[0])
	return nil
}
