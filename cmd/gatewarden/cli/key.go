package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatewarden/gatewarden/internal/audit"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/service"
	"github.com/gatewarden/gatewarden/internal/store"
)

// cliActor is the audit actor recorded for operations run from the terminal.
const cliActor = "cli"

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, revoke, and purge the API keys used to call the gated oracle tools.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyPurgeCmd())

	return cmd
}

// openIssuer wires the store, hasher, and audit recorder behind an Issuer.
// The caller owns the returned store and must Close it.
func openIssuer() (*store.Store, *service.Issuer, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	hasher, devPepper, err := newHasher(cfg)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	if devPepper {
		fmt.Fprintln(os.Stderr, "warning: auth.key_pepper not set - keys minted with the development pepper will not verify against a production pepper")
	}

	logger := newLogger(cfg.Log, false)
	issuer := service.NewIssuer(st, hasher, audit.NewRecorder(st, logger))
	return st, issuer, nil
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		owner         string
		org           string
		label         string
		tier          string
		permissions   []string
		expiresInDays int
		jsonOutput    bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Mint a new API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  gatewarden key create --owner alice --label "CI pipeline"
  gatewarden key create --owner bob --org acme --tier pro --permissions tools:read,tools:write
  gatewarden key create --owner temp --expires-in-days 30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(owner, org, label, tier, permissions, expiresInDays, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Subject that owns the key (required)")
	cmd.Flags().StringVar(&org, "org", "", "Organization the key belongs to")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key")
	cmd.Flags().StringVar(&tier, "tier", "free", "Quota tier (free, pro, enterprise)")
	cmd.Flags().StringSliceVar(&permissions, "permissions", nil, "Permissions to grant (default tools:read)")
	cmd.Flags().IntVar(&expiresInDays, "expires-in-days", 0, "Expire the key after this many days (0 = never)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func runKeyCreate(owner, org, label, tier string, permissions []string, expiresInDays int, jsonOutput bool) error {
	if !model.ValidTier(model.Tier(tier)) {
		return fmt.Errorf("unknown tier %q (free, pro, enterprise)", tier)
	}
	if err := model.ValidatePermissions(permissions); err != nil {
		return err
	}
	if expiresInDays < 0 {
		return fmt.Errorf("--expires-in-days must not be negative")
	}

	var expiresAt *time.Time
	if expiresInDays > 0 {
		t := time.Now().UTC().Add(time.Duration(expiresInDays) * 24 * time.Hour)
		expiresAt = &t
	}

	st, issuer, err := openIssuer()
	if err != nil {
		return err
	}
	defer st.Close()

	issued, err := issuer.Issue(context.Background(), service.IssueParams{
		OwnerID:     owner,
		OrgID:       org,
		Label:       label,
		Permissions: permissions,
		Tier:        model.Tier(tier),
		ExpiresAt:   expiresAt,
		Actor:       cliActor,
		Origin:      cliActor,
	})
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	if jsonOutput {
		out := struct {
			ID     string        `json:"id"`
			Key    string        `json:"key"`
			Prefix string        `json:"prefix"`
			Owner  string        `json:"owner_id"`
			Tier   model.Tier    `json:"tier"`
			Expiry *time.Time    `json:"expires_at,omitempty"`
			Record *model.APIKey `json:"record"`
		}{issued.Key.ID, issued.Secret, issued.Key.KeyPrefix, issued.Key.OwnerID, issued.Key.Tier, issued.Key.ExpiresAt, issued.Key}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Println("API key created:")
	fmt.Println()
	fmt.Printf("  Key:    %s\n", issued.Secret)
	fmt.Printf("  Owner:  %s\n", issued.Key.OwnerID)
	fmt.Printf("  Tier:   %s\n", issued.Key.Tier)
	if org != "" {
		fmt.Printf("  Org:    %s\n", org)
	}
	if label != "" {
		fmt.Printf("  Label:  %s\n", label)
	}
	if expiresAt != nil {
		fmt.Printf("  Expires: %s\n", expiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		owner      string
		org        string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(owner, org, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Only keys owned by this subject")
	cmd.Flags().StringVar(&org, "org", "", "Only keys in this organization")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(owner, org string, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	var keys []model.APIKey
	switch {
	case owner != "":
		keys, err = st.ListKeysForOwner(ctx, owner)
	case org != "":
		keys, err = st.ListKeysForOrg(ctx, org)
	default:
		keys, err = st.ListKeys(ctx)
	}
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys issued. Use 'gatewarden key create' to mint one.")
		return nil
	}

	fmt.Printf("%-16s %-12s %-12s %-24s %-8s\n", "PREFIX", "OWNER", "TIER", "LABEL", "ACTIVE")
	fmt.Printf("%-16s %-12s %-12s %-24s %-8s\n", "------", "-----", "----", "-----", "------")
	for _, k := range keys {
		active := "yes"
		if !k.IsActive {
			active = "no"
		}
		label := k.Label
		if len(label) > 22 {
			label = label[:19] + "..."
		}
		fmt.Printf("%-16s %-12s %-12s %-24s %-8s\n", k.KeyPrefix, k.OwnerID, k.Tier, label, active)
	}

	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id-or-prefix>",
		Short: "Revoke an API key",
		Long:  "Deactivate an API key by its id or display prefix, preventing any further authenticated requests.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}

	return cmd
}

func runKeyRevoke(ref string) error {
	st, issuer, err := openIssuer()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()

	key, err := findKey(ctx, st, ref)
	if err != nil {
		return err
	}

	changed, err := issuer.Revoke(ctx, key.ID, cliActor, cliActor)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if !changed {
		fmt.Printf("API key %s was already revoked.\n", key.KeyPrefix)
		return nil
	}

	fmt.Printf("Revoked API key %s (id=%s)\n", key.KeyPrefix, key.ID)
	return nil
}

// findKey resolves an id or display prefix to a stored key.
func findKey(ctx context.Context, st *store.Store, ref string) (*model.APIKey, error) {
	if !strings.HasPrefix(ref, "gwk_") {
		key, err := st.GetKey(ctx, ref)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("look up key %q: %w", ref, err)
		}
		// Fall through to prefix matching.
	}

	keys, err := st.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	for i := range keys {
		if keys[i].KeyPrefix == ref || strings.HasPrefix(keys[i].KeyPrefix, ref) {
			return &keys[i], nil
		}
	}
	return nil, fmt.Errorf("no API key found matching %q", ref)
}

// ---------- key purge ----------

func newKeyPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired API keys",
		Long:  "Permanently delete keys whose expiry has passed. Active, unexpired keys are untouched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyPurge()
		},
	}

	return cmd
}

func runKeyPurge() error {
	st, issuer, err := openIssuer()
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := issuer.PurgeExpired(context.Background(), cliActor, cliActor)
	if err != nil {
		return fmt.Errorf("purge expired keys: %w", err)
	}

	if n == 0 {
		fmt.Println("No expired keys to purge.")
		return nil
	}
	fmt.Printf("Purged %d expired key(s).\n", n)
	return nil
}
