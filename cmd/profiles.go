package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/presence/internal/config"
	"github.com/kozaktomas/presence/internal/constants"
	"github.com/kozaktomas/presence/internal/database"
	"github.com/kozaktomas/presence/internal/logging"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Biometric profile administration",
	Long:  `Commands for inspecting and managing stored biometric profiles.`,
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles",
	Long: `List stored profiles ordered by identity. Raw biometric data is never
printed, only which signals each profile carries.

Examples:
  # First page of all profiles
  presence profiles list

  # Active profiles as JSON
  presence profiles list --active --json`,
	Args: cobra.NoArgs,
	RunE: runProfilesList,
}

var profilesShowCmd = &cobra.Command{
	Use:   "show [identity-id]",
	Short: "Show one profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfilesShow,
}

var profilesDeactivateCmd = &cobra.Command{
	Use:   "deactivate [identity-id]",
	Short: "Exclude a profile from matching",
	Long: `Deactivate a profile. It stays stored but is no longer a login candidate
or an enrollment conflict, and its device key is released.

Use --undo to reactivate it.`,
	Args: cobra.ExactArgs(1),
	RunE: runProfilesDeactivate,
}

var profilesDeleteCmd = &cobra.Command{
	Use:   "delete [identity-id]",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfilesDelete,
}

func init() {
	rootCmd.AddCommand(profilesCmd)
	profilesCmd.AddCommand(profilesListCmd, profilesShowCmd, profilesDeactivateCmd, profilesDeleteCmd)

	profilesListCmd.Flags().Int("limit", constants.DefaultPageSize, "Maximum number of profiles to list")
	profilesListCmd.Flags().Int("offset", 0, "Number of profiles to skip")
	profilesListCmd.Flags().Bool("active", false, "Only list active profiles")
	profilesListCmd.Flags().Bool("json", false, "Output as JSON")

	profilesShowCmd.Flags().Bool("json", false, "Output as JSON")

	profilesDeactivateCmd.Flags().Bool("undo", false, "Reactivate the profile instead")
}

// profileSummary is the printable form of a stored profile.
type profileSummary struct {
	IdentityID       string    `json:"identity_id"`
	EmbeddingDim     int       `json:"embedding_dim"`
	HasLandmarks     bool      `json:"has_landmarks"`
	HasLegacyHash    bool      `json:"has_legacy_hash"`
	DeviceKey        string    `json:"device_key,omitempty"`
	Active           bool      `json:"active"`
	BiometricEnabled bool      `json:"biometric_enabled"`
	ApprovalStatus   string    `json:"approval_status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func summarize(p *database.StoredProfile) profileSummary {
	return profileSummary{
		IdentityID:       p.IdentityID,
		EmbeddingDim:     p.Dim(),
		HasLandmarks:     p.Landmarks != nil,
		HasLegacyHash:    p.LegacyHash != "",
		DeviceKey:        logging.MaskKey(p.DeviceKey),
		Active:           p.Active,
		BiometricEnabled: p.BiometricEnabled,
		ApprovalStatus:   p.ApprovalStatus,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func signalList(s profileSummary) string {
	var signals []string
	if s.EmbeddingDim > 0 {
		signals = append(signals, fmt.Sprintf("embedding/%d", s.EmbeddingDim))
	}
	if s.HasLandmarks {
		signals = append(signals, "landmarks")
	}
	if s.HasLegacyHash {
		signals = append(signals, "hash")
	}
	if len(signals) == 0 {
		return "-"
	}
	return strings.Join(signals, ",")
}

// withProfiles opens the backend and hands the registered profile store to fn.
func withProfiles(cmd *cobra.Command, fn func(ctx context.Context, profiles database.ProfileWriter) error) error {
	ctx := context.Background()
	cfg := config.Load()
	log, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	profiles, err := database.GetProfileWriter(ctx)
	if err != nil {
		return fmt.Errorf("failed to get profile store: %w", err)
	}
	return fn(ctx, profiles)
}

func runProfilesList(cmd *cobra.Command, args []string) error {
	limit := intFlag(cmd, "limit")
	offset := intFlag(cmd, "offset")
	activeOnly := boolFlag(cmd, "active")
	jsonOutput := boolFlag(cmd, "json")

	return withProfiles(cmd, func(ctx context.Context, profiles database.ProfileWriter) error {
		list, err := profiles.List(ctx, database.ListOptions{Limit: limit, Offset: offset, ActiveOnly: activeOnly})
		if err != nil {
			return fmt.Errorf("failed to list profiles: %w", err)
		}
		total, err := profiles.Count(ctx, activeOnly)
		if err != nil {
			return fmt.Errorf("failed to count profiles: %w", err)
		}

		summaries := make([]profileSummary, 0, len(list))
		for i := range list {
			summaries = append(summaries, summarize(&list[i]))
		}
		if jsonOutput {
			return outputJSON(map[string]any{"profiles": summaries, "total": total})
		}

		if len(summaries) == 0 {
			fmt.Println("No profiles found.")
			return nil
		}
		fmt.Printf("%-32s %-8s %-10s %-24s %s\n", "IDENTITY", "ACTIVE", "STATUS", "SIGNALS", "DEVICE")
		for _, s := range summaries {
			device := s.DeviceKey
			if device == "" {
				device = "-"
			}
			fmt.Printf("%-32s %-8t %-10s %-24s %s\n", s.IdentityID, s.Active, s.ApprovalStatus, signalList(s), device)
		}
		fmt.Printf("\nShowing %d of %d profiles (offset %d)\n", len(summaries), total, offset)
		return nil
	})
}

func runProfilesShow(cmd *cobra.Command, args []string) error {
	jsonOutput := boolFlag(cmd, "json")

	return withProfiles(cmd, func(ctx context.Context, profiles database.ProfileWriter) error {
		p, err := profiles.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get profile: %w", err)
		}
		s := summarize(p)
		if jsonOutput {
			return outputJSON(s)
		}

		fmt.Printf("Identity:           %s\n", s.IdentityID)
		fmt.Printf("Active:             %t\n", s.Active)
		fmt.Printf("Biometric enabled:  %t\n", s.BiometricEnabled)
		fmt.Printf("Approval status:    %s\n", s.ApprovalStatus)
		fmt.Printf("Signals:            %s\n", signalList(s))
		if s.DeviceKey != "" {
			fmt.Printf("Device key:         %s\n", s.DeviceKey)
		}
		fmt.Printf("Created:            %s\n", s.CreatedAt.Format(time.RFC3339))
		fmt.Printf("Updated:            %s\n", s.UpdatedAt.Format(time.RFC3339))
		return nil
	})
}

func runProfilesDeactivate(cmd *cobra.Command, args []string) error {
	active := boolFlag(cmd, "undo")

	return withProfiles(cmd, func(ctx context.Context, profiles database.ProfileWriter) error {
		if err := profiles.SetActive(ctx, args[0], active); err != nil {
			return fmt.Errorf("failed to update profile: %w", err)
		}
		if active {
			fmt.Printf("Profile %s reactivated\n", args[0])
		} else {
			fmt.Printf("Profile %s deactivated\n", args[0])
		}
		return nil
	})
}

func runProfilesDelete(cmd *cobra.Command, args []string) error {
	return withProfiles(cmd, func(ctx context.Context, profiles database.ProfileWriter) error {
		if err := profiles.Delete(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete profile: %w", err)
		}
		fmt.Printf("Profile %s deleted\n", args[0])
		return nil
	})
}
