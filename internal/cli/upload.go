package cli

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/utils/clock"

	"comfyrelay/internal/storage"
)

func newUploadCmd() *cobra.Command {
	var (
		folder string
		verify bool
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file with the configured storage provider",
		Long: `Upload a file the way storage delivery does, under
<folder>/<UTC date>/<filename>, and print the remote reference.

With --verify the object is fetched back, compared byte for byte with the
local file and then deleted, which checks credentials and signing without
leaving anything behind.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := getEnv(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if folder == "" {
				folder = e.cfg.Delivery.Folder
			}

			provider, err := storage.NewProvider(ctx, e.cfg.Storage)
			if err != nil {
				return err
			}

			ref, ok := storage.NewUploader(provider, clock.RealClock{}, e.log).Upload(ctx, args[0], folder)
			if !ok {
				return fmt.Errorf("upload of %s to %s failed", args[0], provider.Provider())
			}
			fmt.Fprintln(cmd.OutOrStdout(), ref)

			if !verify {
				return nil
			}

			if err := verifyObject(cmd, provider, ref, args[0]); err != nil {
				return err
			}
			if err := provider.DeleteObject(ctx, ref); err != nil {
				return fmt.Errorf("deleting %s: %w", ref, err)
			}
			e.log.Info("round trip verified", "reference", ref, "provider", provider.Provider())
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "destination folder (default DELIVERY_FOLDER)")
	cmd.Flags().BoolVar(&verify, "verify", false, "fetch the object back, compare it and delete it")
	return cmd
}

func verifyObject(cmd *cobra.Command, provider storage.Provider, ref, localPath string) error {
	local, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	rc, _, _, err := provider.GetObject(cmd.Context(), ref)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", ref, err)
	}
	defer rc.Close()

	remote, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("reading %s: %w", ref, err)
	}

	if !bytes.Equal(local, remote) {
		return fmt.Errorf("round trip mismatch for %s: local sha256 %x, remote sha256 %x",
			ref, sha256.Sum256(local), sha256.Sum256(remote))
	}
	return nil
}
