package cli

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"comfyrelay/internal/adapters/storage/gdrive"
)

func newGDriveAuthCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "gdrive-auth",
		Short: "Obtain a Google Drive refresh token for the gdrive provider",
		Long: `Run the OAuth consent flow for GDRIVE_CLIENT_ID/GDRIVE_CLIENT_SECRET with a
local callback listener and print the refresh token to store in
GDRIVE_REFRESH_TOKEN.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := getEnv(cmd)
			if err != nil {
				return err
			}
			gd := e.cfg.Storage.GDrive
			if gd.ClientID == "" || gd.ClientSecret == "" {
				return fmt.Errorf("GDRIVE_CLIENT_ID and GDRIVE_CLIENT_SECRET are required")
			}

			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				return err
			}
			defer ln.Close()

			conf := gdrive.OAuthConfig(gd.ClientID, gd.ClientSecret)
			conf.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d/callback", ln.Addr().(*net.TCPAddr).Port)

			state, err := randomState()
			if err != nil {
				return err
			}
			codeCh, errCh := make(chan string, 1), make(chan error, 1)

			srv := &http.Server{
				Handler:      callbackHandler(state, codeCh, errCh),
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			go func() { _ = srv.Serve(ln) }()
			defer srv.Close()

			authURL := conf.AuthCodeURL(state,
				oauth2.AccessTypeOffline,
				oauth2.SetAuthURLParam("prompt", "consent"),
			)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Open this URL in your browser:\n\n%s\n\nWaiting for authorization on %s\n", authURL, conf.RedirectURL)

			var code string
			select {
			case code = <-codeCh:
			case err := <-errCh:
				return err
			case <-time.After(timeout):
				return fmt.Errorf("timed out waiting for authorization")
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}

			tok, err := conf.Exchange(cmd.Context(), code)
			if err != nil {
				return fmt.Errorf("exchanging authorization code: %w", err)
			}

			// Google omits the refresh token when the app was already
			// authorized without prompt=consent.
			if strings.TrimSpace(tok.RefreshToken) == "" {
				return fmt.Errorf("no refresh_token returned; revoke the app at https://myaccount.google.com/permissions and retry")
			}

			fmt.Fprintf(out, "\nGDRIVE_REFRESH_TOKEN=%s\n", tok.RefreshToken)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Minute, "how long to wait for the browser callback")
	return cmd
}

func callbackHandler(state string, codeCh chan<- string, errCh chan<- error) http.Handler {
	fail := func(w http.ResponseWriter, err error) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		select {
		case errCh <- err:
		default:
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			fail(w, fmt.Errorf("invalid state"))
			return
		}
		if e := q.Get("error"); e != "" {
			fail(w, fmt.Errorf("auth error: %s", e))
			return
		}
		code := q.Get("code")
		if code == "" {
			fail(w, fmt.Errorf("missing code"))
			return
		}

		fmt.Fprintln(w, "OK. You can close this window and return to the terminal.")
		select {
		case codeCh <- code:
		default:
		}
	})
	return mux
}

func randomState() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
