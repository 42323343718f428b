package gdrive

import (
	"context"
	"fmt"
	"io"
	"path"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"comfyrelay/internal/ports"
)

// Client implements ports.StorageProvider backed by Google Drive.
// The returned reference is the Drive fileId; the object key becomes the
// file name.
type Client struct {
	srv      *drive.Service
	folderID string
}

func NewClient(srv *drive.Service, folderID string) *Client {
	return &Client{srv: srv, folderID: folderID}
}

// OAuthConfig returns the OAuth client used for uploads and by
// relayctl gdrive-auth.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
}

// NewService builds a Drive service authenticated with a refresh token.
func NewService(ctx context.Context, clientID, clientSecret, refreshToken string) (*drive.Service, error) {
	tok := &oauth2.Token{RefreshToken: refreshToken}
	httpClient := OAuthConfig(clientID, clientSecret).Client(ctx, tok)
	return drive.NewService(ctx, option.WithHTTPClient(httpClient))
}

func (c *Client) Provider() string { return "gdrive" }

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, fmt.Errorf("object_key is required")
	}

	file := &drive.File{
		Name:        path.Base(in.ObjectKey),
		Description: in.ObjectKey,
	}
	if c.folderID != "" {
		file.Parents = []string{c.folderID}
	}

	call := c.srv.Files.Create(file)
	if in.ContentType != "" {
		call = call.Media(in.Reader, googleapi.ContentType(in.ContentType))
	} else {
		call = call.Media(in.Reader)
	}

	created, err := call.Context(ctx).Do()
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("gdrive upload failed: %w", err)
	}

	return ports.PutObjectOutput{Reference: created.Id, Size: created.Size}, nil
}

func (c *Client) GetObject(ctx context.Context, fileID string) (rc io.ReadCloser, contentType string, size int64, err error) {
	resp, err := c.srv.Files.Get(fileID).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return nil, "", 0, err
	}

	return resp.Body, resp.Header.Get("Content-Type"), resp.ContentLength, nil
}

func (c *Client) DeleteObject(ctx context.Context, fileID string) error {
	return c.srv.Files.Delete(fileID).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
}
