package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// FileStore downloads Telegram files to a local directory.
type FileStore struct {
	client *Client
	dir    string
}

// NewFileStore creates a file store rooted at dir. The directory is
// created on first download if missing.
func NewFileStore(client *Client, dir string) *FileStore {
	return &FileStore{client: client, dir: dir}
}

type getFileResult struct {
	OK     bool `json:"ok"`
	Result struct {
		FilePath string `json:"file_path"`
	} `json:"result"`
	Description string `json:"description,omitempty"`
}

// Download resolves the file through getFile, fetches the bytes and
// writes them under the store's directory keyed by the file's unique ID.
// Repeated downloads of the same file overwrite the same path.
func (fs *FileStore) Download(ctx context.Context, fileID, fileUniqueID string) (string, error) {
	url := fmt.Sprintf("%s/bot%s/getFile?file_id=%s", fs.client.apiBase, fs.client.token, fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build getFile request: %w", err)
	}

	resp, err := fs.client.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("telegram getFile request failed: %w", err)
	}
	defer resp.Body.Close()

	var decoded getFileResult
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode getFile response: %w", err)
	}
	if !decoded.OK {
		return "", fmt.Errorf("telegram getFile rejected: %s", decoded.Description)
	}

	if err := os.MkdirAll(fs.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download dir: %w", err)
	}

	localPath := filepath.Join(fs.dir, fileUniqueID+filepath.Ext(decoded.Result.FilePath))
	if err := fs.fetch(ctx, decoded.Result.FilePath, localPath); err != nil {
		return "", err
	}
	return localPath, nil
}

func (fs *FileStore) fetch(ctx context.Context, remotePath, localPath string) error {
	url := fmt.Sprintf("%s/file/bot%s/%s", fs.client.apiBase, fs.client.token, remotePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build file request: %w", err)
	}

	resp, err := fs.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram file download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram file download returned status %d", resp.StatusCode)
	}

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("failed to write local file: %w", err)
	}
	return nil
}
