package parser

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const defaultDownloadTimeout = 30 * time.Second

// maxDownloadBytes caps the size of a downloaded export.
const maxDownloadBytes int64 = 256 << 20

var errDownloadTooLarge = fmt.Errorf("download exceeds %d bytes", maxDownloadBytes)

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}
	return &http.Client{Timeout: timeout}
}

// download issues a GET with browser-like headers and copies the body to dst.
func download(ctx context.Context, client *http.Client, url string, dst io.Writer) (int64, error) {
	return downloadLimited(ctx, client, url, dst, maxDownloadBytes)
}

func downloadLimited(ctx context.Context, client *http.Client, url string, dst io.Writer, limit int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	// The open-data portal rejects requests without a browser user agent.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "fr-FR,fr;q=0.9,en;q=0.8")
	req.Header.Set("Connection", "keep-alive")

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	log.Printf("Received response with status code: %d", resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	written, err := io.Copy(dst, io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return written, fmt.Errorf("failed to save file: %w", err)
	}
	if written > limit {
		return written, errDownloadTooLarge
	}
	return written, nil
}
