package medline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cognicore/mpingest/pkg/mpingest/internalerr"
)

// Download saves url to dest. The file is written next to dest and renamed
// into place, so dest never holds a partial download.
func (c *Client) Download(ctx context.Context, url, dest string) error {
	c.logger.Info("downloading", "url", url, "dest", dest)

	resp, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("%w: download %s: %w", internalerr.ErrFetch, url, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return err
	}

	c.logger.Info("download complete", "dest", dest, "bytes", n)
	return nil
}
