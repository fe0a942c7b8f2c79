/*
Copyright 2026 The empo Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/valyala/fasthttp"
)

const (
	defaultHFEndpoint = "https://huggingface.co"
	maxRedirects      = 5
	slowDownloadAfter = 2 * time.Second
)

var errFileNotFound = errors.New("file not found")

// hfClient downloads files of HuggingFace dataset repositories
type hfClient struct {
	endpoint string
	token    string
	client   *fasthttp.Client
	logger   logr.Logger
}

func newHFClient(endpoint, token string, logger logr.Logger) *hfClient {
	return &hfClient{
		endpoint: endpoint,
		token:    token,
		client: &fasthttp.Client{
			Name:               "empo",
			StreamResponseBody: true,
			ReadTimeout:        5 * time.Minute,
		},
		logger: logger,
	}
}

// withDial makes the client connect through the given dial function
func (c *hfClient) withDial(dial func(addr string) (net.Conn, error)) *hfClient {
	c.client.Dial = dial
	return c
}

func (c *hfClient) fileURL(repo, revision, file string) string {
	return fmt.Sprintf("%s/datasets/%s/resolve/%s/%s", c.endpoint, repo, url.PathEscape(revision), file)
}

// downloadFile downloads a repository file to savePath. The file is written
// to a temporary name first, savePath only appears when the download is
// complete. Returns errFileNotFound if the repository has no such file.
func (c *hfClient) downloadFile(ctx context.Context, repo, revision, file, savePath string) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.fileURL(repo, revision, file))
	req.Header.SetMethod(fasthttp.MethodGet)
	if c.token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+c.token)
	}

	if err := c.doFollowRedirects(req, resp); err != nil {
		return err
	}
	defer func() {
		if cerr := resp.CloseBodyStream(); cerr != nil {
			c.logger.Error(cerr, "failed to close response body after download")
		}
	}()

	switch status := resp.StatusCode(); {
	case status == fasthttp.StatusNotFound:
		return errFileNotFound
	case status != fasthttp.StatusOK:
		return fmt.Errorf("bad status: %d %s", status, fasthttp.StatusMessage(status))
	}

	body := resp.BodyStream()
	if body == nil {
		body = bytes.NewReader(resp.Body())
	}
	return c.saveBody(ctx, body, int64(resp.Header.ContentLength()), savePath, repo+"/"+file)
}

// doFollowRedirects sends the request and follows up to maxRedirects
// redirects. The authorization header is only sent to the original host.
func (c *hfClient) doFollowRedirects(req *fasthttp.Request, resp *fasthttp.Response) error {
	for range maxRedirects + 1 {
		if err := c.client.Do(req, resp); err != nil {
			return fmt.Errorf("request to %s failed: %w", req.URI().String(), err)
		}
		if !fasthttp.StatusCodeIsRedirect(resp.StatusCode()) {
			return nil
		}
		location := append([]byte(nil), resp.Header.Peek(fasthttp.HeaderLocation)...)
		if err := resp.CloseBodyStream(); err != nil {
			return err
		}
		resp.Reset()
		if len(location) == 0 {
			return errors.New("redirect without a location header")
		}
		c.logger.V(1).Info("Following redirect", "location", string(location))

		host := string(req.URI().Host())
		req.URI().UpdateBytes(location)
		if newHost := string(req.URI().Host()); newHost != host {
			c.logger.V(1).Info("Redirected to another host, dropping authorization", "host", newHost)
			req.Header.Del(fasthttp.HeaderAuthorization)
		}
	}
	return fmt.Errorf("too many redirects (%d)", maxRedirects)
}

// saveBody copies the body to savePath, name identifies the file in progress logs
func (c *hfClient) saveBody(ctx context.Context, body io.Reader, total int64, savePath, name string) error {
	tmp, err := os.CreateTemp(filepath.Dir(savePath), filepath.Base(savePath)+".part-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	removeTmp := func() {
		if cerr := os.Remove(tmpPath); cerr != nil && !errors.Is(cerr, os.ErrNotExist) {
			c.logger.Error(cerr, "failed to remove incomplete file after download")
		}
	}

	pr := &progressReader{
		Reader:    body,
		total:     total,
		logger:    c.logger.WithValues("file", name),
		ctx:       ctx,
		startTime: time.Now(),
	}

	written, err := io.Copy(tmp, pr)
	if err != nil {
		_ = tmp.Close()
		removeTmp()
		// If context was cancelled, return a specific error
		if errors.Is(err, context.Canceled) {
			return errors.New("download cancelled")
		}
		return fmt.Errorf("failed to download file: %w", err)
	}
	if written == 0 {
		_ = tmp.Close()
		removeTmp()
		return errors.New("downloaded file is empty")
	}
	// Ensure file is fully flushed and closed before it is renamed
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		removeTmp()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		removeTmp()
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpPath, savePath); err != nil {
		removeTmp()
		return fmt.Errorf("failed to move downloaded file: %w", err)
	}
	return nil
}

// progressReader logs the progress of a download every 10 percent, and once
// when the download is still running after slowDownloadAfter
type progressReader struct {
	io.Reader
	total        int64
	downloaded   int64
	startTime    time.Time
	lastPct      int
	reportedSlow bool
	logger       logr.Logger
	ctx          context.Context
}

func (pr *progressReader) Read(p []byte) (int, error) {
	if err := pr.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := pr.Reader.Read(p)
	pr.downloaded += int64(n)
	if pr.total <= 0 {
		return n, err
	}
	pct := int(pr.downloaded * 100 / pr.total)
	slow := !pr.reportedSlow && time.Since(pr.startTime) > slowDownloadAfter
	if slow || (pct != pr.lastPct && pct%10 == 0) {
		pr.reportedSlow = pr.reportedSlow || slow
		pr.lastPct = pct
		pr.logProgress(pct)
	}
	return n, err
}

func (pr *progressReader) logProgress(pct int) {
	elapsed := time.Since(pr.startTime)
	speed := float64(pr.downloaded) / (1024 * 1024 * elapsed.Seconds())
	if pct != 100 {
		if pr.downloaded == 0 {
			pr.logger.Info("Download progress", "percent", 0, "elapsed", elapsed.Round(time.Second).String())
			return
		}
		remaining := time.Duration(float64(pr.total-pr.downloaded) / float64(pr.downloaded) * float64(elapsed))
		pr.logger.Info("Download progress", "percent", pct, "MBps", fmt.Sprintf("%.2f", speed),
			"remaining", remaining.Round(time.Second).String())
		return
	}
	pr.logger.Info("Download completed", "bytes", pr.downloaded, "MBps", fmt.Sprintf("%.2f", speed),
		"elapsed", elapsed.Round(time.Millisecond).String())
}
