package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

const webfetchDescription = `Fetches content from a specified URL and returns it in the requested format.

Usage notes:
  - The URL must be a fully-formed valid URL starting with http:// or https://
  - This tool is read-only and does not modify any files
  - Responses larger than 5MB are rejected
  - Use format "markdown" for readable content, "text" for plain text, "html" for raw HTML`

const (
	maxResponseSize = 5 * 1024 * 1024
	defaultTimeout  = 30 * time.Second
	maxTimeout      = 120 * time.Second
)

type webFetchInput struct {
	URL     string `json:"url" validate:"required,http_url" jsonschema_description:"The URL to fetch content from"`
	Format  string `json:"format" validate:"required,oneof=text markdown html" jsonschema:"enum=text,enum=markdown,enum=html" jsonschema_description:"The format to return the content in"`
	Timeout int    `json:"timeout,omitempty" validate:"gte=0" jsonschema_description:"Optional timeout in seconds (max 120)"`
}

// NewWebFetchTool creates the webfetch tool. A nil client uses http.DefaultClient.
func NewWebFetchTool(client *http.Client) Tool {
	if client == nil {
		client = http.DefaultClient
	}
	return Define(WebFetchToolName, webfetchDescription, func(ctx context.Context, call Call, in webFetchInput) (Result, error) {
		timeout := defaultTimeout
		if in.Timeout > 0 {
			timeout = min(time.Duration(in.Timeout)*time.Second, maxTimeout)
		}

		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, in.URL, nil)
		if err != nil {
			return Result{}, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", "streamd/1.0")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		switch in.Format {
		case "markdown":
			req.Header.Set("Accept", "text/markdown;q=1.0, text/x-markdown;q=0.9, text/plain;q=0.8, text/html;q=0.7, */*;q=0.1")
		case "text":
			req.Header.Set("Accept", "text/plain;q=1.0, text/markdown;q=0.9, text/html;q=0.8, */*;q=0.1")
		case "html":
			req.Header.Set("Accept", "text/html;q=1.0, application/xhtml+xml;q=0.9, text/plain;q=0.8, text/markdown;q=0.7, */*;q=0.1")
		}

		resp, err := client.Do(req)
		if err != nil {
			return Result{}, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return Result{}, fmt.Errorf("request failed with status code: %d", resp.StatusCode)
		}
		if resp.ContentLength > maxResponseSize {
			return Result{}, fmt.Errorf("response too large (exceeds 5MB limit)")
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
		if err != nil {
			return Result{}, fmt.Errorf("read response: %w", err)
		}
		if len(body) > maxResponseSize {
			return Result{}, fmt.Errorf("response too large (exceeds 5MB limit)")
		}

		content := string(body)
		contentType := resp.Header.Get("Content-Type")
		isHTML := strings.Contains(contentType, "text/html")

		output := content
		switch {
		case in.Format == "markdown" && isHTML:
			if output, err = convertHTMLToMarkdown(content); err != nil {
				return Result{}, fmt.Errorf("convert HTML to markdown: %w", err)
			}
		case in.Format == "text" && isHTML:
			if output, err = extractTextFromHTML(content); err != nil {
				return Result{}, fmt.Errorf("extract text from HTML: %w", err)
			}
		}

		return Result{
			Title:  fmt.Sprintf("%s (%s)", in.URL, contentType),
			Output: output,
			Metadata: map[string]any{
				"url":         in.URL,
				"contentType": contentType,
				"bytes":       len(body),
			},
		}, nil
	})
}

// extractTextFromHTML returns the visible text of an HTML document.
func extractTextFromHTML(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, iframe, object, embed").Remove()
	return strings.TrimSpace(doc.Text()), nil
}

func convertHTMLToMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		HorizontalRule:   "---",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		EmDelimiter:      "*",
	})
	converter.Remove("script", "style", "meta", "link")
	return converter.ConvertString(html)
}
