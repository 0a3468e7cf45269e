package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"path"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

const maxAssetSize = 10 << 20

// assetKind is a file type upload_asset accepts. sniff checks the content
// agrees with the extension.
type assetKind struct {
	ext       string
	mediaType string
	sniff     func([]byte) bool
}

var assetKinds = []assetKind{
	{".png", "image/png", detects("image/png")},
	{".jpg", "image/jpeg", detects("image/jpeg")},
	{".jpeg", "image/jpeg", detects("image/jpeg")},
	{".gif", "image/gif", detects("image/gif")},
	{".webp", "image/webp", detects("image/webp")},
	{".svg", "image/svg+xml", looksLikeSVG},
	{".pdf", "application/pdf", detects("application/pdf")},
}

var unsafeNameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func detects(mediaType string) func([]byte) bool {
	return func(data []byte) bool {
		got, _, _ := mime.ParseMediaType(http.DetectContentType(data))
		return got == mediaType
	}
}

func looksLikeSVG(data []byte) bool {
	return bytes.Contains(data[:min(len(data), 1024)], []byte("<svg"))
}

func kindByExt(ext string) (assetKind, bool) {
	ext = strings.ToLower(ext)
	for _, k := range assetKinds {
		if k.ext == ext {
			return k, true
		}
	}
	return assetKind{}, false
}

func kindByMediaType(mt string) (assetKind, bool) {
	for _, k := range assetKinds {
		if k.mediaType == mt {
			return k, true
		}
	}
	return assetKind{}, false
}

func allowedExts() string {
	exts := make([]string, len(assetKinds))
	for i, k := range assetKinds {
		exts[i] = strings.TrimPrefix(k.ext, ".")
	}
	return strings.Join(exts, ", ")
}

type uploadResult struct {
	SavedPath     string `json:"savedPath"`
	MarkdownImage string `json:"markdownImage"`
}

// download is fetched or decoded asset content. mediaType may be empty.
type download struct {
	data      []byte
	mediaType string
	// name is the last path segment of an http URL.
	name string
}

func (s *Server) uploadAsset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var dl download
	if strings.HasPrefix(rawURL, "data:") {
		dl, err = decodeDataURI(rawURL)
	} else {
		dl, err = s.fetch(ctx, rawURL)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(dl.data) > maxAssetSize {
		return mcp.NewToolResultError(fmt.Sprintf("file too large: %d bytes (max %d)", len(dl.data), maxAssetSize)), nil
	}

	name, err := assetName(req.GetString("filename", ""), dl)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if _, err := s.docs.ReadAttachment(ctx, token, name); err == nil {
		return mcp.NewToolResultError(fmt.Sprintf("file already exists: %s", name)), nil
	}
	saved, err := s.docs.AddAttachment(ctx, token, name, dl.data)
	if err != nil {
		return errorResult(err), nil
	}

	out, _ := json.Marshal(uploadResult{
		SavedPath:     saved,
		MarkdownImage: fmt.Sprintf("![%s](%s)", name, name),
	})
	return mcp.NewToolResultText(string(out)), nil
}

// assetName picks and checks the stored file name. An explicit name wins,
// then the URL's file name, then a random name with the extension of the
// media type.
func assetName(requested string, dl download) (string, error) {
	name := sanitizeName(requested)
	if name == "" && path.Ext(dl.name) != "" {
		name = sanitizeName(dl.name)
	}
	if name == "" {
		k, ok := kindByMediaType(dl.mediaType)
		if !ok {
			return "", fmt.Errorf("cannot name the file: unsupported media type %q", dl.mediaType)
		}
		name = strings.ReplaceAll(uuid.NewString(), "-", "")[:12] + k.ext
	}

	k, ok := kindByExt(path.Ext(name))
	if !ok {
		return "", fmt.Errorf("unsupported file extension %q (allowed: %s)", path.Ext(name), allowedExts())
	}
	if !k.sniff(dl.data) {
		return "", fmt.Errorf("content of %s is not %s (detected %s)", name, k.mediaType, http.DetectContentType(dl.data))
	}
	return name, nil
}

// sanitizeName keeps the base name and replaces characters outside
// [a-zA-Z0-9._-]. Leading dots are dropped so the file is never hidden.
func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.TrimLeft(unsafeNameRe.ReplaceAllString(name, "_"), ".")
}

// decodeDataURI parses data:[<mediatype>][;params];base64,<payload>.
func decodeDataURI(uri string) (download, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return download{}, errors.New("invalid data URI: missing comma separator")
	}
	header, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return download{}, errors.New("only base64 data URIs are supported")
	}
	mt := "text/plain"
	if header != "" {
		parsed, _, err := mime.ParseMediaType(header)
		if err != nil {
			return download{}, fmt.Errorf("invalid data URI media type: %w", err)
		}
		mt = parsed
	}
	data, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	if err != nil {
		return download{}, fmt.Errorf("invalid base64 data: %w", err)
	}
	return download{data: data, mediaType: mt}, nil
}

// fetch downloads an http(s) URL through the guarded client.
func (s *Server) fetch(ctx context.Context, rawURL string) (download, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return download{}, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return download{}, fmt.Errorf("unsupported scheme %q (only http/https)", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return download{}, fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := s.fetchClient.Do(req)
	if err != nil {
		return download{}, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return download{}, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize+1))
	if err != nil {
		return download{}, fmt.Errorf("read body failed: %w", err)
	}
	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return download{data: data, mediaType: mt, name: path.Base(u.Path)}, nil
}

// newFetchClient returns a client that refuses to connect to loopback,
// link-local (cloud metadata) and unspecified addresses. The check runs on
// the resolved address of every connection, redirects included.
func newFetchClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(_, address string, _ syscall.RawConn) error {
			ap, err := netip.ParseAddrPort(address)
			if err != nil {
				return fmt.Errorf("blocked host: %s", address)
			}
			if blockedAddr(ap.Addr()) {
				return fmt.Errorf("blocked host: %s", ap.Addr())
			}
			return nil
		},
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects (max 5)")
			}
			return nil
		},
	}
}

func blockedAddr(a netip.Addr) bool {
	a = a.Unmap()
	return a.IsLoopback() || a.IsLinkLocalUnicast() || a.IsLinkLocalMulticast() || a.IsUnspecified()
}
