package storage

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const azureStorageAPIVersion = "2020-10-02"

// AzureBlobConfig configures the shared-key blob driver. ConnectionString is
// the account connection string issued by the service; Container names the
// target container.
type AzureBlobConfig struct {
	ConnectionString string
	Container        string
	RequestTimeout   time.Duration
}

func (cfg AzureBlobConfig) requestTimeout() time.Duration {
	if cfg.RequestTimeout <= 0 {
		return defaultObjectStorageRequestTimeout
	}
	return cfg.RequestTimeout
}

type azureBlobStore struct {
	account    string
	key        string
	endpoint   *url.URL
	container  string
	httpClient *http.Client
}

// NewAzureBlobStore builds the shared-key blob driver from a connection
// string. An unusable connection string degrades to the unconfigured store so
// startup never fails; the first request surfaces the problem.
func NewAzureBlobStore(cfg AzureBlobConfig) BlobStore {
	settings := parseConnectionString(cfg.ConnectionString)
	account := settings["accountname"]
	if account == "" {
		return unconfiguredBlobStore{}
	}
	endpoint := settings["blobendpoint"]
	if endpoint == "" {
		protocol := settings["defaultendpointsprotocol"]
		if protocol == "" {
			protocol = "https"
		}
		suffix := settings["endpointsuffix"]
		if suffix == "" {
			suffix = "core.windows.net"
		}
		endpoint = fmt.Sprintf("%s://%s.blob.%s", protocol, account, suffix)
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return unconfiguredBlobStore{}
	}
	container := strings.TrimSpace(cfg.Container)
	if container == "" {
		container = "uploads"
	}
	return &azureBlobStore{
		account:    account,
		key:        settings["accountkey"],
		endpoint:   parsed,
		container:  container,
		httpClient: &http.Client{Timeout: cfg.requestTimeout()},
	}
}

func parseConnectionString(raw string) map[string]string {
	settings := make(map[string]string)
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pair := strings.SplitN(part, "=", 2)
		if len(pair) != 2 {
			continue
		}
		settings[strings.ToLower(strings.TrimSpace(pair[0]))] = strings.TrimSpace(pair[1])
	}
	return settings
}

func (c *azureBlobStore) Enabled() bool { return true }

func (c *azureBlobStore) blobURL(key string) *url.URL {
	u := *c.endpoint
	basePath := strings.TrimRight(u.Path, "/")
	u.Path = basePath + "/" + c.container + "/" + strings.TrimLeft(key, "/")
	return &u
}

func (c *azureBlobStore) Upload(ctx context.Context, key, contentType string, body []byte) (ObjectReference, error) {
	target := c.blobURL(key)
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), bytes.NewReader(body))
	if err != nil {
		return ObjectReference{}, fmt.Errorf("create upload request: %w", err)
	}
	request.Header.Set("x-ms-blob-type", "BlockBlob")
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	request.ContentLength = int64(len(body))
	if err := c.signRequest(request); err != nil {
		return ObjectReference{}, err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return ObjectReference{}, fmt.Errorf("upload blob %s: %w", key, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode != http.StatusCreated {
		return ObjectReference{}, fmt.Errorf("upload blob %s: unexpected status %d", key, response.StatusCode)
	}
	return ObjectReference{Key: key, URL: target.String()}, nil
}

func (c *azureBlobStore) Delete(ctx context.Context, key string) error {
	target := c.blobURL(key)
	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, target.String(), nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	if err := c.signRequest(request); err != nil {
		return err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
		return nil
	case response.StatusCode == http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("delete blob %s: unexpected status %d", key, response.StatusCode)
	}
}

// signRequest applies the shared-key authorization scheme: HMAC-SHA256 over
// the canonicalized verb, standard headers, x-ms-* headers, and resource
// path, keyed with the decoded account key.
func (c *azureBlobStore) signRequest(req *http.Request) error {
	req.Header.Set("x-ms-date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("x-ms-version", azureStorageAPIVersion)
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.key))
	if err != nil {
		return fmt.Errorf("decode storage account key: %w", err)
	}
	if len(key) == 0 {
		return fmt.Errorf("storage account key not configured")
	}
	contentLength := ""
	if req.ContentLength > 0 {
		contentLength = strconv.FormatInt(req.ContentLength, 10)
	}
	stringToSign := strings.Join([]string{
		req.Method,
		req.Header.Get("Content-Encoding"),
		req.Header.Get("Content-Language"),
		contentLength,
		req.Header.Get("Content-MD5"),
		req.Header.Get("Content-Type"),
		"", // Date is carried in x-ms-date
		req.Header.Get("If-Modified-Since"),
		req.Header.Get("If-Match"),
		req.Header.Get("If-None-Match"),
		req.Header.Get("If-Unmodified-Since"),
		req.Header.Get("Range"),
		c.canonicalizedHeaders(req) + c.canonicalizedResource(req),
	}, "\n")
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	req.Header.Set("Authorization", fmt.Sprintf("SharedKey %s:%s", c.account, signature))
	return nil
}

func (c *azureBlobStore) canonicalizedHeaders(req *http.Request) string {
	var names []string
	for name := range req.Header {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-ms-") {
			names = append(names, lower)
		}
	}
	sort.Strings(names)
	var builder strings.Builder
	for _, name := range names {
		builder.WriteString(name)
		builder.WriteByte(':')
		builder.WriteString(strings.TrimSpace(req.Header.Get(name)))
		builder.WriteByte('\n')
	}
	return builder.String()
}

func (c *azureBlobStore) canonicalizedResource(req *http.Request) string {
	resource := "/" + c.account + req.URL.EscapedPath()
	if req.URL.RawQuery == "" {
		return resource
	}
	values, err := url.ParseQuery(req.URL.RawQuery)
	if err != nil {
		return resource
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	builder.WriteString(resource)
	for _, key := range keys {
		sorted := append([]string(nil), values[key]...)
		sort.Strings(sorted)
		builder.WriteByte('\n')
		builder.WriteString(strings.ToLower(key))
		builder.WriteByte(':')
		builder.WriteString(strings.Join(sorted, ","))
	}
	return builder.String()
}

var _ BlobStore = (*azureBlobStore)(nil)
