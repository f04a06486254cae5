package storage

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"assetvault/internal/models"
)

const (
	cosmosAPIVersion            = "2018-12-31"
	defaultCosmosRequestTimeout = 30 * time.Second
)

// CosmosConfig describes the document-store endpoint and target collection.
// The key is the account master key in base64, as issued by the service.
type CosmosConfig struct {
	Endpoint       string
	Key            string
	Database       string
	Container      string
	RequestTimeout time.Duration
}

func (cfg CosmosConfig) requestTimeout() time.Duration {
	if cfg.RequestTimeout <= 0 {
		return defaultCosmosRequestTimeout
	}
	return cfg.RequestTimeout
}

type cosmosRepository struct {
	cfg        CosmosConfig
	endpoint   *url.URL
	httpClient *http.Client
}

// NewCosmosRepository builds a repository speaking the Cosmos DB document
// REST API. Construction never validates connectivity or credentials;
// incomplete configuration surfaces as an error on the first request.
func NewCosmosRepository(cfg CosmosConfig) Repository {
	repo := &cosmosRepository{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.requestTimeout()},
	}
	if trimmed := strings.TrimSpace(cfg.Endpoint); trimmed != "" {
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			repo.endpoint = parsed
		}
	}
	return repo
}

// cosmosDocument is the wire form of an asset. Timestamps travel as ISO-8601
// text, matching the representation the HTTP API exposes.
type cosmosDocument struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	BlobURL     string `json:"blobUrl"`
	BlobKey     string `json:"blobKey,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

func documentFromAsset(asset models.Asset) cosmosDocument {
	doc := cosmosDocument{
		ID:          asset.ID,
		Title:       asset.Title,
		Description: asset.Description,
		BlobURL:     asset.BlobURL,
		BlobKey:     asset.BlobKey,
		CreatedAt:   asset.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if asset.UpdatedAt != nil {
		doc.UpdatedAt = asset.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return doc
}

func (d cosmosDocument) asset() (models.Asset, error) {
	createdAt, err := parseDocumentTime(d.CreatedAt)
	if err != nil {
		return models.Asset{}, fmt.Errorf("parse created_at for %s: %w", d.ID, err)
	}
	asset := models.Asset{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		BlobURL:     d.BlobURL,
		BlobKey:     d.BlobKey,
		CreatedAt:   createdAt,
	}
	if d.UpdatedAt != "" {
		updatedAt, err := parseDocumentTime(d.UpdatedAt)
		if err != nil {
			return models.Asset{}, fmt.Errorf("parse updated_at for %s: %w", d.ID, err)
		}
		asset.UpdatedAt = &updatedAt
	}
	return asset, nil
}

// parseDocumentTime accepts RFC 3339 plus the zone-less form older documents
// carry from the previous writer.
func parseDocumentTime(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02T15:04:05.999999999", value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func (r *cosmosRepository) collectionLink() string {
	return fmt.Sprintf("dbs/%s/colls/%s", strings.TrimSpace(r.cfg.Database), strings.TrimSpace(r.cfg.Container))
}

func (r *cosmosRepository) documentLink(id string) string {
	return r.collectionLink() + "/docs/" + id
}

func (r *cosmosRepository) resourceURL(link string) (*url.URL, error) {
	if r.endpoint == nil {
		return nil, fmt.Errorf("document store endpoint not configured")
	}
	u := *r.endpoint
	u.Path = strings.TrimRight(u.Path, "/") + "/" + link
	return &u, nil
}

// newRequest builds a signed request against the given resource. resourceLink
// addresses the signing scope, which differs from the request path only for
// feed operations.
func (r *cosmosRepository) newRequest(ctx context.Context, method, path, resourceType, resourceLink string, body []byte) (*http.Request, error) {
	target, err := r.resourceURL(path)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", strings.ToLower(method), err)
	}
	date := time.Now().UTC().Format(http.TimeFormat)
	request.Header.Set("x-ms-date", date)
	request.Header.Set("x-ms-version", cosmosAPIVersion)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	token, err := r.authToken(method, resourceType, resourceLink, date)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", token)
	return request, nil
}

// authToken computes the master-key signature the document store expects:
// HMAC-SHA256 over verb, resource type, resource link, and date, all
// lowercase and newline-separated.
func (r *cosmosRepository) authToken(verb, resourceType, resourceLink, date string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(r.cfg.Key))
	if err != nil {
		return "", fmt.Errorf("decode document store key: %w", err)
	}
	if len(key) == 0 {
		return "", fmt.Errorf("document store key not configured")
	}
	payload := strings.ToLower(verb) + "\n" +
		resourceType + "\n" +
		resourceLink + "\n" +
		strings.ToLower(date) + "\n" +
		"" + "\n"
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return url.QueryEscape("type=master&ver=1.0&sig=" + signature), nil
}

func partitionKeyHeader(id string) string {
	encoded, _ := json.Marshal([]string{id})
	return string(encoded)
}

func (r *cosmosRepository) do(request *http.Request) (*http.Response, []byte, error) {
	response, err := r.httpClient.Do(request)
	if err != nil {
		return nil, nil, err
	}
	defer response.Body.Close()
	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return response, payload, nil
}

func cosmosStatusError(op string, status int, payload []byte) error {
	message := strings.TrimSpace(string(payload))
	if len(message) > 256 {
		message = message[:256]
	}
	if message == "" {
		return fmt.Errorf("%s: unexpected status %d", op, status)
	}
	return fmt.Errorf("%s: unexpected status %d: %s", op, status, message)
}

func (r *cosmosRepository) Ping(ctx context.Context) error {
	request, err := r.newRequest(ctx, http.MethodGet, r.collectionLink(), "colls", r.collectionLink(), nil)
	if err != nil {
		return err
	}
	response, payload, err := r.do(request)
	if err != nil {
		return fmt.Errorf("ping document store: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return cosmosStatusError("ping document store", response.StatusCode, payload)
	}
	return nil
}

func (r *cosmosRepository) CreateAsset(ctx context.Context, asset models.Asset) error {
	body, err := json.Marshal(documentFromAsset(asset))
	if err != nil {
		return fmt.Errorf("encode asset %s: %w", asset.ID, err)
	}
	link := r.collectionLink()
	request, err := r.newRequest(ctx, http.MethodPost, link+"/docs", "docs", link, body)
	if err != nil {
		return err
	}
	request.Header.Set("x-ms-documentdb-partitionkey", partitionKeyHeader(asset.ID))
	response, payload, err := r.do(request)
	if err != nil {
		return fmt.Errorf("create asset %s: %w", asset.ID, err)
	}
	if response.StatusCode != http.StatusCreated {
		return cosmosStatusError(fmt.Sprintf("create asset %s", asset.ID), response.StatusCode, payload)
	}
	return nil
}

func (r *cosmosRepository) GetAsset(ctx context.Context, id string) (models.Asset, error) {
	link := r.documentLink(id)
	request, err := r.newRequest(ctx, http.MethodGet, link, "docs", link, nil)
	if err != nil {
		return models.Asset{}, err
	}
	request.Header.Set("x-ms-documentdb-partitionkey", partitionKeyHeader(id))
	response, payload, err := r.do(request)
	if err != nil {
		return models.Asset{}, fmt.Errorf("read asset %s: %w", id, err)
	}
	switch response.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return models.Asset{}, ErrNotFound
	default:
		return models.Asset{}, cosmosStatusError(fmt.Sprintf("read asset %s", id), response.StatusCode, payload)
	}
	var doc cosmosDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return models.Asset{}, fmt.Errorf("decode asset %s: %w", id, err)
	}
	return doc.asset()
}

func (r *cosmosRepository) ListAssets(ctx context.Context) ([]models.Asset, error) {
	link := r.collectionLink()
	assets := make([]models.Asset, 0)
	continuation := ""
	for {
		request, err := r.newRequest(ctx, http.MethodGet, link+"/docs", "docs", link, nil)
		if err != nil {
			return nil, err
		}
		request.Header.Set("x-ms-max-item-count", "-1")
		if continuation != "" {
			request.Header.Set("x-ms-continuation", continuation)
		}
		response, payload, err := r.do(request)
		if err != nil {
			return nil, fmt.Errorf("list assets: %w", err)
		}
		if response.StatusCode != http.StatusOK {
			return nil, cosmosStatusError("list assets", response.StatusCode, payload)
		}
		var feed struct {
			Documents []cosmosDocument `json:"Documents"`
		}
		if err := json.Unmarshal(payload, &feed); err != nil {
			return nil, fmt.Errorf("decode asset feed: %w", err)
		}
		for _, doc := range feed.Documents {
			asset, err := doc.asset()
			if err != nil {
				return nil, err
			}
			assets = append(assets, asset)
		}
		continuation = response.Header.Get("x-ms-continuation")
		if continuation == "" {
			return assets, nil
		}
	}
}

func (r *cosmosRepository) ReplaceAsset(ctx context.Context, asset models.Asset) error {
	body, err := json.Marshal(documentFromAsset(asset))
	if err != nil {
		return fmt.Errorf("encode asset %s: %w", asset.ID, err)
	}
	link := r.documentLink(asset.ID)
	request, err := r.newRequest(ctx, http.MethodPut, link, "docs", link, body)
	if err != nil {
		return err
	}
	request.Header.Set("x-ms-documentdb-partitionkey", partitionKeyHeader(asset.ID))
	response, payload, err := r.do(request)
	if err != nil {
		return fmt.Errorf("replace asset %s: %w", asset.ID, err)
	}
	switch response.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return cosmosStatusError(fmt.Sprintf("replace asset %s", asset.ID), response.StatusCode, payload)
	}
}

func (r *cosmosRepository) DeleteAsset(ctx context.Context, id string) error {
	link := r.documentLink(id)
	request, err := r.newRequest(ctx, http.MethodDelete, link, "docs", link, nil)
	if err != nil {
		return err
	}
	request.Header.Set("x-ms-documentdb-partitionkey", partitionKeyHeader(id))
	response, payload, err := r.do(request)
	if err != nil {
		return fmt.Errorf("delete asset %s: %w", id, err)
	}
	switch response.StatusCode {
	case http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return cosmosStatusError(fmt.Sprintf("delete asset %s", id), response.StatusCode, payload)
	}
}

var _ Repository = (*cosmosRepository)(nil)
