package blob

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/InsulaLabs/fleet/models"
	"github.com/pkg/errors"
)

const (
	DefaultHintHeader  = "X-Replica-Count"
	defaultHTTPTimeout = 5 * time.Second
)

type HTTPConfig struct {
	Logger     *slog.Logger
	BaseURL    string // blobs are addressed as <BaseURL>/<fileId>
	HintHeader string
	Timeout    time.Duration
	Client     *http.Client // optional, overrides Timeout
}

// HTTPOracle asks a remote blob store whether a file exists with a HEAD
// request. 200 means present, 404 means absent, anything else is an error.
type HTTPOracle struct {
	logger     *slog.Logger
	baseURL    *url.URL
	hintHeader string
	httpClient *http.Client
}

func NewHTTPOracle(cfg HTTPConfig) (*HTTPOracle, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("blob store url is required")
	}
	baseURL, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid blob store url '%s'", cfg.BaseURL)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, errors.Errorf("blob store url '%s' must be http or https", cfg.BaseURL)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hintHeader := cfg.HintHeader
	if hintHeader == "" {
		hintHeader = DefaultHintHeader
	}

	httpClient := cfg.Client
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &HTTPOracle{
		logger:     logger.WithGroup("http_oracle"),
		baseURL:    baseURL,
		hintHeader: hintHeader,
		httpClient: httpClient,
	}, nil
}

// blobURL addresses fileID as a single escaped path segment under the base
// URL. Slashes and dot segments in the id are never resolved.
func (o *HTTPOracle) blobURL(fileID string) string {
	segment := url.PathEscape(fileID)
	if fileID == "." || fileID == ".." {
		segment = strings.ReplaceAll(fileID, ".", "%2E")
	}

	target := *o.baseURL
	target.Path = strings.TrimRight(o.baseURL.Path, "/") + "/" + fileID
	target.RawPath = strings.TrimRight(o.baseURL.EscapedPath(), "/") + "/" + segment
	return target.String()
}

func (o *HTTPOracle) Exists(ctx context.Context, fileID string) (models.BlobPresence, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, o.blobURL(fileID), nil)
	if err != nil {
		return models.BlobPresence{}, errors.Wrap(err, "could not build blob request")
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return models.BlobPresence{}, errors.Wrapf(err, "blob store request for %s failed", fileID)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return models.BlobPresence{}, nil
	default:
		return models.BlobPresence{}, errors.Errorf("blob store returned status %d for %s", resp.StatusCode, fileID)
	}

	presence := models.BlobPresence{Exists: true}
	if raw := resp.Header.Get(o.hintHeader); raw != "" {
		hint, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || hint < 0 {
			o.logger.Warn("Ignoring malformed replica hint", "file_id", fileID, "header", o.hintHeader, "value", raw)
		} else {
			presence.ReplicaHint = &hint
		}
	}
	return presence, nil
}
