package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

const (
	webSearchHTTPTimeout = 10 * time.Second
	maxFetchBodySize     = 512 * 1024
)

// NewWebSearchTool returns a web_search tool that tries Google first and falls back
// to DuckDuckGo. Google is only used when GOOGLE_SEARCH_API_KEY and
// GOOGLE_SEARCH_ENGINE_ID are set.
func NewWebSearchTool(ctx context.Context, log *zap.Logger) (tool.InvokableTool, error) {
	if log == nil {
		log = zap.NewNop()
	}
	googleTool, err := newGoogleSearch(ctx)
	if err != nil {
		return nil, err
	}
	if googleTool == nil {
		log.Info("google search disabled: missing GOOGLE_SEARCH_API_KEY or GOOGLE_SEARCH_ENGINE_ID")
	}
	duckTool, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    webSearchHTTPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init duckduckgo search: %w", err)
	}
	return newWebSearch(googleTool, duckTool, log), nil
}

func newWebSearch(google, duck tool.InvokableTool, log *zap.Logger) tool.InvokableTool {
	if log == nil {
		log = zap.NewNop()
	}
	ws := &webSearchTool{
		google:     google,
		duck:       duck,
		httpClient: &http.Client{Timeout: webSearchHTTPTimeout},
		log:        log,
	}
	info := &schema.ToolInfo{
		Name: "web_search",
		Desc: "Search the web for neighbourhood, market or listing information; " +
			"falls back to another provider if needed; a URL query fetches that page.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Natural language query or URL to search",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, ws.run)
}

func newGoogleSearch(ctx context.Context) (tool.InvokableTool, error) {
	apiKey := os.Getenv("GOOGLE_SEARCH_API_KEY")
	engineID := os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	if apiKey == "" || engineID == "" {
		return nil, nil
	}
	t, err := googlesearch.NewTool(ctx, &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         apiKey,
		SearchEngineID: engineID,
		Lang:           "en",
		Num:            5,
	})
	if err != nil {
		return nil, fmt.Errorf("init google search: %w", err)
	}
	return t, nil
}

type webSearchTool struct {
	google     tool.InvokableTool
	duck       tool.InvokableTool
	httpClient *http.Client
	log        *zap.Logger
}

type webSearchParams struct {
	Query string `json:"query"`
}

func (w *webSearchTool) run(ctx context.Context, params *webSearchParams) (string, error) {
	if params == nil {
		return "", errors.New("missing search parameters")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}

	if looksLikeURL(query) {
		content, err := w.fetchURL(ctx, query)
		if err == nil {
			return content, nil
		}
		w.log.Warn("web url fetch failed", zap.String("url", query), zap.Error(err))
	}

	payload, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}

	for _, provider := range []struct {
		name string
		tool tool.InvokableTool
	}{{"google", w.google}, {"duckduckgo", w.duck}} {
		if provider.tool == nil {
			continue
		}
		result, err := provider.tool.InvokableRun(ctx, string(payload))
		if err == nil {
			return result, nil
		}
		w.log.Warn("search provider failed", zap.String("provider", provider.name), zap.Error(err))
	}
	return "", errors.New("no search provider succeeded")
}

func (w *webSearchTool) fetchURL(ctx context.Context, target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "EstateChat-WebSearch/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch url: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodySize))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
