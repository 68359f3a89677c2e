package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/retriever"
	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// RetrievalToolID is the name the model uses for document search.
const RetrievalToolID = "pdf_document_search"

const retrievalDescription = `Search through PDF documents using semantic similarity. Use this tool when the user asks about information that might be in PDF documents, such as regulations, requirements, procedures, or any content that was loaded from PDF files.`

const retrievalParameters = `{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "query to look up in the document store"
		}
	},
	"required": ["query"]
}`

// DefaultTopK is how many documents a search returns.
const DefaultTopK = 10

// RetrievalTool exposes an Eino retriever as a tool.
type RetrievalTool struct {
	retriever retriever.Retriever
	topK      int
}

// NewRetrievalTool wraps r. topK below 1 means DefaultTopK.
func NewRetrievalTool(r retriever.Retriever, topK int) *RetrievalTool {
	if topK < 1 {
		topK = DefaultTopK
	}
	return &RetrievalTool{retriever: r, topK: topK}
}

func (t *RetrievalTool) ID() string                  { return RetrievalToolID }
func (t *RetrievalTool) Description() string         { return retrievalDescription }
func (t *RetrievalTool) Parameters() json.RawMessage { return json.RawMessage(retrievalParameters) }

// Execute runs the search and joins the document contents with blank lines.
func (t *RetrievalTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if strings.TrimSpace(params.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	docs, err := t.retriever.Retrieve(ctx, params.Query, retriever.WithTopK(t.topK))
	if err != nil {
		return nil, fmt.Errorf("document search: %w", err)
	}

	contents := make([]string, 0, len(docs))
	for _, d := range docs {
		if d != nil && d.Content != "" {
			contents = append(contents, d.Content)
		}
	}
	return &Result{
		Title:    RetrievalToolID,
		Output:   strings.Join(contents, "\n\n"),
		Metadata: map[string]any{"documents": len(contents)},
	}, nil
}

func (t *RetrievalTool) EinoTool() einotool.InvokableTool {
	return NewEinoTool(t)
}

// RetrievalSource hands each session a retrieval tool. Without a retriever
// it fails, and the session carries on with its sandbox tools only.
type RetrievalSource struct {
	Retriever retriever.Retriever
	TopK      int
}

func (s *RetrievalSource) Name() string { return RetrievalToolID }

func (s *RetrievalSource) Tools(ctx context.Context, sessionID string) ([]Tool, error) {
	if s == nil || s.Retriever == nil {
		return nil, errors.New("document search is not configured")
	}
	return []Tool{NewRetrievalTool(s.Retriever, s.TopK)}, nil
}

// HTTPRetriever queries a document search service over HTTP. The service
// accepts POST {"query","k"} and answers {"documents":[{"id","content","metadata"}]}.
type HTTPRetriever struct {
	Endpoint string
	Client   *http.Client
	Headers  map[string]string
}

// NewHTTPRetriever creates a retriever for endpoint.
func NewHTTPRetriever(endpoint string, timeout time.Duration, headers map[string]string) *HTTPRetriever {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRetriever{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
		Headers:  headers,
	}
}

type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type searchResponse struct {
	Documents []struct {
		ID       string         `json:"id"`
		Content  string         `json:"content"`
		Metadata map[string]any `json:"metadata"`
	} `json:"documents"`
}

// Retrieve implements retriever.Retriever.
func (r *HTTPRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	k := DefaultTopK
	options := retriever.GetCommonOptions(&retriever.Options{TopK: &k}, opts...)
	if options.TopK != nil {
		k = *options.TopK
	}

	body, err := json.Marshal(searchRequest{Query: query, K: k})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range r.Headers {
		req.Header.Set(name, value)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	docs := make([]*schema.Document, 0, len(decoded.Documents))
	for _, d := range decoded.Documents {
		docs = append(docs, &schema.Document{ID: d.ID, Content: d.Content, MetaData: d.Metadata})
	}
	return docs, nil
}
