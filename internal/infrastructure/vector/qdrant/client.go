package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nurturingai/leadnurture/internal/core/domain"
	"github.com/nurturingai/leadnurture/internal/core/ports"
	"github.com/nurturingai/leadnurture/internal/infrastructure/resilience"
)

const (
	payloadText     = "text"
	payloadRecordID = "record_id"
)

var errCollectionMissing = errors.New("qdrant collection does not exist")

// Store is a semantic store over one Qdrant collection. Texts are embedded by the
// configured embedder; record ids map to deterministic point ids.
type Store struct {
	baseURL    string
	collection string
	embedder   ports.Embedder
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string, embedder ports.Embedder, executor *resilience.Executor) *Store {
	return &Store{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		embedder:   embedder,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		executor:   executor,
	}
}

func (s *Store) Add(ctx context.Context, records []domain.SemanticRecord) error {
	if len(records) == 0 {
		return nil
	}
	texts := make([]string, 0, len(records))
	for _, r := range records {
		texts = append(texts, r.Text)
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed records: %w", err)
	}
	if len(vectors) != len(records) {
		return fmt.Errorf("records/vectors mismatch: %d/%d", len(records), len(vectors))
	}

	if err := s.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(records))
	for i, r := range records {
		payload := make(map[string]any, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			payload[k] = v
		}
		payload[payloadText] = r.Text
		payload[payloadRecordID] = r.ID
		points = append(points, point{
			ID:      s.pointID(r.ID),
			Vector:  vectors[i],
			Payload: payload,
		})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", s.baseURL, s.collection)
	return s.execute(ctx, "qdrant.upsert", func(callCtx context.Context) error {
		return s.doJSON(callCtx, http.MethodPut, url, map[string]any{"points": points}, nil, "upsert")
	})
}

func (s *Store) Query(ctx context.Context, text string, topK int, filter *domain.MetadataFilter) ([]domain.SemanticMatch, error) {
	if topK <= 0 {
		topK = 5
	}
	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	reqBody := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if filter != nil && filter.Key != "" {
		reqBody["filter"] = map[string]any{
			"must": []map[string]any{
				{
					"key": filter.Key,
					"match": map[string]any{
						"value": filter.Value,
					},
				},
			},
		}
	}

	var searchResp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", s.baseURL, s.collection)
	err = s.execute(ctx, "qdrant.search", func(callCtx context.Context) error {
		return s.doJSON(callCtx, http.MethodPost, url, reqBody, &searchResp, "search")
	})
	if errors.Is(err, errCollectionMissing) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]domain.SemanticMatch, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		meta := make(map[string]string, len(r.Payload))
		for k := range r.Payload {
			if k == payloadText || k == payloadRecordID {
				continue
			}
			meta[k] = getStringPayload(r.Payload, k)
		}
		out = append(out, domain.SemanticMatch{
			ID:       getStringPayload(r.Payload, payloadRecordID),
			Text:     getStringPayload(r.Payload, payloadText),
			Metadata: meta,
			Score:    r.Score,
		})
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var countResp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/count", s.baseURL, s.collection)
	err := s.execute(ctx, "qdrant.count", func(callCtx context.Context) error {
		return s.doJSON(callCtx, http.MethodPost, url, map[string]any{"exact": true}, &countResp, "count")
	})
	if errors.Is(err, errCollectionMissing) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return countResp.Result.Count, nil
}

func (s *Store) pointID(recordID string) string {
	if recordID == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(s.collection+"/"+recordID)).String()
}

func (s *Store) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	var err error
	if s.executor != nil {
		err = s.executor.Execute(ctx, operation, fn, classifyQdrantError)
	} else {
		err = fn(ctx)
	}
	if err != nil && !errors.Is(err, errCollectionMissing) && classifyQdrantError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

func classifyQdrantError(err error) resilience.ErrorClassification {
	if errors.Is(err, errCollectionMissing) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ClassifyTransport(err)
}

func (s *Store) doJSON(ctx context.Context, method, url string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && operation != "upsert" {
		return errCollectionMissing
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &resilience.HTTPStatusError{
			Service:    "qdrant",
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func (s *Store) ensureCollection(ctx context.Context, vectorSize int) error {
	s.ensureMu.Lock()
	if s.ensuredCollection && s.ensuredVectorSize == vectorSize {
		s.ensureMu.Unlock()
		return nil
	}
	s.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", s.baseURL, s.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant ensure collection request: %w", err)
	}
	defer resp.Body.Close()

	// 409 when the collection already exists.
	if resp.StatusCode == http.StatusConflict {
		s.markCollectionEnsured(vectorSize)
		return nil
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(body)); msg != "" {
			return fmt.Errorf("qdrant ensure collection status: %s: %s", resp.Status, msg)
		}
		return fmt.Errorf("qdrant ensure collection status: %s", resp.Status)
	}
	s.markCollectionEnsured(vectorSize)
	return nil
}

func (s *Store) markCollectionEnsured(vectorSize int) {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	s.ensuredCollection = true
	s.ensuredVectorSize = vectorSize
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
