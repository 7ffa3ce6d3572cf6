// Package search maintains the Elasticsearch indexes backing full-text
// lookup over the imported council data. One index per document kind,
// named after a shared prefix.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
)

// Document kinds, each its own index.
const (
	KindFile         = "file"
	KindPaper        = "paper"
	KindPerson       = "person"
	KindMeeting      = "meeting"
	KindOrganization = "organization"
)

var Kinds = []string{KindFile, KindPaper, KindPerson, KindMeeting, KindOrganization}

type Config struct {
	Addresses []string
	Username  string
	Password  string
	// Prefix namespaces the indexes, so one cluster can serve several
	// deployments.
	Prefix string
	// Language selects the stemmer and stopword set, "german" or
	// "english".
	Language string
}

type Client struct {
	es       *elasticsearch.Client
	prefix   string
	language string
	logger   *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("search: addresses are required")
	}
	if cfg.Prefix == "" {
		return nil, errors.New("search: index prefix is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	language := cfg.Language
	if language == "" {
		language = "german"
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("search: create client: %w", err)
	}
	res, err := es.Info()
	if err != nil {
		return nil, fmt.Errorf("search: connect: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search: connect: %s", res.String())
	}

	return &Client{es: es, prefix: cfg.Prefix, language: language, logger: logger}, nil
}

func (c *Client) IndexName(kind string) string {
	return c.prefix + "-" + kind
}

// EnsureIndexes creates every missing index with its settings and
// mappings. With rebuild set, existing indexes are dropped first and
// documents must be re-indexed from scratch afterwards.
func (c *Client) EnsureIndexes(ctx context.Context, rebuild bool) error {
	for _, kind := range Kinds {
		name := c.IndexName(kind)
		exists, err := c.indexExists(ctx, name)
		if err != nil {
			return err
		}
		if exists && rebuild {
			res, err := c.es.Indices.Delete([]string{name}, c.es.Indices.Delete.WithContext(ctx))
			if err != nil {
				return fmt.Errorf("search: delete index %s: %w", name, err)
			}
			res.Body.Close()
			if res.IsError() {
				return fmt.Errorf("search: delete index %s: %s", name, res.String())
			}
			exists = false
		}
		if exists {
			continue
		}

		body, err := json.Marshal(indexDefinition(kind, c.language))
		if err != nil {
			return fmt.Errorf("search: marshal index %s: %w", name, err)
		}
		res, err := c.es.Indices.Create(name,
			c.es.Indices.Create.WithContext(ctx),
			c.es.Indices.Create.WithBody(strings.NewReader(string(body))),
		)
		if err != nil {
			return fmt.Errorf("search: create index %s: %w", name, err)
		}
		defer res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("search: create index %s: %s", name, res.String())
		}
		c.logger.Info("created search index", "index", name)
	}
	return nil
}

func (c *Client) indexExists(ctx context.Context, name string) (bool, error) {
	res, err := c.es.Indices.Exists([]string{name}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("search: check index %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return false, nil
	}
	if res.IsError() {
		return false, fmt.Errorf("search: check index %s: %s", name, res.String())
	}
	return true, nil
}

// Analyze runs a text through an index's analyzer, for debugging ranking
// oddities from the command line.
func (c *Client) Analyze(ctx context.Context, kind, analyzer, text string) ([]string, error) {
	body, _ := json.Marshal(map[string]string{"analyzer": analyzer, "text": text})
	res, err := c.es.Indices.Analyze(
		c.es.Indices.Analyze.WithContext(ctx),
		c.es.Indices.Analyze.WithIndex(c.IndexName(kind)),
		c.es.Indices.Analyze.WithBody(strings.NewReader(string(body))),
	)
	if err != nil {
		return nil, fmt.Errorf("search: analyze: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search: analyze: %s", res.String())
	}

	var parsed struct {
		Tokens []struct {
			Token string `json:"token"`
		} `json:"tokens"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("search: analyze: %w", err)
	}
	tokens := make([]string, len(parsed.Tokens))
	for i, t := range parsed.Tokens {
		tokens[i] = t.Token
	}
	return tokens, nil
}
