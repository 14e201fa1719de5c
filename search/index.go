// Package search keeps a full-text index over task titles so chat users
// can find tasks by words instead of ids.
package search

import (
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/errors"
	"github.com/vinayprograms/taskbot/logging"
	"github.com/vinayprograms/taskbot/tasks"
)

// DefaultLimit caps Search results when Query.Limit is zero.
const DefaultLimit = 20

// taskDocument is what gets indexed for one task.
type taskDocument struct {
	Title        string `json:"title"`
	Status       string `json:"status"`
	Category     string `json:"category"`
	Conversation string `json:"conversation"`
	Author       string `json:"author"`
	Mentioned    string `json:"mentioned"`
	Claimant     string `json:"claimant"`
}

// Query selects tasks in Search.
type Query struct {
	Text         string
	Conversation *chat.Address
	ActiveOnly   bool
	Limit        int
}

// Index is an in-memory bleve index kept in sync with a tasks.Store.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	store  *tasks.Store
	logger *logging.Logger
}

// New builds the index from the store's current content and subscribes
// to later changes.
func New(store *tasks.Store, logger *logging.Logger) (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, errors.Wrap(err, "create search index")
	}
	if logger == nil {
		logger = logging.New()
	}
	s := &Index{index: idx, store: store, logger: logger.WithComponent("search")}

	batch := idx.NewBatch()
	for _, t := range store.List(tasks.Filter{}) {
		if err := batch.Index(docID(t.ID), document(t)); err != nil {
			idx.Close()
			return nil, errors.Wrap(err, "index task", errors.WithTaskID(t.ID))
		}
	}
	if err := idx.Batch(batch); err != nil {
		idx.Close()
		return nil, errors.Wrap(err, "index existing tasks")
	}

	store.Subscribe(s.apply)
	return s, nil
}

func buildIndexMapping() mapping.IndexMapping {
	taskMapping := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	keyword := bleve.NewKeywordFieldMapping()

	taskMapping.AddFieldMappingsAt("title", text)
	for _, f := range []string{"status", "category", "conversation", "author", "mentioned", "claimant"} {
		taskMapping.AddFieldMappingsAt(f, keyword)
	}

	m := bleve.NewIndexMapping()
	m.DefaultMapping = taskMapping
	m.DefaultAnalyzer = standard.Name
	return m
}

func docID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func document(t *tasks.Task) taskDocument {
	doc := taskDocument{
		Title:     t.Title,
		Status:    string(t.Status),
		Category:  string(t.Category),
		Author:    t.AuthorHandle,
		Mentioned: t.MentionedHandle,
		Claimant:  t.ClaimantHandle,
	}
	if t.OriginConversation != nil {
		doc.Conversation = t.OriginConversation.String()
	}
	return doc
}

// apply mirrors one store change. Changes from concurrent mutations may
// arrive out of order, so updates re-read the store before indexing.
func (s *Index) apply(c tasks.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := c.Task.ID
	if c.Kind == tasks.ChangeDeleted {
		if err := s.index.Delete(docID(id)); err != nil {
			s.logger.Warn("unindex task failed", map[string]interface{}{"task_id": id, "error": err.Error()})
		}
		return
	}
	cur, err := s.store.Get(id)
	if err != nil {
		s.index.Delete(docID(id))
		return
	}
	if err := s.index.Index(docID(id), document(cur)); err != nil {
		s.logger.Warn("index task failed", map[string]interface{}{"task_id": id, "error": err.Error()})
	}
}

// Search returns the tasks whose title matches q.Text, best match first.
func (s *Index) Search(q Query) ([]*tasks.Task, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, errors.InvalidInput("search text is empty")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	match := bleve.NewMatchQuery(text)
	match.SetField("title")

	boolQuery := bleve.NewBooleanQuery()
	boolQuery.AddMust(match)
	if q.Conversation != nil {
		conv := bleve.NewTermQuery(q.Conversation.String())
		conv.SetField("conversation")
		boolQuery.AddMust(conv)
	}
	if q.ActiveOnly {
		var active []query.Query
		for _, st := range []tasks.Status{tasks.StatusNew, tasks.StatusClaimed} {
			tq := bleve.NewTermQuery(string(st))
			tq.SetField("status")
			active = append(active, tq)
		}
		boolQuery.AddMust(bleve.NewDisjunctionQuery(active...))
	}

	req := bleve.NewSearchRequest(boolQuery)
	req.Size = limit

	s.mu.RLock()
	res, err := s.index.Search(req)
	s.mu.RUnlock()
	if err != nil {
		return nil, errors.Wrap(err, "search failed")
	}

	out := make([]*tasks.Task, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		t, err := s.store.Get(id)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Count returns the number of indexed tasks.
func (s *Index) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.DocCount()
}

// Close releases the index.
func (s *Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}
