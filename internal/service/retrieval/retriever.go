package retrieval

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/handbook-assistant/backend/internal/model/handbook"
)

// DefaultTopK is the number of passages returned when no option overrides it.
const DefaultTopK = 5

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)*`)

// stopwords are dropped from both queries and passages.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"can": {}, "do": {}, "does": {}, "for": {}, "from": {}, "how": {}, "i": {},
	"in": {}, "is": {}, "it": {}, "me": {}, "my": {}, "of": {}, "on": {}, "or": {},
	"the": {}, "to": {}, "we": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"who": {}, "why": {}, "with": {}, "you": {}, "your": {},
}

// Retriever ranks handbook passages by token overlap with the query
// (Ochiai coefficient) and exposes them as eino documents.
type Retriever struct {
	passages []handbook.Passage
	tokens   []map[string]struct{}
	topK     int
}

var _ retriever.Retriever = (*Retriever)(nil)

// NewRetriever indexes every passage in store. topK <= 0 selects DefaultTopK.
func NewRetriever(store handbook.Store, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	passages := store.List()
	tokens := make([]map[string]struct{}, len(passages))
	for i, p := range passages {
		tokens[i] = tokenSet(p.Title + " " + p.Text)
	}
	return &Retriever{passages: passages, tokens: tokens, topK: topK}
}

// Len returns the number of indexed passages.
func (r *Retriever) Len() int {
	return len(r.passages)
}

// Retrieve returns up to TopK passages with a non-zero score, best first.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	topK := r.topK
	options := retriever.GetCommonOptions(&retriever.Options{TopK: &topK}, opts...)
	if options.TopK != nil && *options.TopK > 0 {
		topK = *options.TopK
	}

	query = strings.TrimPrefix(strings.TrimSpace(query), "query: ")
	qset := tokenSet(query)
	if len(qset) == 0 {
		return nil, nil
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, 0, len(r.passages))
	for i, set := range r.tokens {
		if score := ochiai(qset, set); score > 0 {
			ranked = append(ranked, scored{idx: i, score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if options.ScoreThreshold != nil {
		threshold := *options.ScoreThreshold
		kept := ranked[:0]
		for _, item := range ranked {
			if item.score >= threshold {
				kept = append(kept, item)
			}
		}
		ranked = kept
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	docs := make([]*schema.Document, 0, len(ranked))
	for _, item := range ranked {
		p := r.passages[item.idx]
		doc := &schema.Document{
			ID:       p.ID,
			Content:  p.Text,
			MetaData: p.Metadata(),
		}
		docs = append(docs, doc.WithScore(item.score))
	}
	return docs, nil
}

func tokenSet(text string) map[string]struct{} {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := stopwords[w]; skip {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// ochiai computes |A∩B| / sqrt(|A||B|).
func ochiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}
