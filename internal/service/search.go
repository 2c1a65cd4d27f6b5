package service

import (
	"math"
	"sort"
	"strings"

	"github.com/cloo-solutions/kbrag/internal/domain"
	"github.com/cloo-solutions/kbrag/internal/vectorstore"
)

const (
	DefaultResultCount = 6

	titleExactBoost = 0.4
	identifierBoost = 0.25
)

// SearchInput is a similarity query. A nil Class searches every class.
type SearchInput struct {
	Query string
	K     int
	Class *domain.Class
}

// CosineSimilarity is computed in float64. A zero vector or a length mismatch
// scores 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na2, nb2 float64
	for i := range a {
		va := float64(a[i])
		vb := float64(b[i])
		dot += va * vb
		na2 += va * va
		nb2 += vb * vb
	}
	if na2 == 0 || nb2 == 0 {
		return 0
	}
	return dot / (math.Sqrt(na2) * math.Sqrt(nb2))
}

// lexicalBoost rewards an exact title match and any identifier quoted in the
// query.
func lexicalBoost(r domain.ChunkRecord, query string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	boost := 0.0
	if strings.ToLower(strings.TrimSpace(r.Title)) == q {
		boost += titleExactBoost
	}
	for _, id := range r.Identifiers {
		idn := strings.ToLower(strings.TrimSpace(id))
		if idn != "" && strings.Contains(q, idn) {
			boost += identifierBoost
			break
		}
	}
	return boost
}

// rankRows scores the candidate rows against the query vector and returns the
// best k. Ties keep row order.
func rankRows(snap *vectorstore.Snapshot, rows []int, queryVec []float32, query string, k int) []domain.ScoredResult {
	scored := make([]domain.ScoredResult, 0, len(rows))
	for _, row := range rows {
		record := snap.Record(row)
		score := CosineSimilarity(queryVec, snap.Vector(row)) + lexicalBoost(record, query)
		scored = append(scored, domain.ScoredResult{Record: record, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

func sortedUniqueTitles(snap *vectorstore.Snapshot, rows []int) []string {
	seen := make(map[string]struct{}, len(rows))
	titles := make([]string, 0, len(rows))
	for _, row := range rows {
		title := snap.Record(row).Title
		if _, ok := seen[title]; ok {
			continue
		}
		seen[title] = struct{}{}
		titles = append(titles, title)
	}
	sort.Strings(titles)
	return titles
}
