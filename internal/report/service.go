package report

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/Adam5421/SmartAIExam/internal/db"
	"github.com/Adam5421/SmartAIExam/internal/logger"
	"github.com/Adam5421/SmartAIExam/internal/question"
)

const (
	minDifficulty = 1
	maxDifficulty = 5
)

type Bucket struct {
	Type       string `json:"type"`
	Difficulty int    `json:"difficulty"`
	Count      int    `json:"count"`
}

// Availability is the published supply per (type, difficulty). Every pair is
// present, zero counts included, so empty buckets are visible to rule authors.
type Availability struct {
	Tags    []string       `json:"tags"`
	Total   int            `json:"total"`
	ByType  map[string]int `json:"by_type"`
	Buckets []Bucket       `json:"buckets"`
}

type Service struct {
	db    *sql.DB
	retry db.Retrier
	log   *logger.Logger
}

func NewService(sqlDB *sql.DB, retry db.Retrier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{db: sqlDB, retry: retry, log: log.With("component", "report")}
}

// Availability counts published questions carrying any of tags (all when empty).
func (s *Service) Availability(ctx context.Context, tags []string) (*Availability, error) {
	tags = cleanTags(tags)
	var counts []Bucket
	err := s.retry.Do(ctx, "availability report", func(ctx context.Context) error {
		query := `SELECT q_type, difficulty, count(*) FROM questions WHERE status = $1`
		args := []any{question.StatusPublished}
		if len(tags) > 0 {
			query += ` AND tags ?| $2::text[]`
			args = append(args, tags)
		}
		query += ` GROUP BY q_type, difficulty`

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query availability: %w", err)
		}
		defer rows.Close()
		counts = counts[:0]
		for rows.Next() {
			var b Bucket
			if err := rows.Scan(&b.Type, &b.Difficulty, &b.Count); err != nil {
				return fmt.Errorf("scan availability: %w", err)
			}
			counts = append(counts, b)
		}
		return rows.Err()
	})
	if err != nil {
		s.log.Error("availability report failed", "tags", tags, "error", err)
		return nil, err
	}
	return tabulate(tags, counts), nil
}

// tabulate expands grouped counts into the full type by difficulty grid in paper order.
func tabulate(tags []string, counts []Bucket) *Availability {
	index := make(map[string]int, len(counts))
	for _, c := range counts {
		index[c.Type+"/"+fmt.Sprint(c.Difficulty)] += c.Count
	}
	out := &Availability{
		Tags:    tags,
		ByType:  make(map[string]int, len(question.Types)),
		Buckets: make([]Bucket, 0, len(question.Types)*maxDifficulty),
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	for _, t := range question.Types {
		out.ByType[t] = 0
		for d := minDifficulty; d <= maxDifficulty; d++ {
			n := index[t+"/"+fmt.Sprint(d)]
			out.Buckets = append(out.Buckets, Bucket{Type: t, Difficulty: d, Count: n})
			out.ByType[t] += n
			out.Total += n
		}
	}
	return out
}

func cleanTags(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
