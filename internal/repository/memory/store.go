// Package memory holds in-process implementations of the engine collaborators.
// They back the engines in tests and in local runs without PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/temcen/homerec/pkg/models"
)

// Store is a catalog, behavior log, preference store, user directory,
// similarity store, recommendation log and job store in one. It is safe for concurrent
// use.
type Store struct {
	mu          sync.RWMutex
	properties  map[int64]models.PropertyRecord
	users       map[int64]struct{}
	views       []models.InteractionRecord
	favorites   map[int64][]int64
	preferences map[int64]models.PreferenceRecord
	edges       map[models.EntityKind]map[[2]int64]models.SimilarityEdge
	audit       []models.RecommendationItem
	jobs        map[uuid.UUID]models.PassJob
	upserts     int
}

func NewStore() *Store {
	return &Store{
		properties:  make(map[int64]models.PropertyRecord),
		users:       make(map[int64]struct{}),
		favorites:   make(map[int64][]int64),
		preferences: make(map[int64]models.PreferenceRecord),
		jobs:        make(map[uuid.UUID]models.PassJob),
		edges: map[models.EntityKind]map[[2]int64]models.SimilarityEdge{
			models.EntityProperty: {},
			models.EntityUser:     {},
		},
	}
}

// AddProperty inserts or replaces a listing.
func (s *Store) AddProperty(p models.PropertyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties[p.ID] = p
}

// AddUser registers user ids.
func (s *Store) AddUser(ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.users[id] = struct{}{}
	}
}

// AddView appends a browsing row. A zero Count is stored as 1.
func (s *Store) AddView(rec models.InteractionRecord) {
	if rec.Count == 0 {
		rec.Count = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = append(s.views, rec)
}

// AddFavorite records that userID favorited propertyID.
func (s *Store) AddFavorite(userID, propertyID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.favorites[userID] = append(s.favorites[userID], propertyID)
}

// SetPreference replaces the latest preference of p.UserID.
func (s *Store) SetPreference(p models.PreferenceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[p.UserID] = p
}

func (s *Store) ListForSale(ctx context.Context) ([]models.PropertyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.PropertyRecord, 0, len(s.properties))
	for _, p := range s.properties {
		if p.IsForSale() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetProperty(ctx context.Context, id int64) (*models.PropertyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.properties[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetProperties(ctx context.Context, ids []int64) ([]models.PropertyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.PropertyRecord, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.properties[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) Interactions(ctx context.Context, since time.Time) ([]models.InteractionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.InteractionRecord, 0, len(s.views))
	for _, v := range s.views {
		if !v.ViewedAt.Before(since) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store) History(ctx context.Context, userID int64) (*models.UserHistory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := &models.UserHistory{UserID: userID}
	for _, v := range s.views {
		if v.UserID == userID {
			h.Views = append(h.Views, v)
		}
	}
	h.Favorites = append(h.Favorites, s.favorites[userID]...)
	return h, nil
}

func (s *Store) RecentViewCounts(ctx context.Context, since time.Time) (map[int64]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[int64]int)
	for _, v := range s.views {
		if !v.ViewedAt.Before(since) {
			counts[v.PropertyID]++
		}
	}
	return counts, nil
}

func (s *Store) Latest(ctx context.Context, userID int64) (*models.PreferenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.preferences[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListLatest(ctx context.Context) ([]models.PreferenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.PreferenceRecord, 0, len(s.preferences))
	for _, p := range s.preferences {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) UserExists(ctx context.Context, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.users[userID]
	return ok, nil
}

// UpsertEdges replaces edges by (kind, id1, id2). The whole batch is applied
// under one lock.
func (s *Store) UpsertEdges(ctx context.Context, edges []models.SimilarityEdge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range edges {
		byKind, ok := s.edges[e.Kind]
		if !ok {
			byKind = make(map[[2]int64]models.SimilarityEdge)
			s.edges[e.Kind] = byKind
		}
		byKind[e.Key()] = e
	}
	s.upserts++
	return nil
}

func (s *Store) Neighbors(ctx context.Context, kind models.EntityKind, id int64, minScore float64, limit int) ([]models.SimilarityEdge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SimilarityEdge, 0)
	for _, e := range s.edges[kind] {
		if (e.ID1 == id || e.ID2 == id) && e.Score > minScore {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Other(id) < out[j].Other(id)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, kind models.EntityKind, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for k, e := range s.edges[kind] {
		if e.ComputedAt.Before(cutoff) {
			delete(s.edges[kind], k)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) AppendRecommendations(ctx context.Context, items []models.RecommendationItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, items...)
	return nil
}

func (s *Store) Save(ctx context.Context, job *models.PassJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = *job
	return nil
}

func (s *Store) Load(ctx context.Context, jobID uuid.UUID) (*models.PassJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", models.ErrNotFound, jobID)
	}
	return &job, nil
}

// Edges returns a snapshot of the stored edges of kind, ordered by key.
func (s *Store) Edges(kind models.EntityKind) []models.SimilarityEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SimilarityEdge, 0, len(s.edges[kind]))
	for _, e := range s.edges[kind] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID1 != out[j].ID1 {
			return out[i].ID1 < out[j].ID1
		}
		return out[i].ID2 < out[j].ID2
	})
	return out
}

// Edge returns the stored edge between a and b in either order.
func (s *Store) Edge(kind models.EntityKind, a, b int64) (models.SimilarityEdge, bool) {
	if a > b {
		a, b = b, a
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.edges[kind][[2]int64{a, b}]
	return e, ok
}

// Recommendations returns the audit rows of a user in append order.
func (s *Store) Recommendations(userID int64) []models.RecommendationItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.RecommendationItem, 0)
	for _, it := range s.audit {
		if it.UserID == userID {
			out = append(out, it)
		}
	}
	return out
}

// UpsertCalls is the number of successful UpsertEdges calls.
func (s *Store) UpsertCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserts
}
