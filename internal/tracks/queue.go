package tracks

// Queue is an immutable, ordered playback queue with lookups by track id and
// by anchor id.
type Queue struct {
	tracks     []Track
	byID       map[string]int
	byProgress map[string]int
}

// NewQueue wraps already ordered tracks. The slice is copied.
func NewQueue(list []Track) *Queue {
	q := &Queue{
		tracks:     make([]Track, len(list)),
		byID:       make(map[string]int, len(list)),
		byProgress: make(map[string]int, len(list)),
	}
	copy(q.tracks, list)
	for i, t := range q.tracks {
		q.byID[t.ID] = i
		if _, ok := q.byProgress[t.ProgressID]; !ok {
			q.byProgress[t.ProgressID] = i
		}
	}
	return q
}

// Len returns the number of tracks. A nil queue is empty.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.tracks)
}

// At returns the track at position i.
func (q *Queue) At(i int) (Track, bool) {
	if q == nil || i < 0 || i >= len(q.tracks) {
		return Track{}, false
	}
	return q.tracks[i], true
}

// Tracks returns a copy of the queue's tracks in playback order.
func (q *Queue) Tracks() []Track {
	if q == nil {
		return nil
	}
	out := make([]Track, len(q.tracks))
	copy(out, q.tracks)
	return out
}

// Index returns the queue position of a track id, or -1.
func (q *Queue) Index(id string) int {
	if q == nil {
		return -1
	}
	if i, ok := q.byID[id]; ok {
		return i
	}
	return -1
}

// Get looks a track up by id.
func (q *Queue) Get(id string) (Track, bool) {
	return q.At(q.Index(id))
}

// ByProgressID looks a track up by the anchor it narrates.
func (q *Queue) ByProgressID(progressID string) (Track, bool) {
	if q == nil {
		return Track{}, false
	}
	i, ok := q.byProgress[progressID]
	if !ok {
		return Track{}, false
	}
	return q.tracks[i], true
}

// Next returns the track after id.
func (q *Queue) Next(id string) (Track, bool) {
	i := q.Index(id)
	if i < 0 {
		return Track{}, false
	}
	return q.At(i + 1)
}

// Previous returns the track before id.
func (q *Queue) Previous(id string) (Track, bool) {
	i := q.Index(id)
	if i < 0 {
		return Track{}, false
	}
	return q.At(i - 1)
}
