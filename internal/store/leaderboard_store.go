package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DefaultLeaderboardScoreK is the checkpoint-index multiplier: large enough
// that any plausible cumulative time fits inside one checkpoint-index
// bucket, so a participant who has reached a further checkpoint always
// outranks one who hasn't, regardless of either's time.
const DefaultLeaderboardScoreK = 360000

// DefaultLeaderboardTTL is how long a leaderboard entry survives without a
// refreshing write.
const DefaultLeaderboardTTL = 7 * 24 * time.Hour

// LeaderboardEntry is one ranked participant.
type LeaderboardEntry struct {
	UserID int64
	Score  int64
}

// UpdateLeaderboard overwrites userId's score for (eventID, eventDetailID)
// with score = cpIndex*k + cumulativeTimeSec, and refreshes the entry's TTL
// to ttl (DefaultLeaderboardTTL if zero). Writes are commutative-idempotent
// across participants: no cross-participant ordering is required beyond
// eventual convergence.
func (s *Store) UpdateLeaderboard(ctx context.Context, eventID, eventDetailID, userID, cpIndex int64, cumulativeTimeSec float64, k int64, ttl time.Duration) error {
	if k <= 0 {
		k = DefaultLeaderboardScoreK
	}
	if ttl <= 0 {
		ttl = DefaultLeaderboardTTL
	}
	score := cpIndex*k + int64(cumulativeTimeSec)
	now := s.now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leaderboard (event_id, event_detail_id, user_id, checkpoint_index,
			cumulative_duration_seconds, score, updated_unix, expires_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_detail_id, user_id) DO UPDATE SET
			checkpoint_index = excluded.checkpoint_index,
			cumulative_duration_seconds = excluded.cumulative_duration_seconds,
			score = excluded.score,
			updated_unix = excluded.updated_unix,
			expires_unix = excluded.expires_unix
	`, eventID, eventDetailID, userID, cpIndex, cumulativeTimeSec, score, now, now+int64(ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("store: update leaderboard: %w", err)
	}
	return nil
}

// TopN returns the n best-ranked (lowest-score) participants for
// (eventDetailID), ascending by score.
func (s *Store) TopN(ctx context.Context, eventDetailID int64, n int) ([]LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, score FROM leaderboard
		WHERE event_detail_id = ? AND expires_unix > ?
		ORDER BY score ASC
		LIMIT ?
	`, eventDetailID, s.now(), n)
	if err != nil {
		return nil, fmt.Errorf("store: top n: %w", err)
	}
	defer rows.Close()

	var out []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Score); err != nil {
			return nil, fmt.Errorf("store: scan leaderboard entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Rank returns userId's 1-based rank within (eventDetailID): 1 plus the
// number of participants with a strictly lower score. ok is false if the
// participant has no leaderboard entry.
func (s *Store) Rank(ctx context.Context, eventDetailID, userID int64) (rank int, ok bool, err error) {
	var score int64
	now := s.now()
	err = s.db.QueryRowContext(ctx, `
		SELECT score FROM leaderboard WHERE event_detail_id = ? AND user_id = ? AND expires_unix > ?
	`, eventDetailID, userID, now).Scan(&score)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("store: rank lookup score: %w", err)
	}

	var better int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM leaderboard
		WHERE event_detail_id = ? AND score < ? AND expires_unix > ?
	`, eventDetailID, score, now).Scan(&better)
	if err != nil {
		return 0, false, fmt.Errorf("store: rank count: %w", err)
	}
	return better + 1, true, nil
}
