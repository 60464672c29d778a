package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streamsight/streamsight/internal/models"
)

// InsertResult stores one per-frame detection result.
func (d *Database) InsertResult(ctx context.Context, serviceID string, r models.DetectionResult) error {
	detections, err := json.Marshal(r.Detections)
	if err != nil {
		return err
	}

	_, err = d.DB.ExecContext(ctx,
		`INSERT INTO detection_results (service_id, frame_seq, frame_timestamp, track_count, detections)
			VALUES ($1, $2, $3, $4, $5)`,
		serviceID,
		r.Seq,
		r.Timestamp,
		r.TrackCount,
		detections,
	)
	if err != nil {
		return fmt.Errorf("insert detection result: %w", err)
	}
	return nil
}

// ResultsSince returns stored results for a service with frame_seq above
// sinceSeq, oldest first.
func (d *Database) ResultsSince(ctx context.Context, serviceID string, sinceSeq uint64, limit int) ([]models.DetectionResult, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT frame_seq, frame_timestamp, track_count, detections
		FROM detection_results
		WHERE service_id = $1 AND frame_seq > $2
		ORDER BY frame_seq
		LIMIT $3
	`, serviceID, sinceSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.DetectionResult
	for rows.Next() {
		var r models.DetectionResult
		var detections []byte
		if err := rows.Scan(&r.Seq, &r.Timestamp, &r.TrackCount, &detections); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(detections, &r.Detections); err != nil {
			return nil, err
		}
		counts := make(map[string]int, len(r.Detections))
		for _, det := range r.Detections {
			counts[det.Class]++
		}
		r.ClassCounts = counts
		results = append(results, r)
	}

	return results, rows.Err()
}

// Sink adapts the database into a result sink.
type Sink struct {
	db *Database
}

func NewSink(db *Database) *Sink {
	return &Sink{db: db}
}

func (s *Sink) Name() string { return "postgres" }

func (s *Sink) Publish(ctx context.Context, serviceID string, result models.DetectionResult) error {
	return s.db.InsertResult(ctx, serviceID, result)
}
