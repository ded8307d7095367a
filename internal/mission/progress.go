package mission

import (
	"math"

	"agrosentry/internal/domain"
)

// UpdateProgress refreshes the distance and ETA to the cursor waypoint.
// Both are cleared when the position or the waypoint is unknown.
func (q *Queue) UpdateProgress(pos *domain.Position, speedMPS float64) {
	if q.current == nil {
		return
	}
	q.current.DistanceToNextMeters = nil
	q.current.ETASeconds = nil
	wp, ok := q.current.Current()
	if !ok || pos == nil || domain.IsTerminalMission(q.current.Status) {
		return
	}
	dist := HaversineMeters(pos.Lat, pos.Lng, wp.Lat, wp.Lng)
	q.current.DistanceToNextMeters = &dist
	if speedMPS > 0 {
		seconds := int64(dist / speedMPS)
		if seconds < 0 {
			seconds = 0
		}
		q.current.ETASeconds = &seconds
	}
}

func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadius = 6371000.0
	phi1 := degreesToRadians(lat1)
	phi2 := degreesToRadians(lat2)
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)

	h := sinLat*sinLat + math.Cos(phi1)*math.Cos(phi2)*sinLng*sinLng
	return 2 * earthRadius * math.Asin(math.Sqrt(h))
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
