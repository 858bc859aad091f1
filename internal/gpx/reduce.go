package gpx

// ReduceCoordinates keeps every other point starting at index 0, halving
// storage while preserving enough shape for map rendering.
func ReduceCoordinates(coords [][2]float64) [][2]float64 {
	if len(coords) == 0 {
		return nil
	}
	reduced := make([][2]float64, 0, (len(coords)+1)/2)
	for i := 0; i < len(coords); i += 2 {
		reduced = append(reduced, coords[i])
	}
	return reduced
}

// ReduceSpeeds averages consecutive speed pairs and truncates the result so
// that len(speeds) == len(coords) - 1 still holds on the reduced sequences.
func ReduceSpeeds(speeds []float64, reducedCoordsLen int) []float64 {
	if len(speeds) == 0 {
		return nil
	}
	reduced := make([]float64, 0, len(speeds)/2)
	for i := 0; i+1 < len(speeds); i += 2 {
		reduced = append(reduced, (speeds[i]+speeds[i+1])/2)
	}
	if limit := reducedCoordsLen - 1; limit >= 0 && len(reduced) > limit {
		reduced = reduced[:limit]
	}
	return reduced
}
