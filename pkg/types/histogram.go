package types

// SlotRange returns the inclusive value range covered by log2 slot i.
// Slot 0 also holds the value 0.
func SlotRange(i int) (low, high uint64) {
	if i == 0 {
		return 0, 1
	}
	return uint64(1) << uint(i), (uint64(1) << uint(i+1)) - 1
}

// Percentiles estimates p50, p95 and p99 from log2 slots using the midpoint of
// the slot that crosses each rank.
func Percentiles(slots []uint64) (p50, p95, p99 uint64) {
	var total uint64
	for _, s := range slots {
		total += s
	}
	if total == 0 {
		return 0, 0, 0
	}

	targets := [3]uint64{
		(total + 1) / 2,
		total*95/100 + 1,
		total*99/100 + 1,
	}
	for i := range targets {
		if targets[i] > total {
			targets[i] = total
		}
	}

	var results [3]uint64
	var cumul uint64
	found := 0
	for i, count := range slots {
		cumul += count
		for found < 3 && cumul >= targets[found] {
			low, high := SlotRange(i)
			results[found] = (low + high) / 2
			found++
		}
		if found >= 3 {
			break
		}
	}
	return results[0], results[1], results[2]
}
