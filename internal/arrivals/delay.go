package arrivals

import (
	"math"
	"math/big"
)

var (
	nanosPerSecond = big.NewInt(1e9)
	nanosPerMinute = big.NewInt(60e9)
	maxDelay       = big.NewInt(math.MaxInt64)
	minDelay       = big.NewInt(math.MinInt64)
)

// ComputeDelay compares how far the countdown fell between the prior observation and c
// with the real time that passed between them:
//
//	round((prior.PredictedMinutes - c.PredictedMinutes) - elapsedMinutes)
//
// Zero means on schedule. A negative value means the countdown fell slower than the
// clock (the vehicle lost time); a positive value means it fell faster.
// Ties round half to even. The arithmetic is exact over the whole int64 range and a
// result outside it saturates. A nil prior yields nil. Candidates observed before the
// prior are not rejected.
func ComputeDelay(c Candidate, prior *StoredArrival) *int64 {
	if prior == nil {
		return nil
	}

	// num = drop*60s - elapsed, in nanoseconds
	num := new(big.Int).Sub(big.NewInt(prior.PredictedMinutes), big.NewInt(c.PredictedMinutes))
	num.Mul(num, nanosPerMinute)
	num.Sub(num, elapsedNanos(prior, c))

	delay := saturate(roundHalfEven(num, nanosPerMinute))
	return &delay
}

func elapsedNanos(prior *StoredArrival, c Candidate) *big.Int {
	secs := new(big.Int).Sub(big.NewInt(c.ObservedAt.Unix()), big.NewInt(prior.ObservedAt.Unix()))
	secs.Mul(secs, nanosPerSecond)
	return secs.Add(secs, big.NewInt(int64(c.ObservedAt.Nanosecond())-int64(prior.ObservedAt.Nanosecond())))
}

// roundHalfEven returns num/d rounded to the nearest integer, ties to even. d must be positive.
func roundHalfEven(num, d *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, d, new(big.Int))

	twiceRem := new(big.Int).Abs(r)
	twiceRem.Lsh(twiceRem, 1)

	switch cmp := twiceRem.Cmp(d); {
	case cmp > 0, cmp == 0 && q.Bit(0) == 1:
		if num.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	return q
}

func saturate(v *big.Int) int64 {
	if v.Cmp(maxDelay) > 0 {
		return math.MaxInt64
	}
	if v.Cmp(minDelay) < 0 {
		return math.MinInt64
	}
	return v.Int64()
}

// Correlate builds the row to persist for c given its prior, if any
func Correlate(c Candidate, prior *StoredArrival) StoredArrival {
	return StoredArrival{
		ObservedAt:       c.ObservedAt,
		StopID:           c.StopID,
		RouteID:          c.RouteID,
		VehicleID:        c.VehicleID,
		PredictedMinutes: c.PredictedMinutes,
		DelayMinutes:     ComputeDelay(c, prior),
	}
}
